// Package whatsapp implements the Graph API client for the WhatsApp Cloud
// channel: message delivery, media metadata resolution, authenticated media
// download, and native media upload.
//
// Every call is context-aware and bounded by the client's HTTP timeout;
// callers treat any error as a definitive failure and degrade (the relay
// never retries the same payload).
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-whatsapp-connector/internal/config"
	"github.com/tbourn/go-whatsapp-connector/internal/domain"
)

// maxMediaBytes caps media downloads; the Cloud API itself limits media to
// 100 MB for documents and far less for other types.
const maxMediaBytes = 100 << 20

// Client talks to the Graph API for one WhatsApp phone number.
type Client struct {
	apiURL        string
	apiVersion    string
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
}

// NewClient builds a Graph API client from configuration. The injected
// http.Client carries the outbound timeout policy.
func NewClient(cfg config.WhatsAppConfig, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		apiURL:        cfg.APIURL,
		apiVersion:    cfg.APIVersion,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		httpClient:    hc,
	}
}

// sendResponse is the Graph reply to a messages POST.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// mediaMetaResponse is the Graph reply to a media-id lookup.
type mediaMetaResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// mediaUploadResponse is the Graph reply to a native media upload.
type mediaUploadResponse struct {
	ID string `json:"id"`
}

// Send POSTs one composed payload to the messages endpoint and returns the
// remote message id, which doubles as the delivery acknowledgment.
func (c *Client) Send(ctx context.Context, payload domain.SendPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal send payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", c.apiURL, c.apiVersion, c.phoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("send message: graph status %d: %s", resp.StatusCode, detail)
	}

	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		// Delivery succeeded; a missing id only weakens the ack log line.
		log.Warn().Err(err).Msg("send response decode failed")
		return "", nil
	}
	if len(sr.Messages) == 0 {
		return "", nil
	}
	return sr.Messages[0].ID, nil
}

// MediaURL resolves a WhatsApp media id to its temporary download URL.
func (c *Client) MediaURL(ctx context.Context, mediaID string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s", c.apiURL, c.apiVersion, mediaID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("media lookup %s: %w", mediaID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media lookup %s: graph status %d", mediaID, resp.StatusCode)
	}

	var meta mediaMetaResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("media lookup %s: decode: %w", mediaID, err)
	}
	if meta.URL == "" {
		return "", fmt.Errorf("media lookup %s: no url in response", mediaID)
	}
	return meta.URL, nil
}

// DownloadMedia fetches a media binary from the temporary URL returned by
// MediaURL, authenticating with the channel access token. It returns the
// bytes and the Content-Type reported by the server (may be empty).
func (c *Client) DownloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	return c.get(ctx, url, true)
}

// Fetch retrieves a binary from an arbitrary (bot-supplied) URL without
// credentials. Used by the outbound native-upload path.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return c.get(ctx, url, false)
}

func (c *Client) get(ctx context.Context, url string, authenticated bool) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("download: read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// UploadMedia pushes a binary into the channel's own media store and
// returns the native media id.
func (c *Client) UploadMedia(ctx context.Context, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url := fmt.Sprintf("%s/%s/%s/media", c.apiURL, c.apiVersion, c.phoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("media upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("media upload: graph status %d", resp.StatusCode)
	}

	var ur mediaUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", fmt.Errorf("media upload: decode: %w", err)
	}
	if ur.ID == "" {
		return "", fmt.Errorf("media upload: no id in response")
	}
	return ur.ID, nil
}
