// Serialized outbound delivery.
//
// The channel API accepts one message at a time per relay: the next send
// must wait for the previous delivery acknowledgment. The queue is an
// explicit two-state machine (Idle, Sending) over a FIFO owned by a single
// worker goroutine; only the head is ever in flight, and the queue advances
// on acknowledgment or on definitive failure. A failed item is logged and
// dropped, never retried automatically — redelivering conversational
// messages out of order is worse than losing one.
//
// Throughput is deliberately bounded by round-trip latency to the channel
// API; that is acceptable at conversational cadence and keeps delivery
// order deterministic.
package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-whatsapp-connector/internal/domain"
)

// QueueState is the delivery state machine: Idle or Sending.
type QueueState int

const (
	StateIdle QueueState = iota
	StateSending
)

// ChannelSender transmits one composed payload and returns the remote
// message id as the delivery acknowledgment. Implemented by
// whatsapp.Client.
type ChannelSender interface {
	Send(ctx context.Context, payload domain.SendPayload) (string, error)
}

// DeliveryQueue serializes sends to the channel API. Safe for concurrent
// Enqueue; exactly one item is in flight at any time.
type DeliveryQueue struct {
	sender ChannelSender

	mu     sync.Mutex
	items  []domain.SendPayload
	state  QueueState
	closed bool

	wake chan struct{}
	done chan struct{}
}

// NewDeliveryQueue builds a queue delivering through sender. Call Start
// before enqueuing.
func NewDeliveryQueue(sender ChannelSender) *DeliveryQueue {
	return &DeliveryQueue{
		sender: sender,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the worker goroutine. The queue drains until ctx is
// cancelled; after that Enqueue fails with ErrQueueClosed.
func (q *DeliveryQueue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Done is closed once the worker has exited.
func (q *DeliveryQueue) Done() <-chan struct{} { return q.done }

// Enqueue appends a payload for transmission. It never interrupts the
// in-flight send; the item waits its turn in arrival order.
func (q *DeliveryQueue) Enqueue(payload domain.SendPayload) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, payload)
	queueDepth.Set(float64(len(q.items)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default: // worker already has a pending wakeup
	}
	return nil
}

// Len returns the number of queued payloads, the in-flight head included.
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// State returns the current delivery state.
func (q *DeliveryQueue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *DeliveryQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.closed = true
			dropped := len(q.items)
			q.items = nil
			queueDepth.Set(0)
			q.mu.Unlock()
			if dropped > 0 {
				log.Warn().Int("dropped", dropped).Msg("delivery queue shut down with pending items")
			}
			return
		case <-q.wake:
		}

		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.state = StateIdle
				q.mu.Unlock()
				break
			}
			head := q.items[0]
			q.state = StateSending
			q.mu.Unlock()

			messageID, err := q.sender.Send(ctx, head)
			q.acknowledge(head, messageID, err)

			if ctx.Err() != nil {
				break
			}
		}
	}
}

// acknowledge completes the in-flight item: the head is removed and the
// state returns to Idle whether the send was accepted or definitively
// failed, so one bad item never wedges the queue.
func (q *DeliveryQueue) acknowledge(item domain.SendPayload, messageID string, err error) {
	if err != nil {
		outboundSends.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("to", item.To).Str("type", item.Type).Msg("channel send failed, advancing queue")
	} else {
		outboundSends.WithLabelValues("ok").Inc()
		log.Info().Str("to", item.To).Str("message_id", messageID).Msg("message delivered")
	}

	q.mu.Lock()
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	queueDepth.Set(float64(len(q.items)))
	q.state = StateIdle
	q.mu.Unlock()
}
