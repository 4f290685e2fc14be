package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/kafka"
)

// Publisher is the producer side the collector writes to.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// drainTimeout bounds the final batch write on shutdown.
const drainTimeout = 5 * time.Second

// Collector buffers search events and publishes them from a background
// goroutine so the request path never waits on Kafka.
type Collector struct {
	producer Publisher
	eventCh  chan SearchEvent
	logger   *slog.Logger
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewCollector(producer Publisher, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan SearchEvent, bufferSize),
		logger:   slog.Default().With("component", "analytics-collector"),
		done:     make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Track queues event for publishing. A full buffer drops the event.
// Track enqueues an event without blocking. Events tracked after Close are
// dropped.
func (c *Collector) Track(event SearchEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.logger.Warn("analytics event dropped (collector closed)", "status", event.Status)
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)", "status", event.Status)
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event SearchEvent) {
	if err := c.producer.Publish(ctx, toKafka(event)); err != nil {
		c.logger.Error("failed to publish search event", "error", err)
	}
}

// drainRemaining writes whatever is still buffered in one batch.
func (c *Collector) drainRemaining() {
	var pending []kafka.Event
loop:
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				break loop
			}
			pending = append(pending, toKafka(event))
		default:
			break loop
		}
	}
	if len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := c.producer.PublishBatch(ctx, pending); err != nil {
		c.logger.Error("failed to publish remaining search events", "count", len(pending), "error", err)
	}
}

// toKafka keys events by user so one user's searches stay ordered.
func toKafka(event SearchEvent) kafka.Event {
	key := event.UserID
	if key == "" {
		key = "anonymous"
	}
	return kafka.Event{Key: key, Type: EventType, Value: event}
}
