package kafka

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/giftwell/giftwell/services/reserve/internal/domain"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Producer publishes lease lifecycle events asynchronously. Publishing is
// fire-and-forget: the request path only drops a message on a buffered
// channel and a single goroutine drains it to the broker.
type Producer struct {
	w        *kafka.Writer
	logger   *log.Logger
	producer string
	inbox    chan kafka.Message
	done     chan struct{}
}

func NewProducer(brokers []string, producerName string, logger *log.Logger) *Producer {
	if logger == nil {
		logger = log.Default()
	}
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        domain.TopicLeaseLifecycle,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		logger:   logger,
		producer: producerName,
		inbox:    make(chan kafka.Message, 256),
		done:     make(chan struct{}),
	}
}

// Start runs the drain loop until the context is cancelled, then flushes
// whatever is still buffered before closing the writer.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						_ = p.w.Close()
						return
					}
				}
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

// WaitClosed blocks until the drain loop has flushed and exited.
func (p *Producer) WaitClosed() {
	<-p.done
}

// PublishLeaseEvent implements app.EventPublisher. A full inbox drops the
// event rather than stalling a lease mutation.
func (p *Producer) PublishLeaseEvent(eventType string, lease domain.Lease) {
	payload, err := json.Marshal(domain.LeaseEventPayload{
		LeaseID:      lease.ID,
		ResourceKind: string(lease.Resource.Kind),
		ResourceID:   lease.Resource.ID,
		HolderID:     lease.HolderID,
		State:        string(lease.State),
		ExpiresAt:    lease.ExpiresAt,
	})
	if err != nil {
		p.logger.Printf("kafka: marshal payload: %v", err)
		return
	}

	value, err := json.Marshal(domain.Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     p.producer,
		Payload:      payload,
	})
	if err != nil {
		p.logger.Printf("kafka: marshal envelope: %v", err)
		return
	}

	msg := kafka.Message{
		Key:   domain.PartitionKey(lease.Resource),
		Value: value,
		Time:  time.Now(),
	}
	select {
	case p.inbox <- msg:
	default:
		p.logger.Printf("kafka: inbox full, dropping %s for lease %s", eventType, lease.ID)
	}
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.logger.Printf("kafka: write message: %v", err)
	}
}
