package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher ships audit events to the security topic consumed by the
// municipal SIEM pipeline. Emission is asynchronous through a bounded inbox;
// when the inbox is full the event is dropped and logged rather than blocking
// an admission decision.
type KafkaPublisher struct {
	client    *kgo.Client
	topic     string
	logger    *slog.Logger
	inbox     chan Event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

const (
	inboxSize    = 1024
	flushTimeout = 5 * time.Second
)

// NewKafkaPublisher connects to the given seed brokers and starts the drain
// worker. Close must be called to flush on shutdown.
func NewKafkaPublisher(seeds []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka audit client: %w", err)
	}

	p := &KafkaPublisher{
		client: client,
		topic:  topic,
		logger: logger,
		inbox:  make(chan Event, inboxSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *KafkaPublisher) Emit(ctx context.Context, event Event) {
	event = enrich(ctx, event)
	// The inbox is never closed, so this cannot panic even if Emit races
	// with Close; at worst a late event is dropped.
	select {
	case <-p.quit:
		p.logger.Warn("audit publisher closed, event dropped",
			"event", string(event.Type),
			"municipality_id", event.MunicipalityID,
		)
	case p.inbox <- event:
	default:
		p.logger.Warn("audit inbox full, event dropped",
			"event", string(event.Type),
			"municipality_id", event.MunicipalityID,
		)
	}
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for {
		select {
		case event := <-p.inbox:
			p.produce(event)
		case <-p.quit:
			for {
				select {
				case event := <-p.inbox:
					p.produce(event)
				default:
					return
				}
			}
		}
	}
}

func (p *KafkaPublisher) produce(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("audit event marshal failed", "event", string(event.Type), "error", err)
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.MunicipalityID),
		Value: payload,
	}
	p.client.Produce(context.Background(), record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("audit event publish failed", "event", string(event.Type), "error", err)
		}
	})
}

// Close drains the inbox, flushes in-flight produces and closes the client.
// Safe to call more than once; Emit after Close drops the event.
func (p *KafkaPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.quit)
		<-p.done
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		err = p.client.Flush(ctx)
		p.client.Close()
	})
	return err
}
