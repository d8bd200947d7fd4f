package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memefeed/engine/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ChangeMessage is the payload published for every applied change.
type ChangeMessage struct {
	Type    string             `json:"type"` // "snapshot" or "update"
	Version uint64             `json:"version"`
	Size    int                `json:"size"`
	Token   *store.TokenRecord `json:"token,omitempty"`
}

const (
	DefaultPublishQueue   = 1024
	DefaultPublishTimeout = 2 * time.Second
)

// DropCounter is told about every change message that was not published.
type DropCounter interface {
	RecordPublishDropped()
}

// Publisher publishes collection changes to Redis channels. HandleChange
// only queues; Run does the network calls.
type Publisher struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	counter DropCounter
	log     logrus.FieldLogger
	queue   chan store.Change
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithQueueSize sets how many changes may wait for Run.
func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan store.Change, n)
		}
	}
}

// WithPublishTimeout bounds each pipeline call.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDropCounter reports dropped messages to c.
func WithDropCounter(c DropCounter) PublisherOption {
	return func(p *Publisher) {
		p.counter = c
	}
}

// NewPublisher creates a Publisher on channel.
func NewPublisher(client *redis.Client, channel string, log logrus.FieldLogger, opts ...PublisherOption) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Publisher{
		client:  client,
		channel: channel,
		timeout: DefaultPublishTimeout,
		log:     log,
		queue:   make(chan store.Change, DefaultPublishQueue),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TokenChannel is the per-token channel for id.
func (p *Publisher) TokenChannel(id string) string {
	return fmt.Sprintf("%s:%s", p.channel, id)
}

// Publish sends ch to the feed channel and, for updates, to the token's own
// channel in one pipeline.
func (p *Publisher) Publish(ctx context.Context, ch store.Change) error {
	msg := ChangeMessage{Version: ch.Version, Size: ch.Size}
	channels := []string{p.channel}

	switch ch.Kind {
	case store.ChangeSnapshot:
		msg.Type = "snapshot"
	case store.ChangeUpdate:
		msg.Type = "update"
		after := ch.After
		msg.Token = &after
		channels = append(channels, p.TokenChannel(after.ID))
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}

	pipe := p.client.Pipeline()
	for _, channel := range channels {
		pipe.Publish(ctx, channel, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Name identifies the publisher as a change sink.
func (p *Publisher) Name() string { return "redis" }

// HandleChange queues ch for Run. A full queue drops the message.
func (p *Publisher) HandleChange(_ context.Context, ch store.Change) {
	select {
	case p.queue <- ch:
	default:
		p.dropped()
		p.log.WithField("version", ch.Version).Warn("redis_publish_queue_full")
	}
}

// Run publishes queued changes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch := <-p.queue:
			pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
			err := p.Publish(pubCtx, ch)
			cancel()
			if err != nil {
				p.dropped()
				p.log.WithError(err).WithField("version", ch.Version).Warn("redis_publish_failed")
			}
		}
	}
}

func (p *Publisher) dropped() {
	if p.counter != nil {
		p.counter.RecordPublishDropped()
	}
}
