package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/executor"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultChannel   = "animagen:runs"
	DefaultKeyPrefix = "animagen:run:"
	DefaultStatusTTL = 24 * time.Hour
)

// StatusEvent is the message published on every transition.
type StatusEvent struct {
	RunID        string    `json:"runId"`
	Status       string    `json:"status"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	OutputURL    string    `json:"outputUrl,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Client is the subset of go-redis used by the publisher.
type Client interface {
	TxPipeline() goredis.Pipeliner
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
}

// StatusPublisher mirrors run status into a hash per run and announces every
// transition on a channel. It implements executor.StatusSink.
type StatusPublisher struct {
	client    Client
	channel   string
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

var _ executor.StatusSink = (*StatusPublisher)(nil)

type Option func(*StatusPublisher)

func WithChannel(channel string) Option {
	return func(p *StatusPublisher) {
		if channel != "" {
			p.channel = channel
		}
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(p *StatusPublisher) {
		if prefix != "" {
			p.keyPrefix = prefix
		}
	}
}

// WithTTL sets how long status hashes live. Zero keeps the default.
func WithTTL(ttl time.Duration) Option {
	return func(p *StatusPublisher) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

func NewStatusPublisher(client Client, opts ...Option) *StatusPublisher {
	p := &StatusPublisher{
		client:    client,
		channel:   DefaultChannel,
		keyPrefix: DefaultKeyPrefix,
		ttl:       DefaultStatusTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *StatusPublisher) key(runID core.ID) string {
	return p.keyPrefix + runID.String()
}

func (p *StatusPublisher) publish(ctx context.Context, ev StatusEvent) error {
	ev.UpdatedAt = p.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding status event: %w", err)
	}
	key := p.key(core.ID(ev.RunID))
	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", ev.Status,
		"error_code", ev.ErrorCode,
		"error_message", ev.ErrorMessage,
		"output_url", ev.OutputURL,
		"updated_at", ev.UpdatedAt.Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, p.ttl)
	pipe.Publish(ctx, p.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing status of run %s: %w", ev.RunID, err)
	}
	return nil
}

func (p *StatusPublisher) MarkProcessing(ctx context.Context, runID core.ID) error {
	return p.publish(ctx, StatusEvent{RunID: runID.String(), Status: executor.StatusProcessing.String()})
}

func (p *StatusPublisher) MarkCompleted(ctx context.Context, runID core.ID, c executor.Completion) error {
	return p.publish(ctx, StatusEvent{
		RunID:     runID.String(),
		Status:    executor.StatusCompleted.String(),
		OutputURL: c.OutputURL,
	})
}

func (p *StatusPublisher) MarkFailed(ctx context.Context, runID core.ID, code, message string) error {
	return p.publish(ctx, StatusEvent{
		RunID:        runID.String(),
		Status:       executor.StatusFailed.String(),
		ErrorCode:    code,
		ErrorMessage: message,
	})
}

// ErrNotFound is returned by Get for runs without a status hash.
var ErrNotFound = errors.New("run status not found")

// Get reads the current status hash of runID.
func (p *StatusPublisher) Get(ctx context.Context, runID core.ID) (map[string]string, error) {
	fields, err := p.client.HGetAll(ctx, p.key(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading status of run %s: %w", runID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return fields, nil
}

// Subscribe streams status events until ctx ends. Undecodable payloads are
// dropped. The returned channel is closed when the subscription ends.
func (p *StatusPublisher) Subscribe(ctx context.Context) (<-chan StatusEvent, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", p.channel, err)
	}
	out := make(chan StatusEvent, 64)
	go func(messages <-chan *goredis.Message) {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var ev StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}(sub.Channel())
	return out, nil
}
