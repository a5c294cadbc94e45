package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/rendis/lessonflow/pkg/schema"
)

const (
	defaultRedisChannel = "lessonflow:events"
	defaultHistoryLen   = 500
	defaultHistoryTTL   = 24 * time.Hour
)

// RedisHub publishes run events over Redis pub/sub so every instance sharing
// the server sees them. It also keeps a short per-run history for late
// subscribers.
type RedisHub struct {
	client     *backend.Client
	channel    string
	historyLen int64
	historyTTL time.Duration
	logger     *slog.Logger
}

type RedisOption func(*RedisHub)

// WithChannel sets the pub/sub channel and history key prefix.
func WithChannel(name string) RedisOption {
	return func(h *RedisHub) { h.channel = name }
}

// WithHistory bounds the per-run history. A zero ttl keeps it forever.
func WithHistory(n int64, ttl time.Duration) RedisOption {
	return func(h *RedisHub) {
		h.historyLen = n
		h.historyTTL = ttl
	}
}

func WithLogger(l *slog.Logger) RedisOption {
	return func(h *RedisHub) { h.logger = l }
}

// NewRedisHub connects to addr.
func NewRedisHub(addr, password string, db int, opts ...RedisOption) *RedisHub {
	return NewRedisHubFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisHubFromClient wraps an existing client.
func NewRedisHubFromClient(client *backend.Client, opts ...RedisOption) *RedisHub {
	h := &RedisHub{
		client:     client,
		channel:    defaultRedisChannel,
		historyLen: defaultHistoryLen,
		historyTTL: defaultHistoryTTL,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *RedisHub) historyKey(runID string) string {
	return h.channel + ":history:" + runID
}

// Ping checks connectivity.
func (h *RedisHub) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *RedisHub) Close() error { return h.client.Close() }

func (h *RedisHub) Publish(ctx context.Context, ev schema.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pipe := h.client.Pipeline()
	pipe.Publish(ctx, h.channel, data)
	if ev.RunID != "" && h.historyLen > 0 {
		key := h.historyKey(ev.RunID)
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -h.historyLen, -1)
		if h.historyTTL > 0 {
			pipe.Expire(ctx, key, h.historyTTL)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// History returns the retained events of a run, oldest first.
func (h *RedisHub) History(ctx context.Context, runID string) ([]schema.RunEvent, error) {
	vals, err := h.client.LRange(ctx, h.historyKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]schema.RunEvent, 0, len(vals))
	for _, v := range vals {
		var ev schema.RunEvent
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscribe returns once the Redis subscription is confirmed, so events
// published afterwards are not missed.
func (h *RedisHub) Subscribe(ctx context.Context, f Filter) (<-chan schema.RunEvent, func(), error) {
	ps := h.client.Subscribe(ctx, h.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", h.channel, err)
	}

	out := make(chan schema.RunEvent, defaultChannelBuffer)
	stop := make(chan struct{})
	msgs := ps.Channel()

	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev schema.RunEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					h.logger.Warn("dropping undecodable event", "error", err)
					continue
				}
				if !f.Match(ev) {
					continue
				}
				select {
				case out <- ev:
				default:
					h.logger.Warn("subscriber buffer full, dropping event", "run_id", ev.RunID, "type", ev.Type)
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }
	return out, cancel, nil
}
