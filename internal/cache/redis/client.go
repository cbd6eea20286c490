package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/pkg/logger"
)

// Client shares event wake-ups between API replicas and caches rendered
// report exports.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func eventsChannel(sessionID string) string {
	return fmt.Sprintf("research:events:%s", sessionID)
}

func (c *Client) Publish(ctx context.Context, sessionID string) error {
	if err := c.client.Publish(ctx, eventsChannel(sessionID), "1").Err(); err != nil {
		return fmt.Errorf("failed to publish event notification: %w", err)
	}
	return nil
}

// Subscribe forwards pub/sub messages for the session as coalesced
// wake-ups. The returned func releases the subscription.
func (c *Client) Subscribe(ctx context.Context, sessionID string) (<-chan struct{}, func()) {
	pubsub := c.client.Subscribe(ctx, eventsChannel(sessionID))
	wake := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()

	var once sync.Once
	return wake, func() {
		once.Do(func() {
			close(done)
			if err := pubsub.Close(); err != nil {
				logger.Debug("Failed to close subscription", zap.String("session_id", sessionID), zap.Error(err))
			}
		})
	}
}

func exportKey(sessionID, format string) string {
	return fmt.Sprintf("export:%s:%s", sessionID, format)
}

func (c *Client) GetExport(ctx context.Context, sessionID, format string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, exportKey(sessionID, format)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues("export").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get export cache: %w", err)
	}

	metrics.CacheHits.WithLabelValues("export").Inc()
	logger.Debug("Export cache hit", zap.String("session_id", sessionID), zap.String("format", format))
	return data, true, nil
}

func (c *Client) SetExport(ctx context.Context, sessionID, format string, data []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, exportKey(sessionID, format), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set export cache: %w", err)
	}
	return nil
}
