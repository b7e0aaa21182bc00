// Package redis publishes per-cycle evaluations to Redis so dashboards can
// watch the agent without touching the ledger. Entirely optional: the loop
// runs fine when Redis is absent.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"crossbot/internal/loop"
)

const lastEvalTTL = 30 * time.Minute

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes the latest evaluation per symbol and fans it out on a
// pub/sub channel.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a new Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Publish stores the evaluation as the symbol's latest and announces it.
// Failures are logged and swallowed; Redis never gates a trading decision.
func (p *Publisher) Publish(ctx context.Context, eval loop.Evaluation) {
	payload, err := json.Marshal(eval)
	if err != nil {
		log.Printf("[redis] marshal evaluation: %v", err)
		return
	}

	key := "crossbot:last:" + eval.Symbol
	if err := p.client.Set(ctx, key, payload, lastEvalTTL).Err(); err != nil {
		log.Printf("[redis] set %s: %v", key, err)
	}

	channel := "pub:crossbot:" + eval.Symbol
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.Printf("[redis] publish %s: %v", channel, err)
	}
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
