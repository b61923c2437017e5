package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// Client wraps the durable queue client with the narrow surface the
// rest of the system uses.
type Client struct {
	river *river.Client[pgx.Tx]
}

// Migrate applies the queue's own schema migrations. Runs at startup
// before the client is built.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create queue migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate queue schema: %w", err)
	}
	if len(res.Versions) > 0 {
		slog.Info("Queue schema migrated", "versions", len(res.Versions))
	}
	return nil
}

// NewClient builds the queue client with the given worker registry and
// queue map.
func NewClient(pool *pgxpool.Pool, workers *river.Workers, queues map[string]river.QueueConfig) (*Client, error) {
	rc, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  queues,
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}
	return &Client{river: rc}, nil
}

// Start begins polling and working jobs.
func (c *Client) Start(ctx context.Context) error {
	if err := c.river.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue client: %w", err)
	}
	return nil
}

// Stop drains in-flight jobs and stops polling.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.river.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop queue client: %w", err)
	}
	return nil
}

// Enqueue inserts one job. Implements Enqueuer.
func (c *Client) Enqueue(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error {
	if _, err := c.river.Insert(ctx, args, opts); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", args.Kind(), err)
	}
	return nil
}

// AddQueue registers a queue after construction. Errors when the queue
// already exists; callers treat that as success.
func (c *Client) AddQueue(name string, cfg river.QueueConfig) error {
	return c.river.Queues().Add(name, cfg)
}

// River exposes the underlying client for introspection queries.
func (c *Client) River() *river.Client[pgx.Tx] {
	return c.river
}
