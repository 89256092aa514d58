package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/meridianlab/orchestrator/internal/circuitbreaker"
)

// Config holds database configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client manages the Postgres connection pool and async source writes.
type Client struct {
	db      *sqlx.DB
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger

	// Async queue for non-critical appends (sources, steering events).
	writeQueue chan writeRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
	closeOnce  sync.Once
}

type writeKind int

const (
	writeSource writeKind = iota
	writeSteeringEvent
)

type writeRequest struct {
	kind writeKind
	data interface{}
}

// NewClient opens a connection pool and starts the write workers.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	rawDB, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rawDB.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	client := &Client{
		db:         rawDB,
		breaker:    circuitbreaker.New("postgres", circuitbreaker.DefaultConfig(), logger),
		logger:     logger,
		writeQueue: make(chan writeRequest, 1000),
		workers:    4,
		stopCh:     make(chan struct{}),
	}
	client.startWorkers()

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
	)
	return client, nil
}

// NewClientFromDB wraps an existing connection; used by tests with sqlmock.
func NewClientFromDB(raw *sql.DB, logger *zap.Logger) *Client {
	client := &Client{
		db:         sqlx.NewDb(raw, "postgres"),
		breaker:    circuitbreaker.New("postgres", circuitbreaker.DefaultConfig(), logger),
		logger:     logger,
		writeQueue: make(chan writeRequest, 100),
		workers:    1,
		stopCh:     make(chan struct{}),
	}
	client.startWorkers()
	return client
}

// DB returns the underlying pool for health checks and read models.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// BreakerState reports the Postgres breaker state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Debug("Write worker stopped", zap.Int("worker_id", id))
			return
		case req := <-c.writeQueue:
			c.processWrite(req)
		}
	}
}

func (c *Client) processWrite(req writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch req.kind {
	case writeSource:
		if src, ok := req.data.(*Source); ok {
			err = c.InsertSource(ctx, src)
		}
	case writeSteeringEvent:
		if ev, ok := req.data.(*SteeringEvent); ok {
			err = c.InsertSteeringEvent(ctx, ev)
		}
	}
	if err != nil {
		c.logger.Error("Async write failed", zap.Int("kind", int(req.kind)), zap.Error(err))
	}
}

func (c *Client) drainQueue() {
	deadline := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-deadline:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			return
		}
	}
}

// QueueSource enqueues a source insert, falling back to a synchronous write
// when the queue is full so nothing is dropped.
func (c *Client) QueueSource(src *Source) {
	select {
	case c.writeQueue <- writeRequest{kind: writeSource, data: src}:
	default:
		c.logger.Warn("Write queue full, inserting source synchronously")
		c.processWrite(writeRequest{kind: writeSource, data: src})
	}
}

// QueueSteeringEvent enqueues a steering event insert with the same
// full-queue fallback as QueueSource.
func (c *Client) QueueSteeringEvent(ev *SteeringEvent) {
	select {
	case c.writeQueue <- writeRequest{kind: writeSteeringEvent, data: ev}:
	default:
		c.logger.Warn("Write queue full, inserting steering event synchronously")
		c.processWrite(writeRequest{kind: writeSteeringEvent, data: ev})
	}
}

// exec runs a statement through the circuit breaker.
func (c *Client) exec(ctx context.Context, query string, args ...interface{}) error {
	return c.breaker.Do(ctx, func() error {
		_, err := c.db.ExecContext(ctx, query, args...)
		return err
	})
}

// get runs a single-row query through the circuit breaker.
func (c *Client) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.breaker.Do(ctx, func() error {
		return c.db.GetContext(ctx, dest, query, args...)
	})
}

// selectAll runs a multi-row query through the circuit breaker.
func (c *Client) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.breaker.Do(ctx, func() error {
		return c.db.SelectContext(ctx, dest, query, args...)
	})
}

// Close drains the write queue and closes the pool. Safe to call twice.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info("Shutting down database client")
		close(c.stopCh)
		c.workerWg.Wait()
		if cerr := c.db.Close(); cerr != nil {
			err = fmt.Errorf("close database: %w", cerr)
		}
	})
	return err
}
