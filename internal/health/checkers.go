package health

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/meridianlab/orchestrator/internal/circuitbreaker"
	"github.com/meridianlab/orchestrator/internal/db"
)

// PostgresChecker probes the session store. Critical: no database, no runs.
type PostgresChecker struct {
	client *db.Client
}

func NewPostgresChecker(client *db.Client) *PostgresChecker {
	return &PostgresChecker{client: client}
}

func (c *PostgresChecker) Name() string     { return "postgres" }
func (c *PostgresChecker) IsCritical() bool { return true }

func (c *PostgresChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Component: c.Name()}

	if state := c.client.BreakerState(); state == circuitbreaker.StateOpen {
		res.Status = StatusUnhealthy
		res.Message = "circuit breaker open"
		res.Duration = time.Since(start)
		return res
	}
	if err := c.client.DB().PingContext(ctx); err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	} else {
		res.Status = StatusHealthy
	}
	res.Duration = time.Since(start)
	return res
}

// RedisChecker probes the steering inbox store. Non-critical: without Redis
// only early steering commands are affected.
type RedisChecker struct {
	redis *circuitbreaker.RedisWrapper
}

func NewRedisChecker(redis *circuitbreaker.RedisWrapper) *RedisChecker {
	return &RedisChecker{redis: redis}
}

func (c *RedisChecker) Name() string     { return "redis" }
func (c *RedisChecker) IsCritical() bool { return false }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Component: c.Name()}

	if state := c.redis.State(); state == circuitbreaker.StateOpen {
		res.Status = StatusDegraded
		res.Message = "circuit breaker open"
		res.Duration = time.Since(start)
		return res
	}
	if err := c.redis.Ping(ctx); err != nil {
		res.Status = StatusDegraded
		res.Error = err.Error()
	} else {
		res.Status = StatusHealthy
	}
	res.Duration = time.Since(start)
	return res
}

// TemporalChecker probes the workflow engine. Critical: no Temporal, no
// orchestration.
type TemporalChecker struct {
	client client.Client
}

func NewTemporalChecker(c client.Client) *TemporalChecker {
	return &TemporalChecker{client: c}
}

func (c *TemporalChecker) Name() string     { return "temporal" }
func (c *TemporalChecker) IsCritical() bool { return true }

func (c *TemporalChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := CheckResult{Component: c.Name()}

	if _, err := c.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		res.Status = StatusUnhealthy
		res.Error = err.Error()
	} else {
		res.Status = StatusHealthy
	}
	res.Duration = time.Since(start)
	return res
}
