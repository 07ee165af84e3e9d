package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const readyTimeout = 5 * time.Second

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string         `json:"status"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Checker probes one dependency
type Checker func(ctx context.Context) HealthCheckResult

// Ready runs every check in parallel and reports 503 if any is down
func Ready(checks map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			results = make(map[string]HealthCheckResult, len(checks))
		)
		for name, check := range checks {
			wg.Add(1)
			go func(name string, check Checker) {
				defer wg.Done()
				res := check(ctx)
				mu.Lock()
				results[name] = res
				mu.Unlock()
			}(name, check)
		}
		wg.Wait()

		allHealthy := true
		for _, res := range results {
			if res.Status != "up" {
				allHealthy = false
			}
		}

		response := map[string]any{
			"timestamp": time.Now().Format(time.RFC3339),
			"checks":    results,
		}
		if allHealthy {
			response["status"] = "ready"
			writeJSON(w, http.StatusOK, response)
			return
		}
		response["status"] = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, response)
	}
}

func down(start time.Time, err error) HealthCheckResult {
	return HealthCheckResult{
		Status:    "down",
		LatencyMs: time.Since(start).Milliseconds(),
		Error:     err.Error(),
	}
}

// DatabaseCheck pings the pool and reports its stats
func DatabaseCheck(db *sql.DB) Checker {
	return func(ctx context.Context) HealthCheckResult {
		start := time.Now()
		if err := db.PingContext(ctx); err != nil {
			return down(start, err)
		}

		stats := db.Stats()
		return HealthCheckResult{
			Status:    "up",
			LatencyMs: time.Since(start).Milliseconds(),
			Metadata: map[string]any{
				"connections_open":   stats.OpenConnections,
				"connections_in_use": stats.InUse,
				"connections_idle":   stats.Idle,
				"max_open":           stats.MaxOpenConnections,
			},
		}
	}
}

// ConnectionState is satisfied by the RabbitMQ client
type ConnectionState interface {
	IsClosed() bool
}

// BrokerCheck reports whether the broker connection is open
func BrokerCheck(conn ConnectionState) Checker {
	return func(ctx context.Context) HealthCheckResult {
		start := time.Now()
		if conn.IsClosed() {
			return down(start, errors.New("connection closed"))
		}
		return HealthCheckResult{
			Status:    "up",
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
}

// RedisCheck pings Redis
func RedisCheck(rdb *redis.Client) Checker {
	return func(ctx context.Context) HealthCheckResult {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return down(start, err)
		}
		stats := rdb.PoolStats()
		return HealthCheckResult{
			Status:    "up",
			LatencyMs: time.Since(start).Milliseconds(),
			Metadata: map[string]any{
				"total_conns": stats.TotalConns,
				"idle_conns":  stats.IdleConns,
			},
		}
	}
}
