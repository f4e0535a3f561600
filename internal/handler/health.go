package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// TickReporter reports scan-scheduler loop liveness.
type TickReporter interface {
	LastTick() time.Time
	Tick() time.Duration
}

type HealthHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	scheduler TickReporter
	startAt   time.Time
}

func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client, scheduler TickReporter) *HealthHandler {
	return &HealthHandler{
		pool:      pool,
		rdb:       rdb,
		scheduler: scheduler,
		startAt:   time.Now(),
	}
}

// Live handles GET /health/live — liveness probe.
func (h *HealthHandler) Live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready — readiness probe with dependency checks.
func (h *HealthHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	checks := make(fiber.Map)
	overallStatus := "healthy"

	// Database check
	checks["database"] = checkDB(ctx, h.pool)
	if dbCheck, ok := checks["database"].(fiber.Map); ok {
		if dbCheck["status"] != "up" {
			overallStatus = "degraded"
		}
	}

	// Redis check
	checks["redis"] = checkRedis(ctx, h.rdb)
	if redisCheck, ok := checks["redis"].(fiber.Map); ok {
		if redisCheck["status"] != "up" && redisCheck["status"] != "disabled" && overallStatus == "healthy" {
			overallStatus = "degraded"
		}
	}

	// Scan scheduler check: a stalled loop means active configs silently
	// stop running even though the API still answers.
	if h.scheduler != nil {
		checks["scheduler"] = checkScheduler(h.scheduler.LastTick(), h.scheduler.Tick(), time.Now())
		if schedCheck, ok := checks["scheduler"].(fiber.Map); ok {
			if schedCheck["status"] == "stalled" && overallStatus == "healthy" {
				overallStatus = "degraded"
			}
		}
	}

	uptimeSeconds := int(time.Since(h.startAt).Seconds())

	resp := fiber.Map{
		"status":         overallStatus,
		"checks":         checks,
		"uptime_seconds": uptimeSeconds,
		"version":        "1.0.0",
	}

	status := fiber.StatusOK
	if overallStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(resp)
}

func checkDB(ctx context.Context, pool *pgxpool.Pool) fiber.Map {
	start := time.Now()
	err := pool.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}

// checkScheduler reports loop liveness from the last tick timestamp. The
// loop is stalled once three tick intervals pass without a wake; before
// the first tick it is still starting.
func checkScheduler(lastTick time.Time, tick time.Duration, now time.Time) fiber.Map {
	if lastTick.IsZero() {
		return fiber.Map{"status": "starting"}
	}

	age := now.Sub(lastTick)
	status := "up"
	if age > 3*tick {
		status = "stalled"
	}
	return fiber.Map{
		"status":            status,
		"last_tick_age_sec": int(age.Seconds()),
	}
}

func checkRedis(ctx context.Context, rdb *redis.Client) fiber.Map {
	if rdb == nil {
		return fiber.Map{
			"status": "disabled",
		}
	}

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}
