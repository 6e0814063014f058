// Package health exposes the read-only HTTP introspection surface: server
// health, per-room statistics, and the Kubernetes liveness/readiness probes.
package health

import (
	"context"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cotype-dev/cotype/backend/go/internal/v1/document"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/logging"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/room"
	"github.com/cotype-dev/cotype/backend/go/internal/v1/types"
)

// recentOperationCount is how many history entries the room detail endpoint
// returns.
const recentOperationCount = 10

// RoomRegistry is the view of the hub the health endpoints need.
type RoomRegistry interface {
	Rooms() []*room.Room
	LookupRoom(id types.RoomIDType) *room.Room
}

// Handler serves the health and introspection endpoints.
type Handler struct {
	registry    RoomRegistry
	redisClient *redis.Client // nil when Redis is disabled
	startedAt   time.Time
}

// NewHandler creates a health handler. redisClient may be nil.
func NewHandler(registry RoomRegistry, redisClient *redis.Client) *Handler {
	return &Handler{
		registry:    registry,
		redisClient: redisClient,
		startedAt:   time.Now(),
	}
}

// MemoryStats is a trimmed runtime.MemStats snapshot.
type MemoryStats struct {
	AllocBytes      uint64 `json:"allocBytes"`
	TotalAllocBytes uint64 `json:"totalAllocBytes"`
	SysBytes        uint64 `json:"sysBytes"`
	NumGC           uint32 `json:"numGC"`
}

// ServerStats summarizes the process.
type ServerStats struct {
	UptimeSeconds float64     `json:"uptime"`
	Memory        MemoryStats `json:"memory"`
	Rooms         int         `json:"rooms"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Server    ServerStats       `json:"server"`
	Rooms     []types.RoomStats `json:"rooms"`
}

// RoomDetailResponse is the GET /room/:id body.
type RoomDetailResponse struct {
	types.RoomStats
	Language         string             `json:"language"`
	Users            []types.Presence   `json:"users"`
	RecentOperations []document.Applied `json:"recentOperations"`
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	rooms := h.registry.Rooms()
	stats := make([]types.RoomStats, 0, len(rooms))
	for _, r := range rooms {
		stats = append(stats, r.Stats())
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Server: ServerStats{
			UptimeSeconds: time.Since(h.startedAt).Seconds(),
			Memory: MemoryStats{
				AllocBytes:      mem.Alloc,
				TotalAllocBytes: mem.TotalAlloc,
				SysBytes:        mem.Sys,
				NumGC:           mem.NumGC,
			},
			Rooms: len(rooms),
		},
		Rooms: stats,
	})
}

// Room handles GET /room/:id. The id is case-insensitive.
func (h *Handler) Room(c *gin.Context) {
	id := types.RoomIDType(strings.ToUpper(c.Param("id")))

	r := h.registry.LookupRoom(id)
	if r == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	c.JSON(http.StatusOK, RoomDetailResponse{
		RoomStats:        r.Stats(),
		Language:         r.Language(),
		Users:            r.UserList(),
		RecentOperations: r.RecentOperations(recentOperationCount),
	})
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 if the process is alive,
// with no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. Returns 200 only if all critical
// dependencies are healthy, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies Redis connectivity using PING.
func (h *Handler) checkRedis(ctx context.Context) string {
	// Redis disabled means the memory rate-limit store is in use; nothing to
	// check.
	if h.redisClient == nil {
		return "healthy"
	}

	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
