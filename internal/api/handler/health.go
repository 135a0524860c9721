package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 3 * time.Second

// HealthHandler serves GET /health. It only proves the process is serving.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

func (h *HealthHandler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type probe struct {
	name  string
	check func(ctx context.Context) error
}

// HealthDependenciesHandler serves GET /health/ready. The order store and
// Redis are probed in parallel; a nil dependency is not probed.
type HealthDependenciesHandler struct {
	probes []probe
}

func NewHealthDependenciesHandler(db *mongo.Database, rdb *redis.Client) *HealthDependenciesHandler {
	h := &HealthDependenciesHandler{}
	if db != nil {
		h.probes = append(h.probes, probe{"mongodb", func(ctx context.Context) error { return db.Client().Ping(ctx, nil) }})
	}
	if rdb != nil {
		h.probes = append(h.probes, probe{"redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
	}
	return h
}

type dependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]dependencyStatus `json:"dependencies"`
}

func (h *HealthDependenciesHandler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessTimeout)
	defer cancel()

	var mu sync.Mutex
	resp := readinessResponse{Status: "ok", Dependencies: make(map[string]dependencyStatus, len(h.probes))}

	// Probes report through resp; the group is only used to wait.
	var g errgroup.Group
	for _, p := range h.probes {
		g.Go(func() error {
			st := dependencyStatus{Status: "ok"}
			if err := p.check(ctx); err != nil {
				st = dependencyStatus{Status: "unhealthy", Error: err.Error()}
			}
			mu.Lock()
			resp.Dependencies[p.name] = st
			if st.Status != "ok" {
				resp.Status = "degraded"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
