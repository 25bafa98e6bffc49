// Package opsapi is the operator HTTP surface: health, bind status,
// Prometheus metrics and on-demand query_sm.
package opsapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/thrillee/esmelink/internal/esme"
	"github.com/thrillee/esmelink/internal/logging"
	"github.com/thrillee/esmelink/pkg/codes"
)

// Bind is what the API needs from a running bind.
type Bind interface {
	Name() string
	Status() esme.Status
	QueryMessage(ctx context.Context, smscMessageID, sourceAddr string) (uint32, error)
}

// Handler serves the operator routes.
type Handler struct {
	binds   map[string]Bind
	metrics http.Handler
}

func NewHandler(binds []Bind, metrics http.Handler) *Handler {
	h := &Handler{binds: make(map[string]Bind, len(binds)), metrics: metrics}
	for _, b := range binds {
		h.binds[b.Name()] = b
	}
	return h
}

// NewRouter returns a gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	SetupRoutes(router, h)
	return router
}

// SetupRoutes configures the operator routes on router.
func SetupRoutes(router gin.IRouter, h *Handler) {
	router.GET("/health", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	bindGroup := router.Group("/binds")
	{
		bindGroup.GET("", h.ListBinds)
		bindGroup.GET("/:name", h.GetBind)
		bindGroup.POST("/:name/query_sm", h.QueryMessage)
	}
}

// Health handles GET /health. The process is healthy once at least one
// bind is bound.
func (h *Handler) Health(c *gin.Context) {
	bound := 0
	for _, b := range h.binds {
		if b.Status().Status == codes.StatusBound {
			bound++
		}
	}
	if bound == 0 && len(h.binds) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "bound": bound, "binds": len(h.binds)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "bound": bound, "binds": len(h.binds)})
}

// ListBinds handles GET /binds
func (h *Handler) ListBinds(c *gin.Context) {
	out := make([]esme.Status, 0, len(h.binds))
	for _, b := range h.binds {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	c.JSON(http.StatusOK, out)
}

// GetBind handles GET /binds/:name
func (h *Handler) GetBind(c *gin.Context) {
	b, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, b.Status())
}

type queryRequest struct {
	SMSCMessageID string `json:"smsc_message_id" binding:"required"`
	SourceAddr    string `json:"source_addr"`
}

// QueryMessage handles POST /binds/:name/query_sm. The result arrives later as
// a delivery_report event.
func (h *Handler) QueryMessage(c *gin.Context) {
	logCtx := logging.ContextWithHandler(c.Request.Context(), "QueryMessage")
	b, ok := h.lookup(c)
	if !ok {
		return
	}
	logCtx = logging.ContextWithBind(logCtx, b.Name())

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(logCtx, "Failed to bind request JSON", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	seq, err := b.QueryMessage(logCtx, req.SMSCMessageID, req.SourceAddr)
	if err != nil {
		if errors.Is(err, esme.ErrNotBound) {
			c.JSON(http.StatusConflict, gin.H{"error": "bind is not bound for transmit"})
			return
		}
		slog.ErrorContext(logCtx, "query_sm failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send query_sm"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"sequence_number": seq, "smsc_message_id": req.SMSCMessageID})
}

func (h *Handler) lookup(c *gin.Context) (Bind, bool) {
	name := c.Param("name")
	b, ok := h.binds[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown bind " + name})
		return nil, false
	}
	return b, true
}
