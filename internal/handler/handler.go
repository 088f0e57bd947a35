package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dreamforge-ai/dreamforge/internal/gpu"
	"github.com/dreamforge-ai/dreamforge/internal/model"
	"github.com/dreamforge-ai/dreamforge/internal/service"
	"github.com/dreamforge-ai/dreamforge/internal/ws"
)

// Handler holds HTTP/WS endpoint handlers.
type Handler struct {
	svc      *service.GenerationService
	balancer gpu.Balancer
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler creates the handler set.
func NewHandler(svc *service.GenerationService, balancer gpu.Balancer, hub *ws.Hub) *Handler {
	return &Handler{
		svc:      svc,
		balancer: balancer,
		hub:      hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers all routes on the Gin engine. adminMiddleware
// protects the observability endpoints.
func (h *Handler) RegisterRoutes(r *gin.Engine, adminMiddleware gin.HandlerFunc) {
	// ── Public endpoints ──
	r.GET("/api/v1/health", h.Health)
	r.POST("/api/v1/generate", h.Generate)

	// ── WebSocket for result consumers ──
	r.GET("/ws/results", h.ResultsWebSocket)

	// ── Admin observability endpoints ──
	admin := r.Group("/api/v1/admin", adminMiddleware)
	{
		admin.GET("/stats", h.Stats)
		admin.GET("/queue", h.QueueDepths)
	}
}

// ─────────────────────────────────────────────
// POST /api/v1/generate
// ─────────────────────────────────────────────

// Generate admits an image-generation request into the queue and returns the
// task ID with a queue-position ETA. It never blocks on execution.
func (h *Handler) Generate(c *gin.Context) {
	var req model.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.svc.Submit(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrPromptTooShort) || errors.Is(err, service.ErrPromptTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Queue transport unavailable: the submitter decides whether to retry.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ─────────────────────────────────────────────
// GET /ws/results  (Result consumer WebSocket)
// ─────────────────────────────────────────────

// ResultsWebSocket upgrades the connection and streams generation results to
// the chat-surface consumer.
func (h *Handler) ResultsWebSocket(c *gin.Context) {
	consumerID := c.Query("consumer_id")
	if consumerID == "" {
		consumerID = uuid.New().String()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[handler] websocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(consumerID, conn, h.hub)
	client.Run()
}

// ─────────────────────────────────────────────
// Admin / observability
// ─────────────────────────────────────────────

// Stats returns the balancer snapshot: per-device state plus aggregates.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.balancer.Snapshot())
}

// QueueDepths returns current per-tier queue depths.
func (h *Handler) QueueDepths(c *gin.Context) {
	resp, err := h.svc.QueueDepths(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ─────────────────────────────────────────────
// GET /api/v1/health
// ─────────────────────────────────────────────

// Health returns basic server health info.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":              "ok",
		"connected_consumers": h.hub.ClientCount(),
	})
}
