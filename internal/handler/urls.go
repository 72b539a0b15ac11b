package handlers

import (
	"net/http"

	"EpiFind/internal/sos"
	"EpiFind/pkg/config"
	"EpiFind/pkg/errors"
	"EpiFind/pkg/middleware"
	"EpiFind/pkg/response"
	"EpiFind/pkg/sse"
	"EpiFind/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Handlers struct {
	engine *sos.Engine
	hub    *websocket.Hub
	events *sse.Hub
	db     *gorm.DB
}

func NewHandlers(engine *sos.Engine, hub *websocket.Hub, events *sse.Hub, db *gorm.DB) *Handlers {
	return &Handlers{engine: engine, hub: hub, events: events, db: db}
}

func (h *Handlers) Register(engine *gin.Engine) {
	r := engine.Group(config.GlobalConfig.APIPrefix)

	h.registerSystemRoutes(engine)
	h.registerProfileRoutes(r)
	h.registerSOSRoutes(r)

	if h.hub != nil {
		websocket.RegisterRoutes(engine, websocket.NewHandler(h.hub))
	}
}

func (h *Handlers) registerSOSRoutes(r *gin.RouterGroup) {
	group := r.Group("sos")
	group.Use(requireUser)
	{
		group.POST("/hold", h.handleHoldStart)

		group.POST("/release", h.handleHoldRelease)

		group.POST("/cancel", h.handleCancel)

		// duplicate taps on "I can help" must not double-record
		group.POST("/respond", middleware.Idempotency(middleware.IdempotencyConfig{}), h.handleRespond)

		group.GET("/active", h.handleActiveRequest)

		group.GET("/matches", h.handleMatchSet)

		group.PUT("/radius", h.handleSetRadius)

		group.GET("/nearby", h.handleNearby)

		group.GET("/events", h.handleEvents)

		group.GET("/audit", h.handleAuditLog)
	}
}

func (h *Handlers) registerProfileRoutes(r *gin.RouterGroup) {
	profile := r.Group("profile")
	profile.Use(requireUser)
	{
		profile.GET("", h.handleGetProfile)

		profile.PUT("", h.handlePutProfile)

		profile.GET("/complete", h.handleProfileComplete)

		profile.PUT("/location", h.handleUpdateLocation)
	}
}

func (h *Handlers) registerSystemRoutes(engine *gin.Engine) {
	engine.GET("/healthz", h.HealthCheck)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// requireUser resolves the caller's identity from the X-User-ID header.
// Identity is established by the mobile client's auth layer upstream.
func requireUser(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		response.FailWithStatus(c, http.StatusUnauthorized, errors.CodeNotSignedIn, "not signed in")
		c.Abort()
		return
	}
	c.Set("userID", userID)
	c.Next()
}

func currentUser(c *gin.Context) string {
	return c.GetString("userID")
}

// failErr maps a coded error onto the uniform response body.
func failErr(c *gin.Context, err error) {
	switch errors.GetCode(err) {
	case errors.CodeNotSignedIn:
		response.FailWithStatus(c, http.StatusUnauthorized, errors.CodeNotSignedIn, errors.GetMessage(err))
	case errors.CodePermissionDenied:
		response.FailWithStatus(c, http.StatusForbidden, errors.CodePermissionDenied, errors.GetMessage(err))
	case errors.CodeProfileIncomplete, errors.CodeNoLocationFix, errors.CodeInvalidState:
		response.FailWithStatus(c, http.StatusBadRequest, errors.GetCode(err), errors.GetMessage(err))
	default:
		response.Fail(c, errors.GetMessage(err), nil)
	}
}
