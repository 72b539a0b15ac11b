package handlers

import (
	"EpiFind/internal/models"
	"EpiFind/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

// handleHoldStart begins the press-and-hold confirmation cycle. The request
// only arms if the client keeps holding; /release before the delay aborts.
func (h *Handlers) handleHoldStart(c *gin.Context) {
	userID := currentUser(c)
	lc := h.engine.Lifecycle(userID)
	if err := lc.BeginHold(c.Request.Context()); err != nil {
		failErr(c, err)
		return
	}
	response.Success(c, "hold started", gin.H{"state": lc.State().String()})
}

func (h *Handlers) handleHoldRelease(c *gin.Context) {
	lc := h.engine.Lifecycle(currentUser(c))
	cancelled := lc.ReleaseHold()
	response.Success(c, "hold released", gin.H{"cancelled": cancelled, "state": lc.State().String()})
}

// handleCancel resolves the caller's active request. Cancelling with no
// active request succeeds; the tap must never error on a double press.
func (h *Handlers) handleCancel(c *gin.Context) {
	lc := h.engine.Lifecycle(currentUser(c))
	if err := lc.Cancel(c.Request.Context()); err != nil {
		failErr(c, err)
		return
	}
	response.Success(c, "cancelled", nil)
}

type respondForm struct {
	Requester string `json:"requester" binding:"required"`
	CanHelp   bool   `json:"canHelp"`
}

// handleRespond records the caller's answer to another user's request and
// returns a navigation hint when they said yes.
func (h *Handlers) handleRespond(c *gin.Context) {
	var form respondForm
	if err := c.ShouldBindJSON(&form); err != nil {
		response.Fail(c, "invalid request body", nil)
		return
	}
	hint, err := h.engine.Aggregator().Respond(c.Request.Context(), currentUser(c), form.Requester, form.CanHelp)
	if err != nil {
		failErr(c, err)
		return
	}
	var data gin.H
	if hint != nil {
		data = gin.H{"navigateTo": hint}
	}
	response.Success(c, "response recorded", data)
}

func (h *Handlers) handleActiveRequest(c *gin.Context) {
	lc := h.engine.Lifecycle(currentUser(c))
	view, err := lc.View(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if req, ok := view.Get(); ok {
		response.Success(c, "active", gin.H{"active": true, "request": req, "state": lc.State().String()})
		return
	}
	response.Success(c, "idle", gin.H{"active": false, "state": lc.State().String()})
}

func (h *Handlers) handleMatchSet(c *gin.Context) {
	lc := h.engine.Lifecycle(currentUser(c))
	response.Success(c, "match set", gin.H{
		"radiusMeters": lc.Radius(),
		"helpers":      lc.MatchSet(),
	})
}

type radiusForm struct {
	Meters float64 `json:"meters" binding:"required"`
}

func (h *Handlers) handleSetRadius(c *gin.Context) {
	var form radiusForm
	if err := c.ShouldBindJSON(&form); err != nil {
		response.Fail(c, "invalid request body", nil)
		return
	}
	lc := h.engine.Lifecycle(currentUser(c))
	if err := lc.SetRadius(c.Request.Context(), form.Meters); err != nil {
		failErr(c, err)
		return
	}
	response.Success(c, "radius updated", gin.H{"radiusMeters": lc.Radius()})
}

// handleNearby answers the read-only "who is around me" query without
// touching the caller's request lifecycle.
func (h *Handlers) handleNearby(c *gin.Context) {
	radius := cast.ToFloat64(c.Query("radius"))
	helpers, err := h.engine.NearbyHelpers(c.Request.Context(), currentUser(c), radius)
	if err != nil {
		failErr(c, err)
		return
	}
	response.Success(c, "nearby helpers", gin.H{"helpers": helpers})
}

// handleEvents attaches a server-sent event stream for clients without
// websocket support.
func (h *Handlers) handleEvents(c *gin.Context) {
	h.events.Serve(c, currentUser(c))
}

func (h *Handlers) handleAuditLog(c *gin.Context) {
	n := cast.ToInt(c.DefaultQuery("limit", "50"))
	if n <= 0 || n > 500 {
		n = 50
	}
	rows, err := models.RecentAlertLogs(h.db, n)
	if err != nil {
		response.Fail(c, "audit query failed", nil)
		return
	}
	response.Success(c, "audit log", gin.H{"entries": rows})
}
