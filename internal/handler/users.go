package handlers

import (
	"EpiFind/internal/models"
	"EpiFind/pkg/response"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) handleGetProfile(c *gin.Context) {
	p, ok, err := h.engine.Directory().Profile(c.Request.Context(), currentUser(c))
	if err != nil {
		failErr(c, err)
		return
	}
	if !ok {
		response.Fail(c, "no profile", nil)
		return
	}
	response.Success(c, "profile", p)
}

// handlePutProfile creates or replaces the caller's record. The userId in
// the body is ignored; callers write only their own record.
func (h *Handlers) handlePutProfile(c *gin.Context) {
	var p models.UserProfile
	if err := c.ShouldBindJSON(&p); err != nil {
		response.Fail(c, "invalid request body", nil)
		return
	}
	p.UserID = currentUser(c)
	if p.ResponseStatus != "" && !p.ResponseStatus.Valid() {
		response.Fail(c, "invalid response status", nil)
		return
	}
	if err := h.engine.Directory().SaveProfile(c.Request.Context(), p); err != nil {
		failErr(c, err)
		return
	}
	response.Success(c, "profile saved", gin.H{"complete": p.Complete()})
}

// handleProfileComplete answers the activation gate check so the client can
// prompt before the user is ever in an emergency.
func (h *Handlers) handleProfileComplete(c *gin.Context) {
	complete, err := h.engine.Directory().ProfileComplete(c.Request.Context(), currentUser(c))
	if err != nil {
		failErr(c, err)
		return
	}
	response.Success(c, "completeness", gin.H{"complete": complete})
}

// Pointer fields: required-ness must not reject a legitimate fix at
// latitude or longitude 0.
type locationForm struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

func (h *Handlers) handleUpdateLocation(c *gin.Context) {
	var form locationForm
	if err := c.ShouldBindJSON(&form); err != nil {
		response.Fail(c, "invalid request body", nil)
		return
	}
	if err := h.engine.Directory().UpdateLocation(c.Request.Context(), currentUser(c), *form.Latitude, *form.Longitude); err != nil {
		failErr(c, err)
		return
	}
	response.Success(c, "location updated", nil)
}
