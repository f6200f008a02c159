package http

import (
	"errors"
	stdhttp "net/http"

	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/dkeye/callcoord/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	sessions *server.SessionStore
	rooms    *server.RoomManager
	profiles map[domain.ParticipantID]domain.Profile
}

type createRequest struct {
	ContextType domain.ContextType `json:"contextType" binding:"required"`
	ContextID   string             `json:"contextId" binding:"required"`
	Mode        domain.Mode        `json:"mode"`
}

type endRequest struct {
	Missed bool `json:"missed"`
}

func (h *handlers) create(c *gin.Context) {
	self, _ := participant(c)
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = domain.ModeOpen
	}
	sess, err := h.sessions.Create(req.ContextType, req.ContextID, req.Mode, self)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(stdhttp.StatusCreated, sess)
}

func (h *handlers) active(c *gin.Context) {
	self, _ := participant(c)
	ct, err := domain.ParseContextType(c.Query("contextType"))
	if err != nil {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cid := c.Query("contextId")
	if cid == "" {
		c.JSON(stdhttp.StatusBadRequest, gin.H{"error": "contextId required"})
		return
	}
	sess, ok := h.sessions.Active(ct, cid, self)
	if !ok {
		c.Status(stdhttp.StatusNoContent)
		return
	}
	c.JSON(stdhttp.StatusOK, sess)
}

func (h *handlers) accept(c *gin.Context) {
	self, _ := participant(c)
	sess, err := h.sessions.Accept(domain.SessionID(c.Param("id")), self)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, sess)
}

func (h *handlers) end(c *gin.Context) {
	self, _ := participant(c)
	var req endRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(stdhttp.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	sess, err := h.sessions.End(domain.SessionID(c.Param("id")), self, req.Missed)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(stdhttp.StatusOK, sess)
}

func (h *handlers) profile(c *gin.Context) {
	id := domain.ParticipantID(c.Param("id"))
	prof, ok := h.profiles[id]
	if !ok {
		c.JSON(stdhttp.StatusNotFound, gin.H{"error": "unknown participant"})
		return
	}
	c.JSON(stdhttp.StatusOK, prof)
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(stdhttp.StatusOK, h.rooms.List())
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := stdhttp.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		status = stdhttp.StatusNotFound
	case errors.Is(err, core.ErrPermissionDenied):
		status = stdhttp.StatusForbidden
	case errors.Is(err, core.ErrSessionEnded):
		status = stdhttp.StatusConflict
	}
	log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
