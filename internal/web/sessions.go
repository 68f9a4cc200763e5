package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/tank-monitor/internal/channel"
	"github.com/sweeney/tank-monitor/internal/monitor"
)

// sessionJSON is a session state with its display text.
type sessionJSON struct {
	channel.State
	Text string `json:"text"`
}

func newSessionJSON(st channel.State) sessionJSON {
	if st.Topics == nil {
		st.Topics = []string{}
	}
	return sessionJSON{State: st, Text: st.Text()}
}

// Request DTO for switching the pump.
type pumpRequest struct {
	On *bool `json:"on" binding:"required"`
}

// Request DTO for a device command.
type commandRequest struct {
	Command string `json:"command" binding:"required"` // attach | detach
	TankID  string `json:"tank_id" binding:"required"`
}

func (h *Handler) openSession(c *gin.Context) {
	id := c.Param("id")
	st, err := h.svc.OpenSession(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "session_open_failed", err, "tank_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": newSessionJSON(st)})
}

func (h *Handler) sessionState(c *gin.Context) {
	id := c.Param("id")
	st, err := h.svc.SessionState(id)
	if err != nil {
		h.fail(c, "session_state_failed", err, "tank_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": newSessionJSON(st)})
}

func (h *Handler) closeSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.CloseSession(id); err != nil {
		h.fail(c, "session_close_failed", err, "tank_id", id)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) reconnect(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Reconnect(id); err != nil {
		h.fail(c, "session_reconnect_failed", err, "tank_id", id)
		return
	}
	st, err := h.svc.SessionState(id)
	if err != nil {
		h.fail(c, "session_state_failed", err, "tank_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": newSessionJSON(st)})
}

func (h *Handler) setPump(c *gin.Context) {
	id := c.Param("id")
	var req pumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, errInvalidBodyPref+err.Error(), "pump_bind_failed", err)
		return
	}
	if err := h.svc.SetPump(id, *req.On); err != nil {
		h.fail(c, "pump_toggle_failed", err, "tank_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "on": *req.On})
}

func (h *Handler) openDevice(c *gin.Context) {
	st := h.svc.OpenDevice(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"session": newSessionJSON(st)})
}

func (h *Handler) deviceState(c *gin.Context) {
	id := c.Param("id")
	st, err := h.svc.DeviceState(id)
	if err != nil {
		h.fail(c, "device_state_failed", err, "device_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": newSessionJSON(st)})
}

func (h *Handler) closeDevice(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.CloseDevice(id); err != nil {
		h.fail(c, "device_close_failed", err, "device_id", id)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) sendCommand(c *gin.Context) {
	id := c.Param("id")
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, errInvalidBodyPref+err.Error(), "command_bind_failed", err)
		return
	}
	cmd, err := monitor.ParseCommand(req.Command, req.TankID)
	if err != nil {
		h.fail(c, "command_invalid", err, "device_id", id)
		return
	}
	if err := h.svc.SendCommand(id, cmd); err != nil {
		h.fail(c, "command_send_failed", err, "device_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "command": cmd})
}

func (h *Handler) deviceMessages(c *gin.Context) {
	id := c.Param("id")
	msgs, err := h.svc.DeviceMessages(id)
	if err != nil {
		h.fail(c, "device_messages_failed", err, "device_id", id)
		return
	}
	if msgs == nil {
		msgs = []channel.RecentMessage{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(msgs),
		"messages": msgs,
	})
}

func (h *Handler) clearDeviceMessages(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.ClearDeviceMessages(id); err != nil {
		h.fail(c, "device_messages_clear_failed", err, "device_id", id)
		return
	}
	c.Status(http.StatusNoContent)
}
