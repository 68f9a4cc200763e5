package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/tank-monitor/internal/storage"
	"github.com/sweeney/tank-monitor/internal/tank"
)

const errInvalidDistance = "invalid 'distance_cm'; expected a number"

// Request DTO for adding an alert rule.
type alertRequest struct {
	Type  string   `json:"type" binding:"required"` // empty | filling | full | draining | leaking | flooding
	Value *float64 `json:"value" binding:"required"`
}

// bindTank decodes a tank body and normalises the shape name.
func (h *Handler) bindTank(c *gin.Context) (storage.Tank, bool) {
	var t storage.Tank
	if err := c.ShouldBindJSON(&t); err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, errInvalidBodyPref+err.Error(), "tank_bind_failed", err)
		return storage.Tank{}, false
	}
	shape, err := tank.ParseShape(string(t.Shape))
	if err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, err.Error(), "tank_shape_invalid", err)
		return storage.Tank{}, false
	}
	t.Shape = shape
	return t, true
}

func (h *Handler) listTanks(c *gin.Context) {
	userID := c.Query("userId")
	tanks, err := h.svc.ListTanks(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "tanks_list_failed", err, "user_id", userID)
		return
	}
	if tanks == nil {
		tanks = []storage.Tank{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(tanks),
		"tanks": tanks,
	})
}

func (h *Handler) createTank(c *gin.Context) {
	t, ok := h.bindTank(c)
	if !ok {
		return
	}
	created, err := h.svc.CreateTank(c.Request.Context(), t)
	if err != nil {
		h.fail(c, "tank_create_failed", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) getTank(c *gin.Context) {
	id := c.Param("id")
	t, err := h.svc.GetTank(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "tank_get_failed", err, "tank_id", id)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *Handler) updateTank(c *gin.Context) {
	t, ok := h.bindTank(c)
	if !ok {
		return
	}
	t.ID = c.Param("id")
	updated, err := h.svc.UpdateTank(c.Request.Context(), t)
	if err != nil {
		h.fail(c, "tank_update_failed", err, "tank_id", t.ID)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) deleteTank(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.DeleteTank(c.Request.Context(), id); err != nil {
		h.fail(c, "tank_delete_failed", err, "tank_id", id)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listAlerts(c *gin.Context) {
	id := c.Param("id")
	rules, err := h.svc.ListAlerts(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "alerts_list_failed", err, "tank_id", id)
		return
	}
	if rules == nil {
		rules = []tank.AlertRule{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(rules),
		"alerts": rules,
	})
}

func (h *Handler) addAlert(c *gin.Context) {
	id := c.Param("id")
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, errInvalidBodyPref+err.Error(), "alert_bind_failed", err)
		return
	}
	rule, err := h.svc.AddAlert(c.Request.Context(), id, tank.AlertRule{Type: tank.AlertType(req.Type), Value: *req.Value})
	if err != nil {
		h.fail(c, "alert_add_failed", err, "tank_id", id)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) deleteAlert(c *gin.Context) {
	id, alertID := c.Param("id"), c.Param("alertId")
	if err := h.svc.DeleteAlert(c.Request.Context(), id, alertID); err != nil {
		h.fail(c, "alert_delete_failed", err, "tank_id", id, "alert_id", alertID)
		return
	}
	c.Status(http.StatusNoContent)
}

// estimate runs the estimator on a hypothetical reading against the stored geometry.
func (h *Handler) estimate(c *gin.Context) {
	id := c.Param("id")
	d, err := strconv.ParseFloat(c.Query("distance_cm"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidDistance})
		return
	}
	est, err := h.svc.Estimate(c.Request.Context(), id, d)
	if err != nil {
		h.fail(c, "estimate_failed", err, "tank_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"distance_cm":      d,
		"volume_liters":    est.VolumeLiters,
		"fill_percent":     est.FillPercent,
		"days_until_empty": est.DaysUntilEmpty,
		"lines":            est.Lines(),
	})
}
