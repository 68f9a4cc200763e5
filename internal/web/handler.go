package web

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/tank-monitor/internal/channel"
	"github.com/sweeney/tank-monitor/internal/logger"
	"github.com/sweeney/tank-monitor/internal/monitor"
	"github.com/sweeney/tank-monitor/internal/mqtt"
	"github.com/sweeney/tank-monitor/internal/storage"
)

const (
	statusOK = "ok"

	errInvalidBodyPref = "invalid body: "
	errInternal        = "internal error"
)

// Handler wires the HTTP layer to the tank service and logging.
type Handler struct {
	svc *monitor.Service
	log *logger.Logger

	quit     chan struct{}
	quitOnce sync.Once
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(svc *monitor.Service, log *logger.Logger) *Handler {
	return &Handler{
		svc:  svc,
		log:  logger.OrNop(log).Named("web"),
		quit: make(chan struct{}),
	}
}

// Close ends all open websocket streams. Safe to call more than once.
func (h *Handler) Close() {
	h.quitOnce.Do(func() { close(h.quit) })
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", h.health)

	// Status pages
	router.GET("/", h.index)
	router.GET("/index.html", h.index)
	router.GET("/index.json", h.indexJSON)

	h.registerAPIRoutes(router)

	router.GET("/ws/tanks/:id", h.wsTank)

	return router
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		h.registerTankRoutes(api)
		h.registerDeviceRoutes(api)
	}
}

func (h *Handler) registerTankRoutes(api *gin.RouterGroup) {
	tanks := api.Group("/tanks")
	{
		tanks.GET("", h.listTanks)
		tanks.POST("", h.createTank)
		tanks.GET("/:id", h.getTank)
		tanks.PUT("/:id", h.updateTank)
		tanks.DELETE("/:id", h.deleteTank)

		tanks.GET("/:id/alerts", h.listAlerts)
		// Body example: {"type":"FULL","value":90}
		tanks.POST("/:id/alerts", h.addAlert)
		tanks.DELETE("/:id/alerts/:alertId", h.deleteAlert)
		tanks.GET("/:id/alert-events", h.alertEvents)

		tanks.GET("/:id/readings", h.readings)
		tanks.GET("/:id/estimate", h.estimate)

		tanks.POST("/:id/session", h.openSession)
		tanks.GET("/:id/session", h.sessionState)
		tanks.DELETE("/:id/session", h.closeSession)
		tanks.POST("/:id/session/reconnect", h.reconnect)
		// Body example: {"on":true}
		tanks.POST("/:id/pump", h.setPump)
	}
}

func (h *Handler) registerDeviceRoutes(api *gin.RouterGroup) {
	devices := api.Group("/devices")
	{
		devices.POST("/:id/session", h.openDevice)
		devices.GET("/:id/session", h.deviceState)
		devices.DELETE("/:id/session", h.closeDevice)
		// Body example: {"command":"attach","tank_id":"t-1"}
		devices.POST("/:id/commands", h.sendCommand)
		devices.GET("/:id/messages", h.deviceMessages)
		devices.DELETE("/:id/messages", h.clearDeviceMessages)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		if httpCode >= http.StatusInternalServerError {
			h.log.Errorw(logKey, fields...)
		} else {
			h.log.Debugw(logKey, fields...)
		}
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// fail maps a service error to a status code. Client errors echo the
// message; anything else is logged and reported as an internal error.
func (h *Handler) fail(c *gin.Context, logKey string, err error, kv ...interface{}) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = errInternal
	}
	h.logAndJSONError(c, code, msg, logKey, err, kv...)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, monitor.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, monitor.ErrInvalid), errors.Is(err, mqtt.ErrInvalidCommand), errors.Is(err, channel.ErrWrongScope):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrNotConnected), errors.Is(err, channel.ErrClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
