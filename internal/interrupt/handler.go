package interrupt

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"interruptd/internal/collector"
	"interruptd/internal/logger"
	"interruptd/internal/rules"
	"interruptd/internal/settings"
	"interruptd/pkg/errors"
)

// SourceHAStateChange is the well-known home automation source whose
// watchlist is exposed directly on the control surface.
const SourceHAStateChange = "ha.state_change"

type Handler struct {
	Service   *Service
	Settings  *settings.Store
	Registrar *collector.Registrar
	Logger    logger.Logger
}

func NewHandler(service *Service, st *settings.Store, reg *collector.Registrar, log logger.Logger) *Handler {
	return &Handler{
		Service:   service,
		Settings:  st,
		Registrar: reg,
		Logger:    log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/trigger", h.Trigger)

	router.GET("/rules", h.ListRules)
	router.GET("/rules/ha-entities", h.HAEntities)
	router.POST("/rules", h.AddRule)
	router.POST("/add-rule", h.AddRule)
	router.DELETE("/rules/:id", h.DeleteRule)

	router.GET("/settings", h.GetSettings)
	router.PUT("/settings", h.UpdateSettings)

	router.GET("/stats", h.Stats)
	router.GET("/health", h.Health)
	router.POST("/reload", h.Reload)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.Logger.Errorw("Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

func (h *Handler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	if req.Source == "" {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithMessage("Missing required field: source")))
		return
	}

	c.JSON(http.StatusOK, h.Service.ProcessTrigger(req.Source, req.Data, req.Level))
}

func (h *Handler) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.rules.List())
}

func (h *Handler) HAEntities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entities": h.Registrar.Watchlist(SourceHAStateChange)})
}

func (h *Handler) AddRule(c *gin.Context) {
	var rule rules.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	skip := c.Query("skip_validation") == "1"

	stored, validated, err := h.Service.AddRule(c.Request.Context(), rule, skip)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "added",
		"rule":      stored,
		"validated": validated,
	})
}

func (h *Handler) DeleteRule(c *gin.Context) {
	warning, err := h.Service.DeleteRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	resp := gin.H{"status": "deleted"}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.Settings.Current())
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var patch settings.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	updated, err := h.Settings.ApplyPatch(patch)
	if err != nil {
		h.handleError(c, errors.ErrInternal.WithCause(err))
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.Stats())
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pid": os.Getpid()})
}

func (h *Handler) Reload(c *gin.Context) {
	result, err := h.Service.Reload(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
