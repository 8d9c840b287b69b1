package call

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"lingochat-backend/internal/middleware"
	"lingochat-backend/internal/service/call"
	"lingochat-backend/internal/service/reaper"
	"lingochat-backend/pkg/pagination"
	"lingochat-backend/pkg/response"
)

// Sweeper runs one zombie sweep on demand
type Sweeper interface {
	RunOnce(ctx context.Context) reaper.Result
}

// Handler handles call HTTP requests
type Handler struct {
	calls   *call.Service
	sweeper Sweeper
}

// NewHandler creates a new call handler
func NewHandler(calls *call.Service, sweeper Sweeper) *Handler {
	return &Handler{
		calls:   calls,
		sweeper: sweeper,
	}
}

// IceServersResponse carries freshly minted relay credentials
type IceServersResponse struct {
	IceServers any `json:"iceServers"`
}

// GetCallState returns a call with its active participants
// GET /v1/calls/:id
func (h *Handler) GetCallState(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	state, err := h.calls.GetCallState(c.Request.Context(), middleware.GetAuthContext(c), callID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GetIceServers mints relay credentials for the caller
// GET /v1/calls/ice-servers
func (h *Handler) GetIceServers(c *gin.Context) {
	servers, err := h.calls.IceServers(middleware.GetAuthContext(c))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, IceServersResponse{IceServers: servers})
}

// ListCallHistory pages through the caller's calls, newest first
// GET /v1/calls/history?page=1&limit=20
func (h *Handler) ListCallHistory(c *gin.Context) {
	params, err := pagination.ParsePaginationParams(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	calls, err := h.calls.ListCallHistory(c.Request.Context(), middleware.GetAuthContext(c), params.Limit, params.Offset)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, pagination.BuildPageResponse(params, len(calls), calls))
}

// ReapZombies runs one zombie sweep immediately
// POST /v1/admin/calls/reap
func (h *Handler) ReapZombies(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()

	response.Success(c, http.StatusOK, h.sweeper.RunOnce(ctx))
}

// RegisterRoutes mounts the call endpoints. auth runs before every route;
// the admin group additionally requires the admin role.
func (h *Handler) RegisterRoutes(router gin.IRouter, auth ...gin.HandlerFunc) {
	calls := router.Group("/v1/calls")
	calls.Use(auth...)
	{
		calls.GET("/ice-servers", h.GetIceServers)
		calls.GET("/history", h.ListCallHistory)
		calls.GET("/:id", h.GetCallState)
	}

	admin := router.Group("/v1/admin/calls")
	admin.Use(auth...)
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/reap", h.ReapZombies)
	}
}
