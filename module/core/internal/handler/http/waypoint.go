package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/database"
	"github.com/nandanugg/tracker-relay/module/core/service"
)

type waypointService interface {
	CreateWaypoint(ctx context.Context, r *domain.Region) error
	GetWaypoint(ctx context.Context, id int64) (*domain.Region, error)
	UpdateWaypoint(ctx context.Context, r *domain.Region) error
	DeleteWaypoint(ctx context.Context, id int64) error
	ListWaypoints(ctx context.Context) ([]domain.Region, error)
	ClearWaypoints(ctx context.Context) error
	PublishWaypoints(ctx context.Context) (*service.Receipt, error)
}

type waypointRequest struct {
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Radius      float64 `json:"radius"`
}

type waypointResponse struct {
	ID              int64   `json:"id"`
	Description     string  `json:"description"`
	Latitude        float64 `json:"latitude"`
	Longitude       float64 `json:"longitude"`
	Radius          float64 `json:"radius"`
	LastTransition  string  `json:"last_transition"`
	LastTriggeredAt *int64  `json:"last_triggered_at,omitempty"`
	CreatedAt       int64   `json:"created_at"`
}

type WaypointHandler struct {
	waypointSvc waypointService
}

func NewWaypointHandler(waypointSvc waypointService) *WaypointHandler {
	return &WaypointHandler{waypointSvc: waypointSvc}
}

func (h *WaypointHandler) Register(r *gin.RouterGroup) {
	r.GET("/waypoints", h.ListWaypoints)
	r.POST("/waypoints", h.CreateWaypoint)
	r.DELETE("/waypoints", h.ClearWaypoints)
	r.POST("/waypoints/publish", h.PublishWaypoints)
	r.GET("/waypoints/:id", h.GetWaypoint)
	r.PUT("/waypoints/:id", h.UpdateWaypoint)
	r.DELETE("/waypoints/:id", h.DeleteWaypoint)
}

func (h *WaypointHandler) ListWaypoints(c *gin.Context) {
	regions, err := h.waypointSvc.ListWaypoints(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch waypoints"})
		return
	}

	results := make([]waypointResponse, len(regions))
	for i := range regions {
		results[i] = toWaypointResponse(&regions[i])
	}
	c.JSON(http.StatusOK, results)
}

func (h *WaypointHandler) CreateWaypoint(c *gin.Context) {
	var req waypointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	r := req.toRegion()
	r.CreatedAt = time.Now()
	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.waypointSvc.CreateWaypoint(c.Request.Context(), r); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create waypoint"})
		return
	}
	c.JSON(http.StatusCreated, toWaypointResponse(r))
}

func (h *WaypointHandler) GetWaypoint(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	r, err := h.waypointSvc.GetWaypoint(c.Request.Context(), id)
	if err != nil {
		writeLookupError(c, err, "failed to fetch waypoint")
		return
	}
	c.JSON(http.StatusOK, toWaypointResponse(r))
}

func (h *WaypointHandler) UpdateWaypoint(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req waypointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	existing, err := h.waypointSvc.GetWaypoint(c.Request.Context(), id)
	if err != nil {
		writeLookupError(c, err, "failed to fetch waypoint")
		return
	}
	r := req.toRegion()
	r.ID = id
	r.CreatedAt = existing.CreatedAt
	r.LastTransition = existing.LastTransition
	r.LastTriggeredAt = existing.LastTriggeredAt
	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.waypointSvc.UpdateWaypoint(c.Request.Context(), r); err != nil {
		writeLookupError(c, err, "failed to update waypoint")
		return
	}
	c.JSON(http.StatusOK, toWaypointResponse(r))
}

func (h *WaypointHandler) DeleteWaypoint(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.waypointSvc.DeleteWaypoint(c.Request.Context(), id); err != nil {
		writeLookupError(c, err, "failed to delete waypoint")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WaypointHandler) ClearWaypoints(c *gin.Context) {
	if err := h.waypointSvc.ClearWaypoints(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear waypoints"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WaypointHandler) PublishWaypoints(c *gin.Context) {
	receipt, err := h.waypointSvc.PublishWaypoints(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue waypoints"})
		return
	}
	c.JSON(http.StatusAccepted, queuedResponse{ID: receipt.ID()})
}

func (req waypointRequest) toRegion() *domain.Region {
	return &domain.Region{
		Description: req.Description,
		Center:      domain.GeoPoint{Lat: req.Latitude, Lon: req.Longitude},
		Radius:      req.Radius,
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func writeLookupError(c *gin.Context, err error, msg string) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "waypoint not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func toWaypointResponse(r *domain.Region) waypointResponse {
	resp := waypointResponse{
		ID:             r.ID,
		Description:    r.Description,
		Latitude:       r.Center.Lat,
		Longitude:      r.Center.Lon,
		Radius:         r.Radius,
		LastTransition: r.LastTransition.String(),
		CreatedAt:      r.CreatedAt.Unix(),
	}
	if r.LastTriggeredAt != nil {
		ts := r.LastTriggeredAt.Unix()
		resp.LastTriggeredAt = &ts
	}
	return resp
}
