package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/internal/metrics"
	"github.com/nandanugg/tracker-relay/module/core/internal/repository/database"
	"github.com/nandanugg/tracker-relay/module/core/service"
)

type locationService interface {
	GetLatest(ctx context.Context) (*domain.DeviceLocation, error)
	GetHistory(ctx context.Context, start, end time.Time) ([]domain.DeviceLocation, error)
	ReportNow(ctx context.Context, trigger string) (*service.Receipt, error)
	PublishCard(name, face string) *service.Receipt
	Clear() *service.Receipt
	SetBattery(level int)
}

type fixSink interface {
	Push(ctx context.Context, fix domain.GeoPoint) error
}

type locationResponse struct {
	DeviceID  string   `json:"device_id"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

type fixRequest struct {
	Latitude  *float64 `json:"lat" binding:"required"`
	Longitude *float64 `json:"lon" binding:"required"`
	Accuracy  *float64 `json:"acc"`
	Altitude  *float64 `json:"alt"`
	Bearing   *float64 `json:"cog"`
	Speed     *float64 `json:"vel"`
	Timestamp int64    `json:"tst"`
	Battery   *int     `json:"batt"`
}

type cardRequest struct {
	Name string `json:"name" binding:"required"`
	Face string `json:"face"`
}

type queuedResponse struct {
	ID string `json:"id"`
}

type LocationHandler struct {
	locationSvc locationService
	fixes       fixSink
}

func NewLocationHandler(locationSvc locationService, fixes fixSink) *LocationHandler {
	return &LocationHandler{locationSvc: locationSvc, fixes: fixes}
}

func (h *LocationHandler) Register(r *gin.RouterGroup) {
	r.GET("/locations/latest", h.GetLatestLocation)
	r.GET("/locations/history", h.GetHistory)
	r.POST("/fixes", h.IngestFix)
	r.POST("/report", h.ReportNow)
	r.POST("/card", h.PublishCard)
	r.POST("/clear", h.Clear)
}

func (h *LocationHandler) GetLatestLocation(c *gin.Context) {
	loc, err := h.locationSvc.GetLatest(c.Request.Context())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no location recorded"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch location"})
		return
	}

	c.JSON(http.StatusOK, toLocationResponse(loc))
}

func (h *LocationHandler) GetHistory(c *gin.Context) {
	start, err := strconv.ParseInt(c.Query("start"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start parameter"})
		return
	}

	end, err := strconv.ParseInt(c.Query("end"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end parameter"})
		return
	}

	locations, err := h.locationSvc.GetHistory(c.Request.Context(), time.Unix(start, 0), time.Unix(end, 0))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}

	results := make([]locationResponse, len(locations))
	for i := range locations {
		results[i] = toLocationResponse(&locations[i])
	}
	c.JSON(http.StatusOK, results)
}

// IngestFix accepts a fix from the location source.
func (h *LocationHandler) IngestFix(c *gin.Context) {
	var req fixRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon are required"})
		return
	}

	fix := domain.GeoPoint{
		Lat:       *req.Latitude,
		Lon:       *req.Longitude,
		Accuracy:  req.Accuracy,
		Altitude:  req.Altitude,
		Bearing:   req.Bearing,
		Speed:     req.Speed,
		Timestamp: req.Timestamp,
	}
	if fix.Timestamp == 0 {
		fix.Timestamp = time.Now().Unix()
	}
	if err := fix.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Battery != nil {
		h.locationSvc.SetBattery(*req.Battery)
	}
	if err := h.fixes.Push(c.Request.Context(), fix); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "location feed unavailable"})
		return
	}
	metrics.FixesIngested.Inc()
	c.Status(http.StatusAccepted)
}

func (h *LocationHandler) ReportNow(c *gin.Context) {
	receipt, err := h.locationSvc.ReportNow(c.Request.Context(), "u")
	if err != nil {
		if errors.Is(err, service.ErrNoFix) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue report"})
		return
	}
	c.JSON(http.StatusAccepted, queuedResponse{ID: receipt.ID()})
}

func (h *LocationHandler) PublishCard(c *gin.Context) {
	var req cardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name: required"})
		return
	}
	receipt := h.locationSvc.PublishCard(req.Name, req.Face)
	c.JSON(http.StatusAccepted, queuedResponse{ID: receipt.ID()})
}

func (h *LocationHandler) Clear(c *gin.Context) {
	receipt := h.locationSvc.Clear()
	c.JSON(http.StatusAccepted, queuedResponse{ID: receipt.ID()})
}

func toLocationResponse(loc *domain.DeviceLocation) locationResponse {
	return locationResponse{
		DeviceID:  loc.DeviceID,
		Latitude:  loc.Fix.Lat,
		Longitude: loc.Fix.Lon,
		Accuracy:  loc.Fix.Accuracy,
		Altitude:  loc.Fix.Altitude,
		Timestamp: loc.Fix.Timestamp,
	}
}
