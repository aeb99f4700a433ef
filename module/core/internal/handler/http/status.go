package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nandanugg/tracker-relay/module/core/domain"
	"github.com/nandanugg/tracker-relay/module/core/service"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type statusSource interface {
	Status() service.EndpointStatus
	Subscribe() (<-chan service.EndpointStatus, func())
}

type queueInspector interface {
	Pending() []service.QueuedMessage
}

type endpointSwitcher interface {
	Mode() domain.ConnectionMode
	SwitchMode(ctx context.Context, mode domain.ConnectionMode) error
}

type statusResponse struct {
	Mode           string            `json:"mode"`
	State          string            `json:"state"`
	Reason         string            `json:"reason,omitempty"`
	UpdatedAt      int64             `json:"updated_at"`
	QueueLength    int               `json:"queue_length"`
	StartedAt      int64             `json:"started_at"`
	LastSentAt     *int64            `json:"last_sent_at,omitempty"`
	InstallationID string            `json:"installation_id,omitempty"`
	Pending        []pendingResponse `json:"pending,omitempty"`
}

type pendingResponse struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	Failures int    `json:"failures"`
	Sending  bool   `json:"sending"`
}

type switchRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type StatusHandler struct {
	status   statusSource
	queue    queueInspector
	switcher endpointSwitcher
	log      *logrus.Entry
}

func NewStatusHandler(status statusSource, queue queueInspector, switcher endpointSwitcher, log *logrus.Entry) *StatusHandler {
	return &StatusHandler{status: status, queue: queue, switcher: switcher, log: log}
}

func (h *StatusHandler) Register(r *gin.RouterGroup) {
	r.GET("/status", h.GetStatus)
	r.GET("/status/stream", h.StreamStatus)
	r.PUT("/endpoint", h.SwitchEndpoint)
}

func (h *StatusHandler) GetStatus(c *gin.Context) {
	resp := h.toStatusResponse(h.status.Status())
	for _, q := range h.queue.Pending() {
		resp.Pending = append(resp.Pending, pendingResponse{
			ID:       q.ID,
			Type:     string(q.Type),
			Topic:    q.Topic,
			Failures: q.Failures,
			Sending:  q.Sending,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// StreamStatus pushes every endpoint status change over a websocket until
// the client goes away.
func (h *StatusHandler) StreamStatus(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("status stream upgrade failed")
		return
	}
	defer conn.Close()

	updates, cancel := h.status.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(h.toStatusResponse(st)); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.WithError(err).Warn("status stream write failed")
				}
				return
			}
		}
	}
}

func (h *StatusHandler) SwitchEndpoint(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode: required"})
		return
	}
	mode, err := domain.ParseConnectionMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.switcher.SwitchMode(c.Request.Context(), mode); err != nil {
		if errors.Is(err, domain.ErrConfigurationIncomplete) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to switch endpoint"})
		return
	}
	c.JSON(http.StatusOK, h.toStatusResponse(h.status.Status()))
}

func (h *StatusHandler) toStatusResponse(st service.EndpointStatus) statusResponse {
	resp := statusResponse{
		Mode:           string(h.switcher.Mode()),
		State:          st.State.Kind.String(),
		Reason:         st.State.Reason,
		UpdatedAt:      st.UpdatedAt.Unix(),
		QueueLength:    st.QueueLength,
		StartedAt:      st.StartedAt.Unix(),
		InstallationID: st.InstallationID,
	}
	if st.LastSentAt != nil {
		ts := st.LastSentAt.Unix()
		resp.LastSentAt = &ts
	}
	return resp
}
