package config

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// EndpointProbe reports the active endpoint's mode, its state and whether
// that state counts as healthy.
type EndpointProbe func() (mode, state string, healthy bool)

type HealthChecker struct {
	db       *sql.DB
	amqpConn *amqp.Connection
	redis    *redis.Client
	endpoint EndpointProbe
}

// NewHealthChecker builds the checker. amqpConn and redisClient may be nil
// when the corresponding feature is disabled.
func NewHealthChecker(db *sql.DB, amqpConn *amqp.Connection, redisClient *redis.Client, endpoint EndpointProbe) *HealthChecker {
	return &HealthChecker{db: db, amqpConn: amqpConn, redis: redisClient, endpoint: endpoint}
}

func (h *HealthChecker) Register(r *gin.Engine) {
	r.GET("/healthz", h.Handle)
}

func (h *HealthChecker) Handle(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}

	if err := h.db.PingContext(c.Request.Context()); err != nil {
		deps["postgres"] = gin.H{"status": "down", "error": err.Error()}
		status = http.StatusServiceUnavailable
	} else {
		deps["postgres"] = gin.H{"status": "up"}
	}

	if h.amqpConn != nil {
		if h.amqpConn.IsClosed() {
			deps["rabbitmq"] = gin.H{"status": "down", "error": "connection closed"}
			status = http.StatusServiceUnavailable
		} else {
			deps["rabbitmq"] = gin.H{"status": "up"}
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			deps["redis"] = gin.H{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
		} else {
			deps["redis"] = gin.H{"status": "up"}
		}
	}

	// a disconnected or failing endpoint degrades the report without
	// failing it, since messages are still queued
	mode, state, healthy := h.endpoint()
	endpointStatus := "up"
	if !healthy {
		endpointStatus = "degraded"
	}
	deps["endpoint"] = gin.H{"status": endpointStatus, "mode": mode, "state": state}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	} else if !healthy {
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status":       overall,
		"dependencies": deps,
	})
}
