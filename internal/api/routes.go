package api

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/parcelworks/zipnet-engine/internal/coordinator"
	"github.com/parcelworks/zipnet-engine/internal/db"
	"github.com/parcelworks/zipnet-engine/pkg/models"
)

type APIHandler struct {
	coord   *coordinator.Coordinator
	dbStore *db.PostgresStore
	wsHub   *Hub
}

func SetupRouter(coord *coordinator.Coordinator, dbStore *db.PostgresStore, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://dashboard.example.com
	// Development: leave empty for *
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Zipnet-Identity, X-Zipnet-Timestamp, X-Zipnet-Signature")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{coord: coord, dbStore: dbStore, wsHub: wsHub}
	keyStore := NewEnvKeyStore()
	limiter := NewRateLimiter(120, 30)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)
		api.GET("/epochs/:epochId", handler.handleEpochMetadata)
		api.GET("/scores/:epochId", handler.handleScores)

		signed := api.Group("")
		signed.Use(AuthMiddleware(keyStore))
		{
			signed.GET("/assignments/current", handler.handleCurrentAssignment)
			signed.POST("/assignments/status", handler.handleUpdateStatus)
		}
	}

	return r
}

// handleCurrentAssignment returns the active epoch's zipcode assignments for
// the authenticated miner. Honeypot flags are stripped by the coordinator.
func (h *APIHandler) handleCurrentAssignment(c *gin.Context) {
	minerID := Identity(c)
	if minerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing miner identity"})
		return
	}

	assignment, err := h.coord.CurrentAssignment(minerID)
	if errors.Is(err, models.ErrAssignmentNotReady) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No active epoch",
			"hint":  "Back off and re-poll; epochs rotate on the 4-hour UTC grid",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Assignment lookup failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, assignment)
}

// handleUpdateStatus records a miner progress report.
// POST /api/v1/assignments/status {epochId, listingsScraped, uploadComplete, status}
func (h *APIHandler) handleUpdateStatus(c *gin.Context) {
	minerID := Identity(c)
	if minerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing miner identity"})
		return
	}

	var report coordinator.StatusReport
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {epochId, listingsScraped, uploadComplete, status}"})
		return
	}
	if report.Status != "in_progress" && report.Status != "completed" && report.Status != "failed" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be in_progress, completed or failed"})
		return
	}

	err := h.coord.UpdateStatus(c.Request.Context(), minerID, report)
	switch {
	case errors.Is(err, models.ErrEpochClosed):
		c.JSON(http.StatusGone, gin.H{"error": "Epoch closed; reports are no longer accepted"})
		return
	case errors.Is(err, models.ErrEpochNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown epoch"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record status", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "recorded",
		"receipt": uuid.NewString(),
		"epochId": report.EpochID,
	})
}

// handleEpochMetadata is the validator-facing read: full frozen record,
// nonce and honeypot flags included.
func (h *APIHandler) handleEpochMetadata(c *gin.Context) {
	epoch, err := h.coord.EpochMetadata(c.Request.Context(), c.Param("epochId"))
	if errors.Is(err, models.ErrEpochNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown epoch"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Epoch lookup failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, epoch)
}

// handleScores returns the stored epoch result and consensus outcome.
func (h *APIHandler) handleScores(c *gin.Context) {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database not connected"})
		return
	}
	result, outcome, err := h.dbStore.GetEpochResult(c.Request.Context(), c.Param("epochId"))
	if errors.Is(err, models.ErrEpochNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No result for epoch"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Result lookup failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":  result,
		"outcome": outcome,
	})
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "Zipnet Subnet Engine v1.0",
		"capabilities": gin.H{
			"multi_tier_validation": true,
			"deterministic_spot_check": true,
			"honeypot_detection":    true,
			"consensus_hashing":     true,
			"epoch_scheduler":       true,
		},
		"dbConnected": h.dbStore != nil,
	})
}
