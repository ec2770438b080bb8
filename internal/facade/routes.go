// Package facade is the thin, read-only dashboard facade: it lists the
// core's persisted rows and exposes the single admin PATCH on
// clients.status that the core's contract grants it. It never drives
// training and never computes the rows it serves — the orchestrator
// owns that. The router follows the Gin-router-plus-CORS-middleware
// plus rate-limited-mutation layout used throughout this codebase.
package facade

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/orchestrator"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/internal/store"
	"github.com/PragalvaXFREZ/privacy-preserving-fl/pkg/models"
)

// Handler serves the dashboard facade's read-only routes plus the one
// admin mutation, backed directly by the store's connection pool.
type Handler struct {
	store *store.Store
	hub   *orchestrator.Hub
}

// SetupRouter builds the Gin engine for the facade: CORS middleware
// first, then the public and admin route groups.
func SetupRouter(st *store.Store, hub *orchestrator.Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var.
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
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PATCH, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	h := &Handler{store: st, hub: hub}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		if hub != nil {
			pub.GET("/stream", hub.Subscribe)
		}
		pub.GET("/rounds", h.handleListRounds)
		pub.GET("/rounds/:roundId/metrics", h.handleRoundMetrics)
		pub.GET("/rounds/:roundId/client_updates", h.handleClientUpdates)
		pub.GET("/trust_scores", h.handleTrustScores)
		pub.GET("/clients", h.handleListClients)
	}

	// Admin: the single write this facade is allowed. Guarded by a rate
	// limiter keyed on the target clientId, since client status is a
	// shared mutable resource two operators can race on concurrently.
	admin := r.Group("/api/v1/admin")
	admin.Use(NewRateLimiter(30, 5).Middleware())
	{
		admin.PATCH("/clients/:clientId/status", h.handlePatchClientStatus)
	}

	return r
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "operational",
		"service": "fl-dashboard-facade",
	})
}

// handleListRounds returns training_rounds rows, most recent first.
func (h *Handler) handleListRounds(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := h.store.GetPool().Query(c.Request.Context(), `
		SELECT id, round_number, job_id, status, num_clients, global_loss, global_auc, started_at, completed_at
		FROM training_rounds
		ORDER BY round_number DESC
		LIMIT $1`, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query rounds", "details": err.Error()})
		return
	}
	defer rows.Close()

	var out []models.Round
	for rows.Next() {
		var r models.Round
		if err := rows.Scan(&r.ID, &r.RoundNumber, &r.JobID, &r.Status, &r.NumClients, &r.GlobalLoss, &r.GlobalAUC, &r.StartedAt, &r.CompletedAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to scan round", "details": err.Error()})
			return
		}
		out = append(out, r)
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}

// handleRoundMetrics returns the single round_metrics row for a round, if
// any have been written.
func (h *Handler) handleRoundMetrics(c *gin.Context) {
	roundID, err := strconv.ParseInt(c.Param("roundId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid roundId"})
		return
	}

	var m models.RoundMetric
	err = h.store.GetPool().QueryRow(c.Request.Context(), `
		SELECT id, round_id, aggregation_method, weiszfeld_iterations, convergence_epsilon, encryption_overhead_ms, aggregation_time_ms, poisoned_clients_detected
		FROM round_metrics
		WHERE round_id = $1`, roundID).
		Scan(&m.ID, &m.RoundID, &m.AggregationMethod, &m.WeiszfeldIterations, &m.ConvergenceEpsilon, &m.EncryptionOverheadMs, &m.AggregationTimeMs, &m.PoisonedClientsDetected)
	if err == pgx.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "no metrics recorded for this round"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query round metrics", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, m)
}

// handleClientUpdates returns per-client update rows for a round.
func (h *Handler) handleClientUpdates(c *gin.Context) {
	roundID, err := strconv.ParseInt(c.Param("roundId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid roundId"})
		return
	}

	rows, err := h.store.GetPool().Query(c.Request.Context(), `
		SELECT id, round_id, client_id, local_loss, local_auc, num_samples, euclidean_distance, encryption_status, submitted_at
		FROM client_updates
		WHERE round_id = $1
		ORDER BY id ASC`, roundID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query client updates", "details": err.Error()})
		return
	}
	defer rows.Close()

	var out []models.ClientUpdateRecord
	for rows.Next() {
		var u models.ClientUpdateRecord
		if err := rows.Scan(&u.ID, &u.RoundID, &u.ClientPK, &u.LocalLoss, &u.LocalAUC, &u.NumSamples, &u.EuclideanDistance, &u.EncryptionStatus, &u.SubmittedAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to scan client update", "details": err.Error()})
			return
		}
		out = append(out, u)
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}

// handleTrustScores returns the orchestrator-computed trust_scores rows,
// optionally filtered to a single client via ?client=.
func (h *Handler) handleTrustScores(c *gin.Context) {
	clientFilter := c.Query("client")

	var rows pgx.Rows
	var err error
	pool := h.store.GetPool()
	if clientFilter != "" {
		rows, err = pool.Query(c.Request.Context(), `
			SELECT t.id, t.client_id, COALESCE(c.client_id, ''), t.round_id, t.score, t.deviation_avg, t.is_flagged, t.created_at
			FROM trust_scores t
			LEFT JOIN clients c ON c.id = t.client_id
			WHERE c.client_id = $1
			ORDER BY t.id DESC`, clientFilter)
	} else {
		rows, err = pool.Query(c.Request.Context(), `
			SELECT t.id, t.client_id, COALESCE(c.client_id, ''), t.round_id, t.score, t.deviation_avg, t.is_flagged, t.created_at
			FROM trust_scores t
			LEFT JOIN clients c ON c.id = t.client_id
			ORDER BY t.id DESC
			LIMIT 200`)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query trust scores", "details": err.Error()})
		return
	}
	defer rows.Close()

	var out []models.TrustScore
	for rows.Next() {
		var ts models.TrustScore
		if err := rows.Scan(&ts.ID, &ts.ClientPK, &ts.ClientName, &ts.RoundID, &ts.Score, &ts.DeviationAvg, &ts.IsFlagged, &ts.ComputedAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to scan trust score", "details": err.Error()})
			return
		}
		out = append(out, ts)
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}

// handleListClients returns clients rows, backing fl_monitor_service.py's
// heartbeat/status polling with a read-only endpoint.
func (h *Handler) handleListClients(c *gin.Context) {
	rows, err := h.store.GetPool().Query(c.Request.Context(), `
		SELECT id, client_id, name, status, last_heartbeat FROM clients ORDER BY id ASC`)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query clients", "details": err.Error()})
		return
	}
	defer rows.Close()

	var out []models.Client
	for rows.Next() {
		var cl models.Client
		if err := rows.Scan(&cl.ID, &cl.ClientID, &cl.Name, &cl.Status, &cl.LastHeartbeat); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to scan client", "details": err.Error()})
			return
		}
		out = append(out, cl)
	}

	c.JSON(http.StatusOK, gin.H{"data": out})
}

// handlePatchClientStatus is the single admin mutation the facade's
// contract with the core grants it: PATCH clients.status.
// PATCH /api/v1/admin/clients/:clientId/status { "status": "active" }
func (h *Handler) handlePatchClientStatus(c *gin.Context) {
	clientID := c.Param("clientId")

	var req struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected JSON body {\"status\": \"...\"}"})
		return
	}

	tag, err := h.store.GetPool().Exec(c.Request.Context(), `
		UPDATE clients SET status = $1 WHERE client_id = $2`, req.Status, clientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update client status", "details": err.Error()})
		return
	}
	if tag.RowsAffected() == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown client"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"clientId": clientID, "status": req.Status})
}
