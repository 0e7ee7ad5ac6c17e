// Package adminhttp exposes the node's operator-facing HTTP plane — health,
// status, and Prometheus metrics — kept entirely separate from the binary
// client and replication wire protocols (spec §6 carves those out as a
// distinct TCP surface; this package is the "ambient" observability plane
// every node in the corpus carries alongside its domain protocol).
package adminhttp

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"kvnode/internal/cluster"
	"kvnode/internal/storage"
)

// Logger mirrors the teacher's api.Logger middleware, adapted to zerolog
// instead of the standard log package.
func Logger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("admin request")
	}
}

// Recovery mirrors the teacher's api.Recovery middleware, logging panics
// structurally instead of with log.Printf.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("admin handler panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// Handler holds the dependencies the admin routes report on.
type Handler struct {
	nodeID     string
	engine     *storage.Engine
	election   *cluster.Election
	membership *cluster.Membership
}

// NewHandler constructs a Handler. election and membership may be nil in
// single-node mode.
func NewHandler(nodeID string, engine *storage.Engine, election *cluster.Election, membership *cluster.Membership) *Handler {
	return &Handler{nodeID: nodeID, engine: engine, election: election, membership: membership}
}

// Register mounts /health, /status, and /metrics on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/status", h.status)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *Handler) health(c *gin.Context) {
	if h.engine.Degraded() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"node": h.nodeID, "status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": h.nodeID, "status": "ok"})
}

func (h *Handler) status(c *gin.Context) {
	IsPrimary.Set(0)
	body := gin.H{
		"node":              h.nodeID,
		"last_applied_seq":  h.engine.LastAppliedSeq(),
		"degraded":          h.engine.Degraded(),
	}

	if h.election != nil {
		role := h.election.Role()
		body["role"] = role.String()
		body["term"] = h.election.Term()
		body["leader_hint"] = h.election.LeaderHint()
		CurrentTerm.Set(float64(h.election.Term()))
		if role == cluster.Primary {
			IsPrimary.Set(1)
		}
	}
	if h.membership != nil {
		body["cluster_size"] = h.membership.Count()
	}

	LastAppliedSeq.Set(float64(h.engine.LastAppliedSeq()))
	c.JSON(http.StatusOK, body)
}
