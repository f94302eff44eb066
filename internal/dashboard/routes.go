package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// statsResponse is the JSON body of GET /api/stats. User identities are
// never exposed.
type statsResponse struct {
	TotalMessages int64 `json:"total_messages"`
	TotalUsers    int64 `json:"total_users"`
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, stats StatsSource, log zerolog.Logger) {
	router.GET("/", handleIndex(stats, log))
	router.GET("/healthz", handleHealth())
	router.GET("/api/stats", handleStats(stats, log))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleStats(stats StatsSource, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := stats.Stats(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("read stats")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats unavailable"})
			return
		}
		c.JSON(http.StatusOK, statsResponse{TotalMessages: s.TotalMessages, TotalUsers: s.TotalUsers})
	}
}

func handleIndex(stats StatsSource, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := stats.Stats(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("read stats")
			c.HTML(http.StatusServiceUnavailable, "index.html", gin.H{"unavailable": true})
			return
		}
		c.HTML(http.StatusOK, "index.html", gin.H{
			"totalMessages": s.TotalMessages,
			"totalUsers":    s.TotalUsers,
		})
	}
}
