package routes

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"document-chat-platform/utils"
)

// SetupHealthRoutes registers /health. Each dependency is pinged with a
// short timeout; any failure turns the response into a 503.
func SetupHealthRoutes(router *gin.Engine, checks map[string]Pinger) {
	router.GET("/health", func(c *gin.Context) {
		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		status := "healthy"
		code := http.StatusOK
		deps := gin.H{}
		for _, name := range names {
			ctx, cancel := utils.WithShortTimeout(c.Request.Context())
			err := checks[name](ctx)
			cancel()
			if err != nil {
				deps[name] = err.Error()
				status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		c.JSON(code, gin.H{"status": status, "timestamp": time.Now(), "dependencies": deps})
	})
}
