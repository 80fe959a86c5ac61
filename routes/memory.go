package routes

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"document-chat-platform/middleware"
	"document-chat-platform/utils"
)

const (
	defaultMemoryLimit = 10
	maxMemoryLimit     = 100
)

// SetupMemoryRoutes exposes the owner's conversation memory across sessions.
func SetupMemoryRoutes(api *gin.RouterGroup, d Deps) {
	memory := api.Group("/memory")

	memory.GET("", func(c *gin.Context) {
		limit := defaultMemoryLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				utils.RespondWithError(c, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxMemoryLimit)
		}
		mems, err := d.Chat.Memories(c.Request.Context(), middleware.GetOwner(c), limit)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"memories": mems, "count": len(mems)})
	})

	memory.DELETE("", func(c *gin.Context) {
		sessions, turns, err := d.Chat.ClearMemories(c.Request.Context(), middleware.GetOwner(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":          fmt.Sprintf("Cleared %d memories", turns),
			"sessions_cleared": sessions,
			"turns_cleared":    turns,
		})
	})
}
