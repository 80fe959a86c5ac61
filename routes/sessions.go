package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"document-chat-platform/middleware"
	"document-chat-platform/utils"
)

func SetupSessionRoutes(api *gin.RouterGroup, d Deps) {
	sessions := api.Group("/sessions")

	sessions.GET("", func(c *gin.Context) {
		list, err := d.Chat.ListSessions(c.Request.Context(), middleware.GetOwner(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list, "count": len(list)})
	})

	sessions.GET("/:id", func(c *gin.Context) {
		sess, err := d.Chat.GetSession(c.Request.Context(), c.Param("id"), middleware.GetOwner(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	})

	sessions.DELETE("/:id", func(c *gin.Context) {
		id := c.Param("id")
		if err := d.Chat.EndSession(c.Request.Context(), id, middleware.GetOwner(c)); err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Session ended", "session_id": id})
	})
}
