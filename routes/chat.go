package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"document-chat-platform/internal/apperr"
	"document-chat-platform/middleware"
	"document-chat-platform/models"
	"document-chat-platform/services"
	"document-chat-platform/utils"
)

func SetupChatRoutes(api *gin.RouterGroup, d Deps) {
	chat := api.Group("/chat")
	chat.Use(middleware.RequestSizeLimit(d.Config.MaxFileSize))

	chat.POST("", handleChatTurn(d))
}

// chatFiles collects attachments sent as "files" or "files[]".
func chatFiles(c *gin.Context, max int64) ([]services.ChatFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil
	}
	headers := append(form.File["files"], form.File["files[]"]...)
	files := make([]services.ChatFile, 0, len(headers))
	for _, fh := range headers {
		data, err := readUpload(fh, max)
		if err != nil {
			return nil, err
		}
		files = append(files, services.ChatFile{Filename: fh.Filename, Data: data})
	}
	return files, nil
}

// handleChatTurn streams one chat turn as server-sent events: warning and
// token events while the answer is produced, then a single done event with
// the turn metadata, or an error event.
func handleChatTurn(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		prompt := c.PostForm("prompt")
		if strings.TrimSpace(prompt) == "" {
			utils.RespondWithAppError(c, apperr.ErrEmptyPrompt)
			return
		}
		files, err := chatFiles(c, d.Config.MaxFileSize)
		if err != nil {
			respondUploadError(c, err, d.Config.MaxFileSize)
			return
		}

		req := services.ChatTurnRequest{
			Owner:     middleware.GetOwner(c),
			SessionID: c.PostForm("session_id"),
			Prompt:    prompt,
			Task:      c.PostForm("task"),
			Files:     files,
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		ctx := c.Request.Context()
		emit := func(ev models.ChatEvent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.SSEvent(ev.Type, ev)
			c.Writer.Flush()
			return nil
		}

		result, err := d.Chat.ChatTurn(ctx, req, emit)
		if err != nil {
			_ = c.Error(err)
			message := err.Error()
			if apperr.HTTPStatus(err) == http.StatusInternalServerError {
				message = "An unexpected error occurred"
			}
			c.SSEvent(models.EventError, utils.ErrorResponse{
				ErrorCode: apperr.Code(err),
				Message:   message,
			})
			c.Writer.Flush()
			return
		}

		c.SSEvent(models.EventDone, result)
		c.Writer.Flush()
	}
}
