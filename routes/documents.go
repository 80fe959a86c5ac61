package routes

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"document-chat-platform/internal/ingest"
	"document-chat-platform/internal/queue"
	"document-chat-platform/middleware"
	"document-chat-platform/models"
	"document-chat-platform/utils"
)

func SetupDocumentRoutes(api *gin.RouterGroup, d Deps) {
	docs := api.Group("/documents")
	docs.Use(middleware.RequestSizeLimit(d.Config.MaxFileSize))

	docs.POST("", handleUploadDocument(d))
	docs.GET("", handleListDocuments(d))
	docs.GET("/:hash", handleGetDocument(d))
	docs.DELETE("/:hash", handleDeleteDocument(d))
}

var errFileTooLarge = errors.New("file exceeds maximum size")

// readUpload reads an uploaded part fully, refusing parts over max bytes.
func readUpload(fh *multipart.FileHeader, max int64) ([]byte, error) {
	if fh.Size > max {
		return nil, errFileTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > max {
		return nil, errFileTooLarge
	}
	return data, nil
}

func respondUploadError(c *gin.Context, err error, max int64) {
	if errors.Is(err, errFileTooLarge) {
		utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			"File size exceeds maximum limit", gin.H{"max_size_mb": max / (1024 * 1024)})
		return
	}
	utils.RespondWithBadRequest(c, "Cannot read uploaded file", nil)
}

func handleUploadDocument(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := middleware.GetOwner(c)

		header, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "no_file", "No file provided", nil)
			return
		}
		data, err := readUpload(header, d.Config.MaxFileSize)
		if err != nil {
			respondUploadError(c, err, d.Config.MaxFileSize)
			return
		}

		if async, _ := strconv.ParseBool(c.Query("async")); async {
			enqueueUpload(c, d, owner, header.Filename, data)
			return
		}

		out, err := d.Documents.IngestDocument(c.Request.Context(), data, header.Filename, owner)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}

		status := http.StatusCreated
		if out.Reused {
			status = http.StatusOK
		}
		c.JSON(status, models.IngestResponse{
			ContentHash:  out.Hash,
			Filename:     out.Filename,
			Reused:       out.Reused,
			Pages:        out.Pages,
			Chunks:       out.Chunks,
			FailedChunks: out.FailedChunks,
		})
	}
}

// enqueueUpload parks the bytes in the blob store and hands them to the
// ingest worker.
func enqueueUpload(c *gin.Context, d Deps, owner, filename string, data []byte) {
	if d.Queue == nil || d.Blobs == nil {
		utils.RespondWithError(c, http.StatusServiceUnavailable, "queue_unavailable",
			"Asynchronous ingestion is not configured", nil)
		return
	}
	if len(data) == 0 {
		utils.RespondWithError(c, http.StatusBadRequest, "empty_file", "Uploaded file is empty", nil)
		return
	}

	ctx := c.Request.Context()
	key := "uploads/" + uuid.NewString() + filepath.Ext(filename)
	if err := d.Blobs.Put(ctx, key, data, http.DetectContentType(data)); err != nil {
		_ = c.Error(err)
		utils.RespondWithInternalError(c, "Failed to store upload", nil)
		return
	}

	task, err := queue.NewIngestTask(owner, key, filename)
	if err != nil {
		_ = d.Blobs.Delete(ctx, key)
		utils.RespondWithError(c, http.StatusInternalServerError, "queue_error", "Failed to create processing task", nil)
		return
	}
	info, err := d.Queue.EnqueueContext(ctx, task)
	if err != nil {
		_ = d.Blobs.Delete(ctx, key)
		_ = c.Error(err)
		utils.RespondWithError(c, http.StatusInternalServerError, "queue_error", "Failed to enqueue processing task", nil)
		return
	}

	c.JSON(http.StatusAccepted, models.IngestResponse{
		ContentHash: ingest.HashBytes(data),
		Filename:    filename,
		Queued:      true,
		TaskID:      info.ID,
	})
}

func handleListDocuments(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := d.Documents.List(c.Request.Context(), middleware.GetOwner(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
	}
}

func handleGetDocument(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := d.Documents.Get(c.Request.Context(), c.Param("hash"), middleware.GetOwner(c))
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func handleDeleteDocument(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		hash := c.Param("hash")
		if err := d.Documents.Delete(c.Request.Context(), hash, middleware.GetOwner(c)); err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Document deleted", "content_hash": hash})
	}
}
