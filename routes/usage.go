package routes

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"document-chat-platform/middleware"
	"document-chat-platform/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func SetupUsageRoutes(api *gin.RouterGroup, d Deps) {
	usage := api.Group("/usage")

	usage.GET("", func(c *gin.Context) {
		since := parseSince(c.Query("since"), time.Now())
		summary, err := d.Usage.Summary(c.Request.Context(), middleware.GetOwner(c), since)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	usage.GET("/export", func(c *gin.Context) {
		now := time.Now()
		since := parseSince(c.Query("since"), now)
		data, err := d.Usage.ExportXLSX(c.Request.Context(), middleware.GetOwner(c), since)
		if err != nil {
			utils.RespondWithAppError(c, err)
			return
		}
		filename := fmt.Sprintf("usage_%s.xlsx", now.UTC().Format("20060102"))
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, xlsxContentType, data)
	})
}

// parseSince accepts an RFC 3339 timestamp, a period such as "7d", "month"
// or "1y", or nothing, which means the last 30 days.
func parseSince(v string, now time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return now.Add(-parsePeriod(v))
}

func parsePeriod(period string) time.Duration {
	switch period {
	case "7d":
		return 7 * 24 * time.Hour
	case "30d", "month":
		return 30 * 24 * time.Hour
	case "90d":
		return 90 * 24 * time.Hour
	case "1y", "year":
		return 365 * 24 * time.Hour
	default:
		if strings.HasSuffix(period, "d") {
			if n, err := strconv.Atoi(strings.TrimSuffix(period, "d")); err == nil && n > 0 {
				return time.Duration(n) * 24 * time.Hour
			}
		}
		return 30 * 24 * time.Hour
	}
}
