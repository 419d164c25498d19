package routes

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/autobackup/internal/backup"
	"github.com/lgulliver/autobackup/internal/metrics"
	"github.com/lgulliver/autobackup/internal/soap"
	"github.com/lgulliver/autobackup/pkg/types"
)

// UploadRoutes sets up the endpoint the camera POSTs object content to
func UploadRoutes(r *gin.Engine, services *Services) {
	r.POST(soap.UploadPath, handleUpload(services))
}

// objectIDFromQuery extracts the id from didx=0_id=<object_id>
func objectIDFromQuery(didx string) (string, bool) {
	_, id, ok := strings.Cut(didx, "=")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// handleUpload answers 200 with an empty body whatever happens; failures are
// only logged
func handleUpload(services *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.RemoteIP()

		objectID, ok := objectIDFromQuery(c.Query("didx"))
		if !ok {
			log.Error().Str("client", client).Str("query", c.Request.URL.RawQuery).Msg("upload without object id")
			c.Status(http.StatusOK)
			return
		}

		extendWriteDeadline(c, services)

		stored, err := services.Registry.WriteObject(c.Request.Context(), objectID, c.Request.Body)
		if err != nil {
			status := metrics.StatusFailed
			if errors.Is(err, backup.ErrObjectNotFound) {
				status = metrics.StatusNotFound
			}
			metrics.RecordUpload("unknown", status, 0, 0)
			log.Error().Err(err).Str("client", client).Str("object_id", objectID).Msg("failed to receive upload")
			c.Status(http.StatusOK)
			return
		}

		metrics.RecordUpload(stored.ContentType, metrics.StatusSuccess, stored.Written, stored.Duration.Seconds())

		if services.Catalog != nil {
			record := types.NewBackupRecord(stored, knownUserAgent(c, services))
			if err := services.Catalog.Record(c.Request.Context(), record); err != nil {
				log.Error().Err(err).Str("object_id", objectID).Msg("failed to catalog backup")
			}
		}

		c.Status(http.StatusOK)
	}
}

// extendWriteDeadline moves the write deadline past the time the body may
// take to arrive; http.Server starts the WriteTimeout clock once headers are read
func extendWriteDeadline(c *gin.Context, services *Services) {
	server := services.Config.Server

	var deadline time.Time
	if server.ReadTimeout > 0 {
		deadline = time.Now().Add(server.ReadTimeout + server.WriteTimeout)
	}
	err := http.NewResponseController(c.Writer).SetWriteDeadline(deadline)
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Warn().Err(err).Str("client", c.RemoteIP()).Msg("failed to extend upload write deadline")
	}
}
