package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/autobackup/pkg/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AdminRoutes sets up health, metrics and the read-only JSON API
func AdminRoutes(r *gin.Engine, services *Services) {
	r.GET("/health", handleHealth(services))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/backups", listBackups(services))
		api.GET("/pending", listPending(services))
		api.GET("/clients", listClients(services))
	}
}

func handleHealth(services *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "autobackup",
			"device":  services.Config.Device.FriendlyName,
			"pending": len(services.Registry.Pending()),
			"time":    time.Now().UTC(),
		})
	}
}

func listBackups(services *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		if services.Catalog == nil {
			c.JSON(http.StatusServiceUnavailable, types.APIResponse{
				Success: false,
				Error:   "Backup catalog is not configured",
			})
			return
		}

		filter := &types.BackupFilter{
			Date:       c.Query("date"),
			ClientAddr: c.Query("client"),
			Limit:      defaultListLimit,
		}
		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				c.JSON(http.StatusBadRequest, types.APIResponse{
					Success: false,
					Error:   "Invalid limit",
				})
				return
			}
			filter.Limit = min(limit, maxListLimit)
		}
		if raw := c.Query("offset"); raw != "" {
			offset, err := strconv.Atoi(raw)
			if err != nil || offset < 0 {
				c.JSON(http.StatusBadRequest, types.APIResponse{
					Success: false,
					Error:   "Invalid offset",
				})
				return
			}
			filter.Offset = offset
		}

		records, total, err := services.Catalog.List(c.Request.Context(), filter)
		if err != nil {
			log.Error().Err(err).Msg("failed to list backups")
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   "Failed to list backups",
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data: gin.H{
				"backups": records,
				"total":   total,
			},
		})
	}
}

func listPending(services *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    services.Registry.Pending(),
		})
	}
}

func listClients(services *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := services.Tracker.List(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("failed to list clients")
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   "Failed to list clients",
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    sessions,
		})
	}
}
