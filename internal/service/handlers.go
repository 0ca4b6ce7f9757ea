package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nvandessel/rumormill/internal/constants"
	"github.com/nvandessel/rumormill/internal/schema"
	"github.com/nvandessel/rumormill/internal/storage"
)

// HandleExecute runs a single statement. With no fetch directive the query
// goes through the single-writer serializer; fetch reads go straight to the
// pool.
func HandleExecute(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExecuteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		ctx := c.Request.Context()
		switch req.Fetch {
		case "":
			res, err := store.Execute(ctx, req.Query, req.Params...)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, Response{
				Success:      true,
				AffectedRows: res.RowsAffected,
				LastRowID:    res.LastInsertID,
			})
		case "one":
			row, err := store.FetchOne(ctx, req.Query, req.Params...)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, Response{Success: true, Data: row})
		case "many":
			rs, err := store.FetchMany(ctx, req.Limit, req.Query, req.Params...)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, Response{Success: true, Data: rs.Rows, Columns: rs.Columns})
		case "all":
			rs, err := store.FetchAll(ctx, req.Query, req.Params...)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, Response{Success: true, Data: rs.Rows, Columns: rs.Columns})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fetch directive: " + req.Fetch})
		}
	}
}

// HandleExecuteMany runs one query per batch row in a single transaction and
// reports the per-row counts.
func HandleExecuteMany(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExecuteManyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		res, err := store.ExecuteMany(c.Request.Context(), req.Query, req.Batch)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{
			Success:      true,
			AffectedRows: res.RowsAffected,
			LastRowID:    res.LastInsertID,
			RowCounts:    res.RowCounts,
		})
	}
}

// HandleTransaction runs the statements atomically.
func HandleTransaction(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if len(req.Statements) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "transaction requires at least one statement"})
			return
		}

		results, err := store.Transaction(c.Request.Context(), req.Statements)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, Response{Success: true, Results: results})
	}
}

// HandleHealth probes the database with a schema version read so a healthy
// answer means the store actually serves queries.
func HandleHealth(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.DefaultHealthTimeout)
		defer cancel()

		row, err := store.FetchOne(ctx, `SELECT MAX(version) FROM schema_version`)
		if err != nil {
			slog.Warn("health probe failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, HealthResponse{
				Status: "degraded",
				Error:  err.Error(),
			})
			return
		}

		version := 0
		if row != nil && row[0] != nil {
			if v, ok := row[0].(int64); ok {
				version = int(v)
			}
		}
		c.JSON(http.StatusOK, HealthResponse{
			Status:        "ok",
			SchemaVersion: version,
		})
	}
}

// HandleStats reports pool occupancy and queue depth.
func HandleStats(store *storage.Store, started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := store.Stats()
		c.JSON(http.StatusOK, gin.H{
			"pool":           stats.Pool,
			"queue_depth":    stats.QueueDepth,
			"queue_cap":      stats.QueueCap,
			"schema_version": schema.Version,
			"uptime_seconds": int64(time.Since(started).Seconds()),
		})
	}
}

func writeError(c *gin.Context, err error) {
	resp := errorResponse(err)
	c.JSON(statusFor(resp.Type), resp)
}
