package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jervisd/jervis/app/cfg"
	"github.com/jervisd/jervis/app/database"
)

func NewHandler(connCache *cfg.ConnCache, items database.ItemRepository,
	conns database.ConnectionRepository, tasksRepo database.TaskRepository) *Handler {
	return &Handler{
		connCache: connCache,
		items:     items,
		conns:     conns,
		tasksRepo: tasksRepo,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if counts, err := h.items.CountByState(c.Request.Context(), ""); err == nil {
		health["items"] = counts
	}

	health["loaded_connections"] = h.connCache.GetConnCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	itemCounts, err := h.items.CountByState(ctx, "")
	if err != nil {
		slog.Error("Database error", "operation", "count_items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	stats["items"] = itemCounts

	perSource := make(map[string]map[string]int)
	for source := range map[string]bool{
		cfg.SourceGit: true, cfg.SourceJira: true, cfg.SourceConfluence: true,
		cfg.SourceEmail: true, cfg.SourceFeed: true,
	} {
		if counts, err := h.items.CountByState(ctx, source); err == nil && len(counts) > 0 {
			perSource[source] = counts
		}
	}
	stats["items_by_source"] = perSource

	if taskCounts, err := h.tasksRepo.CountByStatus(ctx); err == nil {
		stats["tasks"] = taskCounts
	}

	if conns, err := h.conns.ListAll(ctx); err == nil {
		active, invalid := 0, 0
		for _, conn := range conns {
			switch conn.Status {
			case database.ConnActive:
				active++
			case database.ConnInvalid:
				invalid++
			}
		}
		stats["connections"] = map[string]int{
			"active":  active,
			"invalid": invalid,
			"total":   len(conns),
		}
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListConnections(c *gin.Context) {
	ctx := c.Request.Context()

	stored, err := h.conns.ListAll(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "list_connections", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	connections := make([]map[string]interface{}, 0, len(stored))
	for _, conn := range stored {
		info := map[string]interface{}{
			"id":             conn.ID,
			"name":           conn.Name,
			"source":         conn.SourceType,
			"base_url":       conn.BaseURL,
			"status":         conn.Status,
			"last_polled_at": conn.LastPolledAt,
			"last_synced_at": conn.LastSyncedAt,
		}
		if conn.LastError != "" {
			info["last_error"] = conn.LastError
		}
		if def, err := h.connCache.GetConn(conn.Name); err == nil {
			info["enabled"] = def.Enabled
			info["timeout"] = (time.Duration(def.Settings.Timeout) * time.Second).String()
			info["max_batch"] = def.Settings.MaxBatch
		}
		connections = append(connections, info)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"connections": connections,
		"total":       len(connections),
	})
}

func (h *Handler) GetConnectionDetails(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing connection name parameter"})
		return
	}

	conn, err := h.conns.GetConnectionByName(c.Request.Context(), name)
	if err != nil {
		slog.Error("Database error", "operation", "get_connection", "connection", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
		return
	}

	details := map[string]interface{}{
		"id":             conn.ID,
		"name":           conn.Name,
		"source":         conn.SourceType,
		"base_url":       conn.BaseURL,
		"status":         conn.Status,
		"last_error":     conn.LastError,
		"last_polled_at": conn.LastPolledAt,
		"last_synced_at": conn.LastSyncedAt,
		"created_at":     conn.CreatedAt,
		"updated_at":     conn.UpdatedAt,
	}

	if def, err := h.connCache.GetConn(conn.Name); err == nil {
		details["definition"] = map[string]interface{}{
			"enabled":   def.Enabled,
			"timeout":   (time.Duration(def.Settings.Timeout) * time.Second).String(),
			"max_batch": def.Settings.MaxBatch,
		}
	}

	if counts, err := h.items.CountByState(c.Request.Context(), conn.SourceType); err == nil {
		details["items"] = counts
	}

	c.JSON(http.StatusOK, details)
}

// ActivateConnection returns an invalidated connection to active after an
// operator has fixed its credentials.
func (h *Handler) ActivateConnection(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing connection name parameter"})
		return
	}

	conn, err := h.conns.GetConnectionByName(c.Request.Context(), name)
	if err != nil {
		slog.Error("Database error", "operation", "get_connection", "connection", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if conn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
		return
	}

	if err := h.conns.Activate(c.Request.Context(), conn.ID); err != nil {
		slog.Error("Database error", "operation", "activate_connection", "connection", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	slog.Info("Connection activated", "connection", name)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Connection activated",
		"connection": gin.H{
			"id":   conn.ID,
			"name": conn.Name,
		},
	})
}

func (h *Handler) ListItems(c *gin.Context) {
	sourceType := c.Query("source")
	state := c.Query("state")

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = parsed
	}

	items, err := h.items.ListItems(c.Request.Context(), sourceType, state, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	listed := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		listed = append(listed, itemSummary(item))
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"items": listed,
		"total": len(listed),
	})
}

func (h *Handler) GetItem(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing item id parameter"})
		return
	}

	item, err := h.items.GetItem(c.Request.Context(), id)
	if err != nil {
		slog.Error("Database error", "operation", "get_item", "item", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}

	details := itemSummary(*item)
	details["content"] = item.Content
	details["lease_expires"] = item.LeaseExpires
	details["correlation_id"] = item.CorrelationID
	details["created_at"] = item.CreatedAt
	details["updated_at"] = item.UpdatedAt

	c.JSON(http.StatusOK, details)
}

// RetryItem resets a failed item back to new so it gets picked up again.
// Only failed items are eligible.
func (h *Handler) RetryItem(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing item id parameter"})
		return
	}

	err := h.items.ResetForRetry(c.Request.Context(), id)
	if errors.Is(err, database.ErrItemNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found or not in failed state"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "retry_item", "item", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	slog.Info("Item queued for retry", "item", id)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Item queued for retry",
		"item":    gin.H{"id": id},
	})
}

func (h *Handler) ListPendingTasks(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
			return
		}
		limit = parsed
	}

	pending, err := h.tasksRepo.ListPending(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_tasks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	listed := make([]map[string]interface{}, 0, len(pending))
	for _, task := range pending {
		listed = append(listed, map[string]interface{}{
			"id":             task.ID,
			"type":           task.TaskType,
			"correlation_id": task.CorrelationID,
			"owner":          task.Owner,
			"status":         task.Status,
			"created_at":     task.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"tasks": listed,
		"total": len(listed),
	})
}

func itemSummary(item database.Item) map[string]interface{} {
	summary := map[string]interface{}{
		"id":            item.ID,
		"source":        item.SourceType,
		"connection_id": item.ConnectionID,
		"external_key":  item.ExternalKey,
		"external_url":  item.ExternalURL,
		"version":       item.Version,
		"state":         item.State,
		"title":         item.Title,
		"retry_count":   item.RetryCount,
		"discovered_at": item.DiscoveredAt,
		"indexed_at":    item.IndexedAt,
	}
	if item.LastError != "" {
		summary["last_error"] = item.LastError
	}
	return summary
}
