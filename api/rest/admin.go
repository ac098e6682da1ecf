package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lumahq/campusquest/server/game/quest"
	"github.com/lumahq/campusquest/server/model"
	"github.com/lumahq/campusquest/server/resource"
	"github.com/lumahq/campusquest/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes must be protected by the AdminAuth middleware.
type AdminHandler struct {
	db     *gorm.DB
	res    *resource.Loader
	store  *quest.Store
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, res *resource.Loader, store *quest.Store,
	sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, res: res, store: store, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var userCount int64
	h.db.Model(&model.User{}).Count(&userCount)
	c.JSON(http.StatusOK, gin.H{
		"quests":          len(h.res.Quests()),
		"collectibles":    len(h.res.Collectibles()),
		"users":           userCount,
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ReloadDefinitions re-reads the quest and collectible definition files.
// POST /api/admin/definitions/reload
func (h *AdminHandler) ReloadDefinitions(c *gin.Context) {
	if err := h.res.Load(); err != nil {
		h.logger.Error("definition reload failed", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("definitions reloaded",
		zap.Int("quests", len(h.res.Quests())),
		zap.Int("collectibles", len(h.res.Collectibles())))
	c.JSON(http.StatusOK, gin.H{
		"quests":       len(h.res.Quests()),
		"collectibles": len(h.res.Collectibles()),
	})
}

// UserProgress returns the progress snapshot of any user.
// GET /api/admin/users/:id/progress
func (h *AdminHandler) UserProgress(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	c.JSON(http.StatusOK, h.store.Snapshot(c.Request.Context(), userID))
}

// SweepAbandonment runs an immediate abandonment check.
// POST /api/admin/abandonment/sweep
func (h *AdminHandler) SweepAbandonment(c *gin.Context) {
	n := h.store.CheckAbandonment(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"abandoned": n})
}

// BanUser bans or unbans a user account.
// POST /api/admin/users/:id/ban?status=0
func (h *AdminHandler) BanUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	status := 0
	if s, err := strconv.Atoi(c.Query("status")); err == nil {
		status = s
	}
	res := h.db.Model(&model.User{}).Where("id = ?", userID).Update("status", status)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	h.logger.Info("admin changed user status",
		zap.Int64("user_id", userID), zap.Int("status", status))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
