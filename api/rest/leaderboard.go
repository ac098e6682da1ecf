package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lumahq/campusquest/server/cache"
	"github.com/lumahq/campusquest/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LeaderboardHandler handles points leaderboard endpoints.
type LeaderboardHandler struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
}

// NewLeaderboardHandler creates a LeaderboardHandler.
func NewLeaderboardHandler(db *gorm.DB, c cache.Cache, logger *zap.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{db: db, cache: c, logger: logger}
}

const leaderboardZKey = "leaderboard:points"
const leaderboardTop = 100

// BoardEntry is one row in the leaderboard.
type BoardEntry struct {
	Rank        int    `json:"rank"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Points      int    `json:"points"`
}

// Top returns the top users sorted by total points.
// GET /api/leaderboard?limit=20
func (h *LeaderboardHandler) Top(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= leaderboardTop {
		limit = l
	}

	// Try the cached sorted set first.
	ctx := c.Request.Context()
	members, err := h.cache.ZRevRange(ctx, leaderboardZKey, 0, int64(limit-1))
	if err == nil && len(members) > 0 {
		entries := make([]BoardEntry, 0, len(members))
		for i, m := range members {
			userID, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				continue
			}
			score, _ := h.cache.ZScore(ctx, leaderboardZKey, m)
			entries = append(entries, BoardEntry{
				Rank:   i + 1,
				UserID: userID,
				Points: int(score),
			})
		}
		h.enrichNames(entries)
		c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
		return
	}

	// Fall back to the persisted totals.
	var docs []model.ProgressDoc
	h.db.Select("user_id, total_points").
		Order("total_points DESC").
		Limit(limit).
		Find(&docs)

	entries := make([]BoardEntry, len(docs))
	for i, d := range docs {
		entries[i] = BoardEntry{
			Rank:   i + 1,
			UserID: d.UserID,
			Points: d.TotalPoints,
		}
		// Refresh the cache entry.
		_ = h.cache.ZAdd(ctx, leaderboardZKey, float64(d.TotalPoints), strconv.FormatInt(d.UserID, 10))
	}
	h.enrichNames(entries)
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

// Refresh rebuilds the leaderboard sorted set from the persisted totals.
// Called periodically by the scheduler; also exposed as
// POST /api/admin/leaderboard/refresh.
func (h *LeaderboardHandler) Refresh(c *gin.Context) {
	n, err := h.RefreshFromDB(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": n})
}

// RefreshFromDB loads the top totals from the database into the sorted set.
func (h *LeaderboardHandler) RefreshFromDB(ctx context.Context) (int, error) {
	var docs []model.ProgressDoc
	if err := h.db.Select("user_id, total_points").
		Order("total_points DESC").
		Limit(leaderboardTop).
		Find(&docs).Error; err != nil {
		return 0, err
	}
	for _, d := range docs {
		_ = h.cache.ZAdd(ctx, leaderboardZKey, float64(d.TotalPoints), strconv.FormatInt(d.UserID, 10))
	}
	return len(docs), nil
}

func (h *LeaderboardHandler) enrichNames(entries []BoardEntry) {
	if len(entries) == 0 {
		return
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	var users []model.User
	h.db.Select("id, username, display_name").Where("id IN ?", ids).Find(&users)
	names := make(map[int64]string, len(users))
	for _, u := range users {
		name := u.DisplayName
		if name == "" {
			name = u.Username
		}
		names[u.ID] = name
	}
	for i := range entries {
		entries[i].DisplayName = names[entries[i].UserID]
	}
}
