package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumahq/campusquest/server/api/rest"
	"github.com/lumahq/campusquest/server/cache"
	"github.com/lumahq/campusquest/server/config"
	"github.com/lumahq/campusquest/server/game/quest"
	"github.com/lumahq/campusquest/server/game/reward"
	mw "github.com/lumahq/campusquest/server/middleware"
	"github.com/lumahq/campusquest/server/notify"
	"github.com/lumahq/campusquest/server/resource"
	"github.com/lumahq/campusquest/server/scheduler"
	"github.com/lumahq/campusquest/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	fixtureLat = 39.9075
	fixtureLng = 116.3913
)

var testSecurity = config.SecurityConfig{
	JWTSecret: "test-secret",
	JWTTTLH:   72 * time.Hour,
	AdminKey:  "admin-key",
}

// env bundles everything a handler test needs.
type env struct {
	db    *gorm.DB
	cache cache.Cache
	res   *resource.Loader
	store *quest.Store
	sched *scheduler.Scheduler
	r     *gin.Engine
}

func fixtureLoader(t *testing.T) *resource.Loader {
	t.Helper()
	quests := []*resource.Quest{
		{
			ID: "fountain-walk", Title: "Fountain Walk",
			Difficulty: resource.DifficultyEasy, Kind: resource.KindLocation,
			RewardPoints: 100, Lat: fixtureLat, Lng: fixtureLng,
		},
		{
			ID: "science-quiz", Title: "Science Building Quiz",
			Difficulty: resource.DifficultyMedium, Kind: resource.KindQuiz,
			RewardPoints: 200, Lat: fixtureLat, Lng: fixtureLng,
			AllowRetries: true,
			Questions: []resource.QuizQuestion{
				{ID: "q1", Prompt: "Floors?", Options: []string{"3", "5"}, CorrectIndex: 1},
				{ID: "q2", Prompt: "Built in?", Options: []string{"1988", "2001"}, CorrectIndex: 0},
			},
		},
	}
	dir := t.TempDir()
	qp := filepath.Join(dir, "quests.json")
	raw, err := json.Marshal(quests)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(qp, raw, 0o644))

	l := resource.NewLoader(qp, filepath.Join(dir, "collectibles.json"), 0)
	require.NoError(t, l.Load())
	return l
}

func setupEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	res := fixtureLoader(t)
	logger := zap.NewNop()

	w := quest.NewWriter(db, logger)
	t.Cleanup(w.Stop)
	store := quest.NewStore(res, reward.New(res, 1), w, c, ps, notify.New(),
		config.DefaultQuest(), logger)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	authH := rest.NewAuthHandler(db, c, testSecurity)
	questH := rest.NewQuestHandler(store, logger)
	boardH := rest.NewLeaderboardHandler(db, c, logger)
	adminH := rest.NewAdminHandler(db, res, store, sched, logger)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/auth/login", authH.Login)
	api.POST("/auth/logout", mw.Auth(testSecurity, c), authH.Logout)
	api.POST("/auth/refresh", mw.Auth(testSecurity, c), authH.Refresh)

	authed := api.Group("", mw.Auth(testSecurity, c))
	authed.GET("/quests", questH.List)
	authed.GET("/progress", questH.Progress)
	authed.POST("/quests/:id/start", questH.Start)
	authed.POST("/quests/:id/location", questH.CompleteLocation)
	authed.POST("/quests/:id/quiz/answer", questH.QuizAnswer)
	authed.POST("/quests/:id/quiz/submit", questH.QuizSubmit)
	authed.POST("/quests/:id/quiz/retry", questH.QuizRetry)
	authed.PUT("/quests/active", questH.SetActive)
	authed.POST("/quests/active/pause", questH.Pause)
	authed.POST("/quests/active/resume", questH.Resume)
	authed.POST("/position", questH.ReportPosition)
	authed.GET("/leaderboard", boardH.Top)

	admin := api.Group("/admin", mw.AdminAuth(testSecurity))
	admin.GET("/metrics", adminH.Metrics)
	admin.POST("/definitions/reload", adminH.ReloadDefinitions)
	admin.GET("/users/:id/progress", adminH.UserProgress)
	admin.POST("/abandonment/sweep", adminH.SweepAbandonment)
	admin.POST("/users/:id/ban", adminH.BanUser)
	admin.POST("/leaderboard/refresh", boardH.Refresh)

	return &env{db: db, cache: c, res: res, store: store, sched: sched, r: r}
}

func doJSON(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// login registers (or logs in) a user and returns the Bearer token.
func login(t *testing.T, e *env, username string) string {
	t.Helper()
	w := doJSON(e.r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": "pass1234",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	token, _ := resp["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func bearer(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}
