// Package integration spins up the fully wired server over real HTTP and
// exercises complete user journeys: auth, quest flows, the position stream
// and the notification stream.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/lumahq/campusquest/server/api/rest"
	"github.com/lumahq/campusquest/server/api/sse"
	apows "github.com/lumahq/campusquest/server/api/ws"
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
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Campus fixture coordinates shared by the journey tests.
const (
	LibraryLat = 39.9075
	LibraryLng = 116.3913
	GymLat     = 39.9100
	GymLng     = 116.3950
)

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	Res    *resource.Loader
	Store  *quest.Store
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>/ws
	Sec    config.SecurityConfig
}

func fixtureQuests() []*resource.Quest {
	return []*resource.Quest{
		{
			ID: "library-tour", Title: "Library Tour",
			Difficulty: resource.DifficultyEasy, Kind: resource.KindLocation,
			RewardPoints: 100, Lat: LibraryLat, Lng: LibraryLng,
		},
		{
			ID: "gym-trivia", Title: "Gym Trivia",
			Difficulty: resource.DifficultyMedium, Kind: resource.KindQuiz,
			RewardPoints: 250, Lat: GymLat, Lng: GymLng,
			AllowRetries: true,
			Questions: []resource.QuizQuestion{
				{ID: "q1", Prompt: "Pool length?", Options: []string{"25m", "50m"}, CorrectIndex: 1},
				{ID: "q2", Prompt: "Opened in?", Options: []string{"2010", "2015"}, CorrectIndex: 0},
				{ID: "q3", Prompt: "Courts?", Options: []string{"4", "6"}, CorrectIndex: 1},
			},
		},
		{
			ID: "campus-master", Title: "Campus Master",
			Difficulty: resource.DifficultyHard, Kind: resource.KindChallenge,
			RewardPoints: 500, Lat: LibraryLat, Lng: LibraryLng,
			Prerequisites: []string{"library-tour", "gym-trivia"},
		},
	}
}

func fixtureCollectibles() []resource.Collectible {
	return []resource.Collectible{
		{ID: "bronze-compass", Name: "Bronze Compass", Rarity: "common", Difficulty: "easy"},
		{ID: "silver-whistle", Name: "Silver Whistle", Rarity: "rare", Difficulty: "medium"},
		{ID: "golden-key", Name: "Golden Key", Rarity: "epic", Difficulty: "hard"},
	}
}

func writeFixtures(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	qp := filepath.Join(dir, "quests.json")
	cp := filepath.Join(dir, "collectibles.json")

	raw, err := json.Marshal(fixtureQuests())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(qp, raw, 0o644))
	raw, err = json.Marshal(fixtureCollectibles())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cp, raw, 0o644))
	return qp, cp
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AdminKey:       "integration-admin-key",
	}

	// ---- Engine ----
	qp, cp := writeFixtures(t)
	res := resource.NewLoader(qp, cp, 0)
	require.NoError(t, res.Load())

	writer := quest.NewWriter(db, logger)
	t.Cleanup(writer.Stop)
	store := quest.NewStore(res, reward.New(res, 1), writer, c, pubsub, notify.New(),
		config.DefaultQuest(), logger)

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	// ---- Router ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	authH := apirest.NewAuthHandler(db, c, sec)
	questH := apirest.NewQuestHandler(store, logger)
	boardH := apirest.NewLeaderboardHandler(db, c, logger)
	adminH := apirest.NewAdminHandler(db, res, store, sched, logger)
	sseH := sse.NewHandler(pubsub, c, sec, logger)

	api := r.Group("/api")
	api.POST("/auth/login", authH.Login)
	api.POST("/auth/logout", mw.Auth(sec, c), authH.Logout)
	api.POST("/auth/refresh", mw.Auth(sec, c), authH.Refresh)

	authed := api.Group("", mw.Auth(sec, c))
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

	admin := api.Group("/admin", mw.AdminAuth(sec))
	admin.GET("/metrics", adminH.Metrics)
	admin.POST("/definitions/reload", adminH.ReloadDefinitions)
	admin.GET("/users/:id/progress", adminH.UserProgress)
	admin.POST("/abandonment/sweep", adminH.SweepAbandonment)
	admin.POST("/leaderboard/refresh", boardH.Refresh)
	admin.POST("/announce", sseH.HandleAnnounce)

	wsH := apows.NewHandler(c, sec, store, logger)
	r.GET("/ws", wsH.ServeWS)

	r.GET("/sse", sseH.ServeSSE)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &TestServer{
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Res:    res,
		Store:  store,
		Server: srv,
		URL:    srv.URL,
		WSURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Sec:    sec,
	}
}

// ---- HTTP helpers ----

// DoJSON issues a JSON request and returns the response.
func (ts *TestServer) DoJSON(t *testing.T, method, path string, body interface{}, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

// Login registers (or logs in) the user and returns the Bearer token.
func (ts *TestServer) Login(t *testing.T, username string) string {
	t.Helper()
	resp, body := ts.DoJSON(t, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": "integration-pass",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "login %s: %v", username, body)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

// AdminGet issues a GET with the admin key.
func (ts *TestServer) AdminGet(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", ts.Sec.AdminKey)
	resp, err := ts.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

// WSURLWithToken appends the auth token query parameter.
func (ts *TestServer) WSURLWithToken(token string) string {
	return fmt.Sprintf("%s?token=%s", ts.WSURL, token)
}
