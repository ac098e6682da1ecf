package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumahq/campusquest/server/game/quest"
	"github.com/lumahq/campusquest/server/geo"
	mw "github.com/lumahq/campusquest/server/middleware"
	"go.uber.org/zap"
)

// QuestHandler handles quest REST endpoints. All routes require Auth.
type QuestHandler struct {
	store  *quest.Store
	logger *zap.Logger
}

// NewQuestHandler creates a QuestHandler.
func NewQuestHandler(store *quest.Store, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{store: store, logger: logger}
}

// List returns every quest with the caller's derived status.
// GET /api/quests
func (h *QuestHandler) List(c *gin.Context) {
	userID := mw.GetUserID(c)
	c.JSON(http.StatusOK, gin.H{
		"quests": h.store.QuestViews(c.Request.Context(), userID),
	})
}

// Progress returns the caller's progress snapshot.
// GET /api/progress
func (h *QuestHandler) Progress(c *gin.Context) {
	userID := mw.GetUserID(c)
	c.JSON(http.StatusOK, h.store.Snapshot(c.Request.Context(), userID))
}

// Start begins or advances a quest.
// POST /api/quests/:id/start
func (h *QuestHandler) Start(c *gin.Context) {
	userID := mw.GetUserID(c)
	questID := c.Param("id")

	phase, ok := h.store.StartQuest(c.Request.Context(), userID, questID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "quest cannot be started"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"phase": phase})
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CompleteLocation evaluates the quest geofence at the reported position.
// POST /api/quests/:id/location
func (h *QuestHandler) CompleteLocation(c *gin.Context) {
	userID := mw.GetUserID(c)
	questID := c.Param("id")

	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	ok := h.store.CompleteLocationQuest(ctx, userID, questID, geo.Point{Lat: req.Lat, Lng: req.Lng})
	c.JSON(http.StatusOK, gin.H{
		"arrived": ok,
		"status":  h.store.Status(ctx, userID, questID),
	})
}

type quizAnswerRequest struct {
	Question int `json:"question" binding:"min=0"`
	Answer   int `json:"answer" binding:"min=0"`
}

// QuizAnswer records one answer of the running quiz attempt.
// POST /api/quests/:id/quiz/answer
func (h *QuestHandler) QuizAnswer(c *gin.Context) {
	userID := mw.GetUserID(c)
	questID := c.Param("id")

	var req quizAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if !h.store.SubmitQuizAnswer(ctx, userID, questID, req.Question, req.Answer) {
		c.JSON(http.StatusConflict, gin.H{"error": "answer rejected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": h.store.Status(ctx, userID, questID)})
}

type quizSubmitRequest struct {
	Answers []int `json:"answers" binding:"required"`
}

// QuizSubmit records a full answer sheet and resolves the attempt.
// POST /api/quests/:id/quiz/submit
func (h *QuestHandler) QuizSubmit(c *gin.Context) {
	userID := mw.GetUserID(c)
	questID := c.Param("id")

	var req quizSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	result, ok := h.store.SubmitQuizAnswers(ctx, userID, questID, req.Answers)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "quiz not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result": result,
		"status": h.store.Status(ctx, userID, questID),
	})
}

// QuizRetry starts a fresh attempt after a failed one.
// POST /api/quests/:id/quiz/retry
func (h *QuestHandler) QuizRetry(c *gin.Context) {
	userID := mw.GetUserID(c)
	questID := c.Param("id")

	if !h.store.RetryQuiz(c.Request.Context(), userID, questID) {
		c.JSON(http.StatusConflict, gin.H{"error": "no retry available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"retrying": true})
}

type activeQuestRequest struct {
	QuestID string `json:"quest_id"` // empty clears the focus
}

// SetActive sets or clears the focused quest.
// PUT /api/quests/active
func (h *QuestHandler) SetActive(c *gin.Context) {
	userID := mw.GetUserID(c)

	var req activeQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.store.SetActiveQuest(c.Request.Context(), userID, req.QuestID) {
		c.JSON(http.StatusConflict, gin.H{"error": "quest cannot be focused"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_quest_id": req.QuestID})
}

// Pause pauses the focused quest.
// POST /api/quests/active/pause
func (h *QuestHandler) Pause(c *gin.Context) {
	userID := mw.GetUserID(c)
	if !h.store.PauseActiveQuest(c.Request.Context(), userID) {
		c.JSON(http.StatusConflict, gin.H{"error": "no active quest"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Resume resumes the focused quest.
// POST /api/quests/active/resume
func (h *QuestHandler) Resume(c *gin.Context) {
	userID := mw.GetUserID(c)
	if !h.store.ResumeActiveQuest(c.Request.Context(), userID) {
		c.JSON(http.StatusConflict, gin.H{"error": "no active quest"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// ReportPosition accepts a one-off geolocation sample over REST for clients
// without a WebSocket connection.
// POST /api/position
func (h *QuestHandler) ReportPosition(c *gin.Context) {
	userID := mw.GetUserID(c)

	var sample quest.PositionSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.store.HandlePosition(c.Request.Context(), userID, sample))
}
