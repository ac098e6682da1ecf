// Package quest is the progress and completion engine: it owns per-user
// progress state, derives quest status, runs the geofence/quiz/reward flows
// and detects abandonment. Handlers call into the Store; the Store calls out
// to the resource loader, the reward allocator, the cache and the async
// persistence writer.
package quest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lumahq/campusquest/server/cache"
	"github.com/lumahq/campusquest/server/config"
	"github.com/lumahq/campusquest/server/game/quiz"
	"github.com/lumahq/campusquest/server/game/reward"
	"github.com/lumahq/campusquest/server/geo"
	"github.com/lumahq/campusquest/server/notify"
	"github.com/lumahq/campusquest/server/resource"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StartPhase tells the consumer what StartQuest actually did.
type StartPhase string

const (
	// PhaseNavigate: the quest is in progress but the target location has
	// not been reached; the consumer should display navigation.
	PhaseNavigate StartPhase = "navigate"
	// PhaseQuizStarted: a quiz attempt is running.
	PhaseQuizStarted StartPhase = "quiz_started"
	// PhaseStarted: a pure location quest is now in progress.
	PhaseStarted StartPhase = "started"
)

const leaderboardKey = "leaderboard:points"

// Store orchestrates all quest progress operations.
type Store struct {
	res      *resource.Loader
	alloc    *reward.Allocator
	writer   *Writer
	cache    cache.Cache
	pubsub   cache.PubSub
	notifier *notify.Center
	cfg      config.QuestConfig
	logger   *zap.Logger

	now func() time.Time

	mu    sync.Mutex
	users map[int64]*UserProgress
}

// NewStore creates a Store.
func NewStore(res *resource.Loader, alloc *reward.Allocator, writer *Writer,
	c cache.Cache, ps cache.PubSub, nc *notify.Center,
	cfg config.QuestConfig, logger *zap.Logger) *Store {
	return &Store{
		res:      res,
		alloc:    alloc,
		writer:   writer,
		cache:    c,
		pubsub:   ps,
		notifier: nc,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		users:    make(map[int64]*UserProgress),
	}
}

// progressLocked returns the in-memory progress for userID, loading the
// persisted document on first access. A load failure is logged and the user
// starts from a fresh in-memory state; the engine keeps operating.
func (s *Store) progressLocked(ctx context.Context, userID int64) *UserProgress {
	if u, ok := s.users[userID]; ok {
		return u
	}

	u := newUserProgress(userID)
	if s.writer != nil {
		doc, err := s.writer.Load(ctx, userID)
		switch {
		case err == nil:
			restored, storedPoints, uerr := unmarshalDoc(userID, doc.Data)
			if uerr != nil {
				s.logger.Error("progress document corrupt, starting fresh",
					zap.Int64("user_id", userID), zap.Error(uerr))
			} else {
				if storedPoints != restored.TotalPoints {
					s.logger.Warn("total points drifted from completion history, reconciled",
						zap.Int64("user_id", userID),
						zap.Int("stored", storedPoints),
						zap.Int("recomputed", restored.TotalPoints))
				}
				u = restored
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First session for this user.
		default:
			s.logger.Error("progress load failed, operating in-memory",
				zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	s.users[userID] = u
	return u
}

func (s *Store) persistLocked(u *UserProgress) {
	if s.writer == nil {
		return
	}
	data, err := marshalDoc(u)
	if err != nil {
		s.logger.Error("progress marshal failed",
			zap.Int64("user_id", u.UserID), zap.Error(err))
		return
	}
	s.writer.Enqueue(u.UserID, u.TotalPoints, data)
}

func (s *Store) warnUnknown(op, questID string, userID int64) {
	s.logger.Warn("operation on unknown quest",
		zap.String("op", op),
		zap.String("quest_id", questID),
		zap.Int64("user_id", userID))
}

// emit notifies in-process listeners and fans the event out to the user's
// pub/sub channel for SSE delivery.
func (s *Store) emit(ctx context.Context, userID int64, event string, payload interface{}) {
	if s.notifier != nil {
		if err := s.notifier.Emit(ctx, event, payload); err != nil {
			s.logger.Warn("notify listener error",
				zap.String("event", event), zap.Error(err))
		}
	}
	if s.pubsub == nil {
		return
	}
	body, err := json.Marshal(map[string]interface{}{"event": event, "payload": payload})
	if err != nil {
		return
	}
	channel := fmt.Sprintf("notify:%d", userID)
	if err := s.pubsub.Publish(ctx, channel, string(body)); err != nil {
		s.logger.Warn("notify publish failed",
			zap.String("channel", channel), zap.Error(err))
	}
}

// ---- status / gating ----

// Status derives the user-facing status of a quest.
func (s *Store) Status(ctx context.Context, userID int64, questID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DeriveStatus(s.progressLocked(ctx, userID), questID)
}

// CanStart reports whether the user may start the quest: it must not be
// completed and every prerequisite quest must be.
func (s *Store) CanStart(ctx context.Context, userID int64, questID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.res.QuestByID(questID)
	if q == nil {
		return false
	}
	return s.canStartLocked(s.progressLocked(ctx, userID), q)
}

func (s *Store) canStartLocked(u *UserProgress, q *resource.Quest) bool {
	if _, done := u.Completed[q.ID]; done {
		return false
	}
	for _, pre := range q.Prerequisites {
		if _, done := u.Completed[pre]; !done {
			return false
		}
	}
	return true
}

// ---- quest lifecycle ----

// StartQuest begins or advances a quest. Quiz quests start in two phases:
// the first call marks the quest in progress and asks the consumer to
// navigate; once the location is reached, a further call starts the quiz
// attempt. Pure location quests are in progress after the first call.
func (s *Store) StartQuest(ctx context.Context, userID int64, questID string) (StartPhase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.res.QuestByID(questID)
	if q == nil {
		s.warnUnknown("start_quest", questID, userID)
		return "", false
	}
	u := s.progressLocked(ctx, userID)
	if !s.canStartLocked(u, q) {
		return "", false
	}

	st, started := u.InProgress[q.ID]
	if !started {
		u.InProgress[q.ID] = &InProgressState{StartedAt: s.now()}
		u.ActiveQuest = q.ID
		u.LastActivity = s.now()
		s.emit(ctx, userID, notify.EventQuestStarted, &notify.QuestNotice{
			UserID: userID, QuestID: q.ID, Title: q.Title,
		})
		s.persistLocked(u)
		if q.HasQuiz() {
			return PhaseNavigate, true
		}
		return PhaseStarted, true
	}

	u.LastActivity = s.now()
	if !q.HasQuiz() {
		return PhaseStarted, true
	}
	if !st.LocationReached {
		return PhaseNavigate, true
	}
	if u.Quiz[q.ID] == nil {
		u.Quiz[q.ID] = quiz.Start(q, s.now())
		s.persistLocked(u)
	}
	return PhaseQuizStarted, true
}

// CompleteLocationQuest evaluates the geofence for questID at pos. The
// return value reports geofence satisfaction, not full quest completion:
// for quests with a quiz, arrival only unlocks the quiz.
func (s *Store) CompleteLocationQuest(ctx context.Context, userID int64, questID string, pos geo.Point) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeLocationLocked(ctx, s.progressLocked(ctx, userID), questID, pos)
}

func (s *Store) completeLocationLocked(ctx context.Context, u *UserProgress, questID string, pos geo.Point) bool {
	q := s.res.QuestByID(questID)
	if q == nil {
		s.warnUnknown("complete_location", questID, u.UserID)
		return false
	}
	if _, done := u.Completed[q.ID]; done {
		return false
	}
	if s.recentlyCompleted(ctx, u.UserID, q.ID) {
		return false
	}

	if _, started := u.InProgress[q.ID]; !started {
		if !s.canStartLocked(u, q) {
			return false
		}
		u.InProgress[q.ID] = &InProgressState{StartedAt: s.now()}
	}

	if !geo.WithinRadius(pos, geo.Point{Lat: q.Lat, Lng: q.Lng}, s.cfg.CompletionRadiusM) {
		return false
	}

	u.LastActivity = s.now()
	if q.HasQuiz() {
		st := u.InProgress[q.ID]
		if !st.LocationReached {
			st.LocationReached = true
			s.emit(ctx, u.UserID, notify.EventQuizUnlocked, &notify.QuestNotice{
				UserID: u.UserID, QuestID: q.ID, Title: q.Title,
			})
			s.persistLocked(u)
		}
		return true
	}

	s.finalizeLocked(ctx, u, q, nil)
	return true
}

// finalizeLocked is the guarded completion transition. It is idempotent:
// a quest already in the completed set is never re-awarded.
func (s *Store) finalizeLocked(ctx context.Context, u *UserProgress, q *resource.Quest, quizResult *quiz.Result) bool {
	if _, done := u.Completed[q.ID]; done {
		return false
	}

	delete(u.InProgress, q.ID)
	u.Completed[q.ID] = struct{}{}
	if u.ActiveQuest == q.ID {
		u.ActiveQuest = ""
	}

	award := s.alloc.Allocate(q, u.ownedCollectibles())
	u.TotalPoints += award.PointsDelta
	u.Details[q.ID] = CompletionRecord{
		Points:      award.PointsDelta,
		CompletedAt: s.now(),
		Title:       q.Title,
	}
	if award.Collectible != nil {
		u.Collectibles = append(u.Collectibles, *award.Collectible)
	}

	s.markCompleted(ctx, u.UserID, q.ID)
	s.logger.Info("quest completed",
		zap.Int64("user_id", u.UserID),
		zap.String("quest_id", q.ID),
		zap.Int("points", award.PointsDelta))

	notice := &notify.QuestNotice{
		UserID: u.UserID, QuestID: q.ID, Title: q.Title, Points: award.PointsDelta,
	}
	if quizResult != nil {
		notice.ScorePercent = quizResult.ScorePercent
	}
	s.emit(ctx, u.UserID, notify.EventQuestCompleted, notice)

	switch {
	case award.Collectible != nil:
		s.emit(ctx, u.UserID, notify.EventCollectibleAwarded, &notify.AwardNotice{
			UserID: u.UserID, QuestID: q.ID, Collectible: award.Collectible,
		})
	case award.AlreadyOwned:
		s.emit(ctx, u.UserID, notify.EventCollectibleAlreadyOwned, &notify.AwardNotice{
			UserID: u.UserID, QuestID: q.ID,
		})
	}

	if s.cache != nil {
		if err := s.cache.ZAdd(ctx, leaderboardKey, float64(u.TotalPoints),
			fmt.Sprintf("%d", u.UserID)); err != nil {
			s.logger.Warn("leaderboard update failed", zap.Error(err))
		}
	}
	s.persistLocked(u)
	return true
}

// recentlyCompleted / markCompleted implement the completion cooldown. It is
// a UI debounce only; correctness comes from the completed-set guard in
// finalizeLocked.
func (s *Store) recentlyCompleted(ctx context.Context, userID int64, questID string) bool {
	if s.cache == nil || s.cfg.CompletionCooldown <= 0 {
		return false
	}
	exists, err := s.cache.Exists(ctx, cooldownKey(userID, questID))
	return err == nil && exists
}

func (s *Store) markCompleted(ctx context.Context, userID int64, questID string) {
	if s.cache == nil || s.cfg.CompletionCooldown <= 0 {
		return
	}
	_, _ = s.cache.SetNX(ctx, cooldownKey(userID, questID), "1", s.cfg.CompletionCooldown)
}

func cooldownKey(userID int64, questID string) string {
	return fmt.Sprintf("qcooldown:%d:%s", userID, questID)
}

// ---- quiz flow ----

// SubmitQuizAnswer records a single answer for the running attempt. When the
// last question is answered the attempt resolves automatically.
func (s *Store) SubmitQuizAnswer(ctx context.Context, userID int64, questID string, questionIdx, answerIdx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.res.QuestByID(questID)
	if q == nil {
		s.warnUnknown("submit_quiz_answer", questID, userID)
		return false
	}
	u := s.progressLocked(ctx, userID)
	if _, done := u.Completed[q.ID]; done {
		return false
	}
	p := u.Quiz[q.ID]
	if p == nil || p.Completed {
		return false
	}
	if !p.SubmitAnswer(q, questionIdx, answerIdx) {
		return false
	}
	u.LastActivity = s.now()

	if p.AllAnswered() {
		s.resolveQuizLocked(ctx, u, q, p)
	}
	s.persistLocked(u)
	return true
}

// SubmitQuizAnswers records a full answer sheet and resolves the attempt.
// The attempt must be running (quiz unlocked); answers beyond the question
// count are ignored.
func (s *Store) SubmitQuizAnswers(ctx context.Context, userID int64, questID string, answers []int) (*quiz.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.res.QuestByID(questID)
	if q == nil {
		s.warnUnknown("submit_quiz_answers", questID, userID)
		return nil, false
	}
	u := s.progressLocked(ctx, userID)
	if _, done := u.Completed[q.ID]; done {
		return nil, false
	}
	p := u.Quiz[q.ID]
	if p == nil || p.Completed {
		return nil, false
	}

	for i, a := range answers {
		if i >= len(q.Questions) {
			break
		}
		p.SubmitAnswer(q, i, a)
	}
	u.LastActivity = s.now()
	if !p.AllAnswered() {
		// Incomplete sheet: record what was given but do not grade.
		s.persistLocked(u)
		return nil, false
	}
	result := s.resolveQuizLocked(ctx, u, q, p)
	s.persistLocked(u)
	return result, result != nil
}

// resolveQuizLocked finalizes the attempt and routes the outcome: pass →
// completion, fail with retries left → wait for an explicit retry, fail with
// retries exhausted → failed-final completion so the quest never wedges.
func (s *Store) resolveQuizLocked(ctx context.Context, u *UserProgress, q *resource.Quest, p *quiz.Progress) *quiz.Result {
	result, ok := p.Finalize(q, s.now())
	if !ok {
		return nil
	}

	if result.Passed {
		s.finalizeLocked(ctx, u, q, &result)
		return &result
	}

	if p.CanRetry(q) {
		s.logger.Info("quiz failed, retry available",
			zap.Int64("user_id", u.UserID),
			zap.String("quest_id", q.ID),
			zap.Float64("score_percent", result.ScorePercent))
		return &result
	}

	// Failed-final: retries exhausted. The quest resolves to completed with
	// no reward so the user is never permanently blocked on it.
	delete(u.InProgress, q.ID)
	u.Completed[q.ID] = struct{}{}
	if u.ActiveQuest == q.ID {
		u.ActiveQuest = ""
	}
	u.Details[q.ID] = CompletionRecord{
		Points:      0,
		CompletedAt: s.now(),
		Title:       q.Title,
	}
	s.markCompleted(ctx, u.UserID, q.ID)
	s.logger.Info("quiz failed final",
		zap.Int64("user_id", u.UserID),
		zap.String("quest_id", q.ID),
		zap.Float64("score_percent", result.ScorePercent))
	s.emit(ctx, u.UserID, notify.EventQuizFailedFinal, &notify.QuestNotice{
		UserID: u.UserID, QuestID: q.ID, Title: q.Title,
		ScorePercent: result.ScorePercent,
	})
	return &result
}

// RetryQuiz starts a fresh attempt after a failed one, within the retry cap.
func (s *Store) RetryQuiz(ctx context.Context, userID int64, questID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.res.QuestByID(questID)
	if q == nil {
		s.warnUnknown("retry_quiz", questID, userID)
		return false
	}
	u := s.progressLocked(ctx, userID)
	if _, done := u.Completed[q.ID]; done {
		return false
	}
	p := u.Quiz[q.ID]
	if p == nil || !p.Completed {
		return false
	}
	fresh := p.Retry(q, s.now())
	if fresh == nil {
		return false
	}
	u.Quiz[q.ID] = fresh
	u.LastActivity = s.now()
	s.persistLocked(u)
	return true
}

// ---- focus / activity ----

// SetActiveQuest sets or clears (questID == "") the focused quest. A
// completed quest can never be made active again.
func (s *Store) SetActiveQuest(ctx context.Context, userID int64, questID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.progressLocked(ctx, userID)
	if questID == "" {
		u.ActiveQuest = ""
		s.persistLocked(u)
		return true
	}
	q := s.res.QuestByID(questID)
	if q == nil {
		s.warnUnknown("set_active_quest", questID, userID)
		return false
	}
	if _, done := u.Completed[q.ID]; done {
		return false
	}
	u.ActiveQuest = q.ID
	u.LastActivity = s.now()
	s.persistLocked(u)
	return true
}

// Touch records user activity, deferring abandonment.
func (s *Store) Touch(ctx context.Context, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.progressLocked(ctx, userID)
	u.LastActivity = s.now()
}

// PauseActiveQuest pauses the focused quest; paused quests are exempt from
// abandonment detection.
func (s *Store) PauseActiveQuest(ctx context.Context, userID int64) bool {
	return s.setPaused(ctx, userID, true)
}

// ResumeActiveQuest resumes a paused focused quest.
func (s *Store) ResumeActiveQuest(ctx context.Context, userID int64) bool {
	return s.setPaused(ctx, userID, false)
}

func (s *Store) setPaused(ctx context.Context, userID int64, paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.progressLocked(ctx, userID)
	st := u.InProgress[u.ActiveQuest]
	if u.ActiveQuest == "" || st == nil {
		return false
	}
	st.Paused = paused
	u.LastActivity = s.now()
	s.persistLocked(u)
	return true
}

// ---- geolocation intake ----

// PositionSample is one geolocation reading.
type PositionSample struct {
	geo.Point
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// PositionResult reports what a position update caused.
type PositionResult struct {
	Filtered       bool   `json:"filtered,omitempty"`
	ArrivedQuestID string `json:"arrived_quest_id,omitempty"`
	QuizUnlocked   bool   `json:"quiz_unlocked,omitempty"`
	QuestCompleted bool   `json:"quest_completed,omitempty"`
}

// HandlePosition reacts to a geolocation sample: jitter below the movement
// threshold is filtered, otherwise activity is touched and the focused
// quest's geofence is evaluated.
func (s *Store) HandlePosition(ctx context.Context, userID int64, sample PositionSample) PositionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.progressLocked(ctx, userID)
	if !geo.SignificantMovement(sample.Point, u.lastPos, s.cfg.MovementThresholdM) {
		return PositionResult{Filtered: true}
	}
	pos := sample.Point
	u.lastPos = &pos
	u.LastActivity = s.now()

	var out PositionResult
	questID := u.ActiveQuest
	if questID == "" {
		return out
	}
	if _, started := u.InProgress[questID]; !started {
		return out
	}
	q := s.res.QuestByID(questID)
	if q == nil {
		return out
	}

	before := DeriveStatus(u, questID)
	unlocked := q.HasQuiz() && u.InProgress[questID] != nil && !u.InProgress[questID].LocationReached
	if s.completeLocationLocked(ctx, u, questID, pos) {
		out.ArrivedQuestID = questID
		out.QuizUnlocked = unlocked && q.HasQuiz()
		out.QuestCompleted = before != StatusCompleted && DeriveStatus(u, questID) == StatusCompleted
	}
	return out
}

// ---- views ----

// QuestView is a quest definition joined with the user's derived state.
type QuestView struct {
	*resource.Quest
	Status          Status         `json:"status"`
	CanStart        bool           `json:"can_start"`
	LocationReached bool           `json:"location_reached,omitempty"`
	Quiz            *quiz.Progress `json:"quiz,omitempty"`
}

// QuestViews returns every quest definition with the user's derived status.
func (s *Store) QuestViews(ctx context.Context, userID int64) []QuestView {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.progressLocked(ctx, userID)
	quests := s.res.Quests()
	views := make([]QuestView, 0, len(quests))
	for _, q := range quests {
		v := QuestView{
			Quest:    q,
			Status:   DeriveStatus(u, q.ID),
			CanStart: s.canStartLocked(u, q),
		}
		if st, ok := u.InProgress[q.ID]; ok {
			v.LocationReached = st.LocationReached
		}
		if p, ok := u.Quiz[q.ID]; ok {
			v.Quiz = p.Clone()
		}
		views = append(views, v)
	}
	return views
}

// ProgressView is a read-only snapshot of the user's progress.
type ProgressView struct {
	UserID          int64                       `json:"user_id"`
	TotalPoints     int                         `json:"total_points"`
	CompletedQuests []string                    `json:"completed_quests"`
	InProgress      map[string]InProgressState  `json:"in_progress"`
	ActiveQuestID   string                      `json:"active_quest_id,omitempty"`
	Details         map[string]CompletionRecord `json:"completed_quest_details"`
	Collectibles    []resource.Collectible      `json:"collectibles"`
}

// Snapshot returns a copy of the user's progress for read-only consumers.
func (s *Store) Snapshot(ctx context.Context, userID int64) ProgressView {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.progressLocked(ctx, userID)
	view := ProgressView{
		UserID:          u.UserID,
		TotalPoints:     u.TotalPoints,
		CompletedQuests: make([]string, 0, len(u.Completed)),
		InProgress:      make(map[string]InProgressState, len(u.InProgress)),
		ActiveQuestID:   u.ActiveQuest,
		Details:         make(map[string]CompletionRecord, len(u.Details)),
		Collectibles:    append([]resource.Collectible(nil), u.Collectibles...),
	}
	for id := range u.Completed {
		view.CompletedQuests = append(view.CompletedQuests, id)
	}
	for id, st := range u.InProgress {
		view.InProgress[id] = *st
	}
	for id, rec := range u.Details {
		view.Details[id] = rec
	}
	return view
}
