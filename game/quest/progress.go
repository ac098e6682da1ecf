package quest

import (
	"encoding/json"
	"time"

	"github.com/lumahq/campusquest/server/game/quiz"
	"github.com/lumahq/campusquest/server/geo"
	"github.com/lumahq/campusquest/server/resource"
)

// Status is the user-facing state of a quest. It is always derived from the
// completed/in-progress sets and never stored.
type Status string

const (
	StatusAvailable  Status = "available"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// InProgressState tracks one started-but-unfinished quest.
type InProgressState struct {
	StartedAt       time.Time `json:"startedAt"`
	LocationReached bool      `json:"locationReached,omitempty"`
	Paused          bool      `json:"paused,omitempty"`
}

// CompletionRecord is the frozen outcome of a resolved quest.
type CompletionRecord struct {
	Points      int       `json:"points"`
	CompletedAt time.Time `json:"completedAt"`
	Title       string    `json:"title"`
}

// UserProgress is the per-user state owned by the Store. All mutation goes
// through Store operations; handlers only see copies.
type UserProgress struct {
	UserID int64

	Completed    map[string]struct{}
	InProgress   map[string]*InProgressState
	ActiveQuest  string
	LastActivity time.Time
	TotalPoints  int
	Details      map[string]CompletionRecord
	Collectibles []resource.Collectible
	Quiz         map[string]*quiz.Progress

	// lastPos is the most recent significant position, session-only.
	lastPos *geo.Point
}

func newUserProgress(userID int64) *UserProgress {
	return &UserProgress{
		UserID:     userID,
		Completed:  make(map[string]struct{}),
		InProgress: make(map[string]*InProgressState),
		Details:    make(map[string]CompletionRecord),
		Quiz:       make(map[string]*quiz.Progress),
	}
}

// DeriveStatus is the single canonical status derivation: completed wins,
// then in-progress, otherwise available.
func DeriveStatus(u *UserProgress, questID string) Status {
	if u != nil {
		if _, done := u.Completed[questID]; done {
			return StatusCompleted
		}
		if _, started := u.InProgress[questID]; started {
			return StatusInProgress
		}
	}
	return StatusAvailable
}

// ownedCollectibles returns the set of collectible ids the user holds.
func (u *UserProgress) ownedCollectibles() map[string]struct{} {
	owned := make(map[string]struct{}, len(u.Collectibles))
	for _, c := range u.Collectibles {
		owned[c.ID] = struct{}{}
	}
	return owned
}

// ---- persisted document shape ----

type progressDoc struct {
	CompletedQuests       []string                    `json:"completedQuests"`
	InProgressQuests      map[string]*InProgressState `json:"inProgressQuests"`
	ActiveQuestID         string                      `json:"activeQuestId,omitempty"`
	LastActivity          time.Time                   `json:"lastActivity"`
	TotalPoints           int                         `json:"totalPoints"`
	CompletedQuestDetails map[string]CompletionRecord `json:"completedQuestDetails"`
	Collectibles          []resource.Collectible      `json:"collectibles"`
	QuizProgress          map[string]*quiz.Progress   `json:"quizProgress"`
}

// marshalDoc serializes the progress state to its persisted document form.
func marshalDoc(u *UserProgress) ([]byte, error) {
	doc := progressDoc{
		CompletedQuests:       make([]string, 0, len(u.Completed)),
		InProgressQuests:      u.InProgress,
		ActiveQuestID:         u.ActiveQuest,
		LastActivity:          u.LastActivity,
		TotalPoints:           u.TotalPoints,
		CompletedQuestDetails: u.Details,
		Collectibles:          u.Collectibles,
		QuizProgress:          u.Quiz,
	}
	for id := range u.Completed {
		doc.CompletedQuests = append(doc.CompletedQuests, id)
	}
	return json.Marshal(doc)
}

// unmarshalDoc restores progress state from its persisted document form.
// TotalPoints is treated as a cached projection: it is recomputed from the
// completion records, which are the source of truth. The stored value is
// returned so the caller can log drift.
func unmarshalDoc(userID int64, data []byte) (*UserProgress, int, error) {
	var doc progressDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, err
	}

	u := newUserProgress(userID)
	for _, id := range doc.CompletedQuests {
		u.Completed[id] = struct{}{}
	}
	if doc.InProgressQuests != nil {
		u.InProgress = doc.InProgressQuests
	}
	u.ActiveQuest = doc.ActiveQuestID
	u.LastActivity = doc.LastActivity
	if doc.CompletedQuestDetails != nil {
		u.Details = doc.CompletedQuestDetails
	}
	u.Collectibles = doc.Collectibles
	if doc.QuizProgress != nil {
		u.Quiz = doc.QuizProgress
	}

	recomputed := 0
	for _, rec := range u.Details {
		recomputed += rec.Points
	}
	u.TotalPoints = recomputed
	return u, doc.TotalPoints, nil
}
