package quest

import (
	"context"
	"time"

	"github.com/lumahq/campusquest/server/notify"
	"go.uber.org/zap"
)

// isAbandoned reports whether the user's focused quest has gone stale: there
// is a focused quest, it is not paused, and no activity was recorded for
// longer than timeout.
func isAbandoned(u *UserProgress, now time.Time, timeout time.Duration) bool {
	if u.ActiveQuest == "" {
		return false
	}
	if st, ok := u.InProgress[u.ActiveQuest]; ok && st.Paused {
		return false
	}
	return now.Sub(u.LastActivity) > timeout
}

// CheckAbandonment sweeps all loaded users and clears the focused-quest
// pointer of anyone idle past the configured timeout. Accumulated progress
// is kept; only the focus is dropped. Returns the number of quests marked
// abandoned. Run on a ticker.
func (s *Store) CheckAbandonment(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	abandoned := 0
	for _, u := range s.users {
		if !isAbandoned(u, now, s.cfg.AbandonTimeout) {
			continue
		}
		questID := u.ActiveQuest
		u.ActiveQuest = ""
		abandoned++

		title := ""
		if q := s.res.QuestByID(questID); q != nil {
			title = q.Title
		}
		s.logger.Info("quest abandoned",
			zap.Int64("user_id", u.UserID),
			zap.String("quest_id", questID),
			zap.Duration("idle", now.Sub(u.LastActivity)))
		s.emit(ctx, u.UserID, notify.EventQuestAbandoned, &notify.QuestNotice{
			UserID: u.UserID, QuestID: questID, Title: title,
		})
		s.persistLocked(u)
	}
	return abandoned
}
