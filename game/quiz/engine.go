// Package quiz sequences quiz attempts: answer recording, scoring, pass/fail
// and the bounded retry policy. All functions are pure state transitions over
// Progress; the quest store owns persistence and event emission.
package quiz

import (
	"time"

	"github.com/lumahq/campusquest/server/resource"
)

// Unanswered marks a question slot with no recorded answer.
const Unanswered = -1

// Progress is the state of one quiz attempt.
type Progress struct {
	CurrentQuestion int           `json:"currentQuestion"`
	Answers         []int         `json:"answers"`
	Score           int           `json:"score"`
	Completed       bool          `json:"completed"`
	StartedAt       time.Time     `json:"startedAt"`
	TimeSpent       time.Duration `json:"timeSpent"`
	RetryCount      int           `json:"retryCount"`
}

// Clone returns a deep copy of the attempt, safe to hand to readers that
// outlive the caller's lock.
func (p *Progress) Clone() *Progress {
	if p == nil {
		return nil
	}
	c := *p
	c.Answers = append([]int(nil), p.Answers...)
	return &c
}

// Result is the outcome of a finalized attempt.
type Result struct {
	ScorePercent float64 `json:"score_percent"`
	CorrectCount int     `json:"correct_count"`
	Passed       bool    `json:"passed"`
}

// Start allocates a fresh attempt for the quest. Returns nil for quests
// without questions.
func Start(q *resource.Quest, now time.Time) *Progress {
	if q == nil || len(q.Questions) == 0 {
		return nil
	}
	answers := make([]int, len(q.Questions))
	for i := range answers {
		answers[i] = Unanswered
	}
	return &Progress{
		CurrentQuestion: 0,
		Answers:         answers,
		StartedAt:       now,
	}
}

// SubmitAnswer records answerIdx for questionIdx, recomputes the running
// score and advances CurrentQuestion to the next unanswered index if one
// exists. It is a no-op on completed attempts and out-of-range indices.
func (p *Progress) SubmitAnswer(q *resource.Quest, questionIdx, answerIdx int) bool {
	if p == nil || q == nil || p.Completed {
		return false
	}
	if questionIdx < 0 || questionIdx >= len(p.Answers) || questionIdx >= len(q.Questions) {
		return false
	}
	if answerIdx < 0 || answerIdx >= len(q.Questions[questionIdx].Options) {
		return false
	}

	p.Answers[questionIdx] = answerIdx
	p.Score = runningScore(p, q)

	if next, ok := p.nextUnanswered(); ok {
		p.CurrentQuestion = next
	}
	return true
}

// runningScore sums the point values of currently-correct answers.
func runningScore(p *Progress, q *resource.Quest) int {
	score := 0
	for i, question := range q.Questions {
		if i >= len(p.Answers) || p.Answers[i] != question.CorrectIndex {
			continue
		}
		points := question.Points
		if points <= 0 {
			points = 1
		}
		score += points
	}
	return score
}

func (p *Progress) nextUnanswered() (int, bool) {
	for i, a := range p.Answers {
		if a == Unanswered {
			return i, true
		}
	}
	return 0, false
}

// AllAnswered reports whether every question has a recorded answer.
func (p *Progress) AllAnswered() bool {
	if p == nil {
		return false
	}
	_, unanswered := p.nextUnanswered()
	return !unanswered
}

// Finalize closes the attempt and grades it. The pass threshold is the
// quest's PassingScore percent over the fraction of correct answers.
// Finalizing an already-completed attempt is a no-op.
func (p *Progress) Finalize(q *resource.Quest, now time.Time) (Result, bool) {
	if p == nil || q == nil || len(q.Questions) == 0 || p.Completed {
		return Result{}, false
	}

	correct := 0
	for i, question := range q.Questions {
		if i < len(p.Answers) && p.Answers[i] == question.CorrectIndex {
			correct++
		}
	}
	percent := float64(correct) / float64(len(q.Questions)) * 100

	p.Completed = true
	p.TimeSpent += now.Sub(p.StartedAt)

	return Result{
		ScorePercent: percent,
		CorrectCount: correct,
		Passed:       percent >= float64(q.PassingScore),
	}, true
}

// RetryCap returns the number of retries a quest allows: one when retries
// are enabled, zero otherwise.
func RetryCap(q *resource.Quest) int {
	if q != nil && q.AllowRetries {
		return 1
	}
	return 0
}

// CanRetry reports whether a further attempt is allowed after a failure.
func (p *Progress) CanRetry(q *resource.Quest) bool {
	if p == nil {
		return false
	}
	return p.RetryCount < RetryCap(q)
}

// Retry resets the attempt for another run: fresh answers, incremented
// retry count, accumulated time carried over. Returns nil when the retry
// allowance is exhausted.
func (p *Progress) Retry(q *resource.Quest, now time.Time) *Progress {
	if p == nil || !p.CanRetry(q) {
		return nil
	}
	fresh := Start(q, now)
	if fresh == nil {
		return nil
	}
	fresh.RetryCount = p.RetryCount + 1
	fresh.TimeSpent = p.TimeSpent
	return fresh
}
