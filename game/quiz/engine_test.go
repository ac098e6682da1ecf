package quiz

import (
	"testing"
	"time"

	"github.com/lumahq/campusquest/server/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quizQuest() *resource.Quest {
	return &resource.Quest{
		ID:           "science-quiz",
		Title:        "Science Quiz",
		Kind:         resource.KindQuiz,
		PassingScore: 70,
		Questions: []resource.QuizQuestion{
			{ID: "q0", Prompt: "2+2?", Options: []string{"3", "4", "5"}, CorrectIndex: 1},
			{ID: "q1", Prompt: "Sky color?", Options: []string{"blue", "green"}, CorrectIndex: 0, Points: 2},
		},
	}
}

func TestStart(t *testing.T) {
	now := time.Now()
	p := Start(quizQuest(), now)
	require.NotNil(t, p)
	assert.Equal(t, 0, p.CurrentQuestion)
	assert.Equal(t, []int{Unanswered, Unanswered}, p.Answers)
	assert.Zero(t, p.Score)
	assert.False(t, p.Completed)
	assert.Equal(t, now, p.StartedAt)
}

func TestStart_NoQuestions(t *testing.T) {
	q := &resource.Quest{ID: "walk", Kind: resource.KindLocation}
	assert.Nil(t, Start(q, time.Now()))
	assert.Nil(t, Start(nil, time.Now()))
}

func TestSubmitAnswer_AdvancesToNextUnanswered(t *testing.T) {
	q := quizQuest()
	p := Start(q, time.Now())

	require.True(t, p.SubmitAnswer(q, 0, 1))
	assert.Equal(t, 1, p.CurrentQuestion)
	assert.Equal(t, 1, p.Score)

	// Last question answered: index must not advance past the end.
	require.True(t, p.SubmitAnswer(q, 1, 0))
	assert.Equal(t, 1, p.CurrentQuestion)
	assert.Equal(t, 3, p.Score)
	assert.True(t, p.AllAnswered())
}

func TestSubmitAnswer_RecomputesScoreOnChange(t *testing.T) {
	q := quizQuest()
	p := Start(q, time.Now())

	require.True(t, p.SubmitAnswer(q, 0, 1))
	assert.Equal(t, 1, p.Score)

	// Changing to a wrong answer drops the running score.
	require.True(t, p.SubmitAnswer(q, 0, 0))
	assert.Equal(t, 0, p.Score)
}

func TestSubmitAnswer_Rejections(t *testing.T) {
	q := quizQuest()
	p := Start(q, time.Now())

	assert.False(t, p.SubmitAnswer(q, -1, 0))
	assert.False(t, p.SubmitAnswer(q, 2, 0))
	assert.False(t, p.SubmitAnswer(q, 0, 3))
	assert.False(t, p.SubmitAnswer(q, 0, -1))

	p.Completed = true
	assert.False(t, p.SubmitAnswer(q, 0, 1), "completed attempt rejects answers")
}

func TestFinalize_AllCorrect(t *testing.T) {
	q := quizQuest()
	start := time.Now()
	p := Start(q, start)
	p.SubmitAnswer(q, 0, 1)
	p.SubmitAnswer(q, 1, 0)

	res, ok := p.Finalize(q, start.Add(90*time.Second))
	require.True(t, ok)
	assert.Equal(t, 100.0, res.ScorePercent)
	assert.Equal(t, 2, res.CorrectCount)
	assert.True(t, res.Passed)
	assert.True(t, p.Completed)
	assert.Equal(t, 90*time.Second, p.TimeSpent)
}

func TestFinalize_HalfCorrectFails(t *testing.T) {
	q := quizQuest() // passing score 70
	p := Start(q, time.Now())
	p.SubmitAnswer(q, 0, 1) // correct
	p.SubmitAnswer(q, 1, 1) // wrong

	res, ok := p.Finalize(q, time.Now())
	require.True(t, ok)
	assert.Equal(t, 50.0, res.ScorePercent)
	assert.Equal(t, 1, res.CorrectCount)
	assert.False(t, res.Passed)
}

func TestFinalize_Twice(t *testing.T) {
	q := quizQuest()
	p := Start(q, time.Now())
	_, ok := p.Finalize(q, time.Now())
	require.True(t, ok)
	_, ok = p.Finalize(q, time.Now())
	assert.False(t, ok, "second finalize is a no-op")
}

func TestFinalize_NoAttempt(t *testing.T) {
	var p *Progress
	_, ok := p.Finalize(quizQuest(), time.Now())
	assert.False(t, ok)
}

func TestRetryPolicy(t *testing.T) {
	q := quizQuest()
	q.AllowRetries = true
	assert.Equal(t, 1, RetryCap(q))

	noRetry := quizQuest()
	assert.Equal(t, 0, RetryCap(noRetry))

	p := Start(q, time.Now())
	p.Finalize(q, time.Now())
	assert.True(t, p.CanRetry(q))

	second := p.Retry(q, time.Now())
	require.NotNil(t, second)
	assert.Equal(t, 1, second.RetryCount)
	assert.Equal(t, []int{Unanswered, Unanswered}, second.Answers)
	assert.False(t, second.Completed)

	// Cap reached: a third attempt is never allowed.
	second.Finalize(q, time.Now())
	assert.False(t, second.CanRetry(q))
	assert.Nil(t, second.Retry(q, time.Now()))
}

func TestRetry_CarriesAccumulatedTime(t *testing.T) {
	q := quizQuest()
	q.AllowRetries = true
	start := time.Now()

	p := Start(q, start)
	p.Finalize(q, start.Add(time.Minute))

	second := p.Retry(q, start.Add(2*time.Minute))
	require.NotNil(t, second)
	assert.Equal(t, time.Minute, second.TimeSpent)

	second.Finalize(q, start.Add(3*time.Minute))
	assert.Equal(t, 2*time.Minute, second.TimeSpent)
}

func TestRetry_WithoutAllowance(t *testing.T) {
	q := quizQuest()
	p := Start(q, time.Now())
	p.Finalize(q, time.Now())
	assert.False(t, p.CanRetry(q))
	assert.Nil(t, p.Retry(q, time.Now()))
}
