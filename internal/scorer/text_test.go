package scorer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipscope/clipscope-go/internal/model"
)

func testProfile() *model.ProjectProfile {
	return &model.ProjectProfile{
		ProjectID: 1,
		Niche:     "fitness",
		SubNiche:  "home workouts",
		Keywords:  []string{"home workout"},
		Exclude:   []string{"gambling"},
		Tone:      "energetic",
	}
}

func geminiStub(t *testing.T, replyText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, replyText)
	}))
}

func TestParseBatchScores_FencedJSON(t *testing.T) {
	text := "Here are the scores:\n```json\n[{\"id\":1,\"score\":85,\"reason\":\"good match\"}]\n```"
	scores := parseBatchScores(text)
	require.Len(t, scores, 1)
	assert.Equal(t, 1, scores[0].ID)
	assert.Equal(t, 85, scores[0].Score)
}

func TestParseBatchScores_BareArray(t *testing.T) {
	scores := parseBatchScores(`[{"id":1,"score":70,"reason":"ok"},{"id":2,"score":30,"reason":"off topic"}]`)
	require.Len(t, scores, 2)
	assert.Equal(t, 30, scores[1].Score)
}

func TestParseBatchScores_Garbage(t *testing.T) {
	assert.Nil(t, parseBatchScores("I cannot score these videos."))
	assert.Nil(t, parseBatchScores(""))
}

func TestScoreText_AssignsScoresInOrder(t *testing.T) {
	srv := geminiStub(t, `[{"id":1,"score":90,"reason":"strong"},{"id":2,"score":40,"reason":"weak"}]`)
	defer srv.Close()

	client := NewGeminiClient("key", "gemini-2.0-flash", 5*time.Second, WithBaseURL(srv.URL))
	scorer := NewTextScorer(client, 8)

	videos := []model.RawVideo{
		{ID: "a", Description: "kettlebell circuit"},
		{ID: "b", Description: "casino night"},
	}
	scores, err := scorer.ScoreText(context.Background(), videos, testProfile())
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, model.TextScore{VideoID: "a", Score: 90, Reason: "strong"}, scores[0])
	assert.Equal(t, model.TextScore{VideoID: "b", Score: 40, Reason: "weak"}, scores[1])
}

func TestScoreText_MissingEntriesScoreZero(t *testing.T) {
	// Model only scores video 1; video 2 must fall through the threshold.
	srv := geminiStub(t, `[{"id":1,"score":80,"reason":"match"}]`)
	defer srv.Close()

	client := NewGeminiClient("key", "gemini-2.0-flash", 5*time.Second, WithBaseURL(srv.URL))
	scorer := NewTextScorer(client, 8)

	scores, err := scorer.ScoreText(context.Background(), []model.RawVideo{{ID: "a"}, {ID: "b"}}, testProfile())
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 80, scores[0].Score)
	assert.Equal(t, 0, scores[1].Score)
	assert.Equal(t, "unscored", scores[1].Reason)
}

func TestScoreText_FailedBatchScoresZeroWithoutAborting(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"[{\"id\":1,\"score\":75,\"reason\":\"fine\"}]"}]}}]}`)
	}))
	defer srv.Close()

	client := NewGeminiClient("key", "gemini-2.0-flash", 5*time.Second, WithBaseURL(srv.URL))
	scorer := NewTextScorer(client, 2)

	videos := []model.RawVideo{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	scores, err := scorer.ScoreText(context.Background(), videos, testProfile())
	require.NoError(t, err)
	require.Len(t, scores, 3)

	// First batch (a, b) failed, third video scored in the second batch.
	assert.Equal(t, 0, scores[0].Score)
	assert.Equal(t, 0, scores[1].Score)
	assert.Equal(t, 75, scores[2].Score)
}

func TestScoreText_TruncatesReasonOnRuneBoundary(t *testing.T) {
	// A long multibyte reason must come back as valid UTF-8 after the cut,
	// or the result row insert fails downstream.
	longReason := strings.Repeat("é", 200) // 400 bytes of 2-byte runes
	srv := geminiStub(t, fmt.Sprintf(`[{"id":1,"score":80,"reason":"%s"}]`, longReason))
	defer srv.Close()

	client := NewGeminiClient("key", "gemini-2.0-flash", 5*time.Second, WithBaseURL(srv.URL))
	scorer := NewTextScorer(client, 8)

	scores, err := scorer.ScoreText(context.Background(), []model.RawVideo{{ID: "a"}}, testProfile())
	require.NoError(t, err)
	require.Len(t, scores, 1)

	assert.True(t, utf8.ValidString(scores[0].Reason), "truncated reason must be valid UTF-8")
	assert.LessOrEqual(t, len(scores[0].Reason), maxReasonLen)
	assert.Equal(t, 254, len(scores[0].Reason), "cut lands before the split rune (127 whole runes)")
}

func TestScoreText_ClampsOutOfRangeScores(t *testing.T) {
	srv := geminiStub(t, `[{"id":1,"score":150,"reason":"x"},{"id":2,"score":-10,"reason":"y"}]`)
	defer srv.Close()

	client := NewGeminiClient("key", "gemini-2.0-flash", 5*time.Second, WithBaseURL(srv.URL))
	scorer := NewTextScorer(client, 8)

	scores, err := scorer.ScoreText(context.Background(), []model.RawVideo{{ID: "a"}, {ID: "b"}}, testProfile())
	require.NoError(t, err)
	assert.Equal(t, 100, scores[0].Score)
	assert.Equal(t, 0, scores[1].Score)
}
