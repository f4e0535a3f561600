package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/clipscope/clipscope-go/internal/model"
)

// DefaultTextBatchSize is the number of videos scored per model call.
// Smaller batches parse more reliably.
const DefaultTextBatchSize = 8

const maxReasonLen = 255

// TextScorer scores video metadata relevance against a project profile in
// batches. A failed batch yields score 0 for its videos instead of
// aborting: the threshold filter downstream drops them.
type TextScorer struct {
	client    *GeminiClient
	batchSize int
}

func NewTextScorer(client *GeminiClient, batchSize int) *TextScorer {
	if batchSize <= 0 {
		batchSize = DefaultTextBatchSize
	}
	return &TextScorer{client: client, batchSize: batchSize}
}

// ScoreText returns one TextScore per input video, in input order.
func (s *TextScorer) ScoreText(ctx context.Context, videos []model.RawVideo, profile *model.ProjectProfile) ([]model.TextScore, error) {
	scores := make([]model.TextScore, 0, len(videos))
	for start := 0; start < len(videos); start += s.batchSize {
		end := min(start+s.batchSize, len(videos))
		batch := videos[start:end]

		batchScores, err := s.scoreBatch(ctx, batch, profile)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Int("batch_size", len(batch)).Msg("text batch failed, scoring batch as 0")
			for _, v := range batch {
				scores = append(scores, model.TextScore{VideoID: v.ID, Score: 0, Reason: "scoring failed"})
			}
			continue
		}
		scores = append(scores, batchScores...)
	}
	return scores, nil
}

func (s *TextScorer) scoreBatch(ctx context.Context, batch []model.RawVideo, profile *model.ProjectProfile) ([]model.TextScore, error) {
	prompt := buildTextPrompt(batch, profile)

	raw, err := s.client.GenerateText(ctx, prompt)
	if err != nil {
		return nil, err
	}

	parsed := parseBatchScores(raw)
	byIndex := make(map[int]batchScore, len(parsed))
	for _, p := range parsed {
		if p.ID >= 1 && p.ID <= len(batch) {
			byIndex[p.ID] = p
		}
	}

	scores := make([]model.TextScore, 0, len(batch))
	for i, v := range batch {
		p, ok := byIndex[i+1]
		if !ok {
			// Missing from the model's response: excluded by threshold.
			scores = append(scores, model.TextScore{VideoID: v.ID, Score: 0, Reason: "unscored"})
			continue
		}
		scores = append(scores, model.TextScore{
			VideoID: v.ID,
			Score:   clampScore(p.Score),
			Reason:  truncate(p.Reason, maxReasonLen),
		})
	}
	return scores, nil
}

func buildTextPrompt(batch []model.RawVideo, profile *model.ProjectProfile) string {
	var lines []string
	for i, v := range batch {
		tags := v.Hashtags
		if len(tags) > 5 {
			tags = tags[:5]
		}
		lines = append(lines, fmt.Sprintf("%d. %q | Tags: %s | @%s | %d views",
			i+1, truncate(v.Description, 150), strings.Join(tags, ", "), v.Author, v.Stats.PlayCount))
	}

	return fmt.Sprintf(`Score each video's relevance to this content project (0-100).

PROJECT PROFILE:
- Niche: %s / %s
- Format: %s
- Audience: %s
- Style: %s
- EXCLUDE: %s

SCORING RUBRIC (each 0-25):
1. Topic match - does the content match the niche/sub-niche?
2. Format match - does the video format match (UGC, tutorial, etc.)?
3. Audience match - is this for the right audience?
4. Clean content - no excluded elements (clickbait, spam, etc.)?

VIDEOS:
%s

Return ONLY valid JSON array, no other text:
[{"id": 1, "score": 85, "reason": "3 words max"}, ...]`,
		profile.Niche, profile.SubNiche,
		strings.Join(profile.Formats, ", "),
		formatAudience(profile.Audience),
		profile.Tone,
		strings.Join(profile.ExcludeWords(), ", "),
		strings.Join(lines, "\n"))
}

func formatAudience(a model.Audience) string {
	age, gender := a.Age, a.Gender
	if age == "" {
		age = "any"
	}
	if gender == "" {
		gender = "any"
	}
	return fmt.Sprintf("Age: %s, Gender: %s, Interests: %s", age, gender, strings.Join(a.Interests, ", "))
}

type batchScore struct {
	ID     int    `json:"id"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

var jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
var jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)

// parseBatchScores extracts the JSON score array from the model response,
// accepting both fenced and bare output. Unparseable text yields nil.
func parseBatchScores(text string) []batchScore {
	candidate := ""
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	} else if m := jsonArrayRe.FindString(text); m != "" {
		candidate = m
	}
	if candidate == "" {
		return nil
	}

	var scores []batchScore
	if err := json.Unmarshal([]byte(candidate), &scores); err != nil {
		log.Warn().Err(err).Msg("failed to parse batch scores")
		return nil
	}
	return scores
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// truncate cuts s to at most n bytes without splitting a multibyte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
