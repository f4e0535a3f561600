package pipeline

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/clipscope/clipscope-go/internal/model"
)

// Default fusion weights. Vision outweighs text because the vision stage
// has actually watched the content.
const (
	DefaultTextWeight   = 0.4
	DefaultVisionWeight = 0.6
)

// FinalScore fuses text and vision scores with the given weights. Without
// a vision score, the text score stands alone. Always in [0,100].
func FinalScore(textScore int, visionScore *int, textWeight, visionWeight float64) int {
	if visionScore == nil {
		return clamp(textScore)
	}
	fused := int(math.Round(textWeight*float64(textScore) + visionWeight*float64(*visionScore)))
	return clamp(fused)
}

// Dedupe removes in-batch duplicates by video id, keeping the first
// occurrence. Order-preserving.
func Dedupe(scored []model.ScoredVideo) []model.ScoredVideo {
	seen := make(map[string]struct{}, len(scored))
	out := make([]model.ScoredVideo, 0, len(scored))
	for _, sv := range scored {
		if sv.Video.ID == "" {
			continue
		}
		if _, ok := seen[sv.Video.ID]; ok {
			continue
		}
		seen[sv.Video.ID] = struct{}{}
		out = append(out, sv)
	}
	return out
}

// BuildResults turns scored candidates into ranked result rows: in-batch
// dedup, weighted fusion, then a stable sort by final score descending
// with play count as the tie-break. Deterministic for reproducible
// pagination.
func BuildResults(projectID int64, batchID string, scored []model.ScoredVideo, textWeight, visionWeight float64) []model.SuperVisionResult {
	scored = Dedupe(scored)

	results := make([]model.SuperVisionResult, 0, len(scored))
	for _, sv := range scored {
		res := model.SuperVisionResult{
			ProjectID:        projectID,
			VideoID:          sv.Video.ID,
			VideoURL:         sv.Video.VideoURL,
			VideoAuthor:      sv.Video.Author,
			VideoCoverURL:    sv.Video.CoverURL,
			VideoPlayAddr:    sv.Video.PlayAddr,
			VideoDescription: truncate(sv.Video.Description, 500),
			VideoStats:       sv.Video.Stats,
			TextScore:        sv.Text.Score,
			TextReason:       sv.Text.Reason,
			FinalScore:       FinalScore(sv.Text.Score, visionScoreOf(sv), textWeight, visionWeight),
			ScanBatchID:      batchID,
		}
		if sv.Vision != nil {
			score := clamp(sv.Vision.Score)
			res.VisionScore = &score
			res.VisionMatchReason = strPtr(sv.Vision.MatchReason)
			res.VisionAnalysis = strPtr(sv.Vision.Analysis)
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].VideoStats.PlayCount > results[j].VideoStats.PlayCount
	})
	return results
}

// CreditPolicy prices the billable stages of a run.
type CreditPolicy struct {
	ScrapeCost    int
	TextBatchCost int
	TextBatchSize int
	VisionCost    int
}

// RunCost returns the credits consumed by one run: a flat scrape cost,
// one batch cost per started text batch, and a per-video vision cost.
func (p CreditPolicy) RunCost(textScored, visionAnalyzed int) int {
	cost := p.ScrapeCost
	if textScored > 0 && p.TextBatchSize > 0 {
		batches := (textScored + p.TextBatchSize - 1) / p.TextBatchSize
		cost += batches * p.TextBatchCost
	}
	cost += visionAnalyzed * p.VisionCost
	return cost
}

func visionScoreOf(sv model.ScoredVideo) *int {
	if sv.Vision == nil {
		return nil
	}
	s := clamp(sv.Vision.Score)
	return &s
}

func clamp(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// truncate cuts s to at most n bytes without splitting a multibyte rune.
// A mid-rune cut would produce invalid UTF-8, which Postgres rejects on
// insert.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func strPtr(s string) *string {
	return &s
}
