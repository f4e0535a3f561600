package pipeline

import (
	"strings"
	"time"

	"github.com/clipscope/clipscope-go/internal/model"
)

// Filter drops candidates below the view floor, older than the cutoff, or
// whose text matches an anti-keyword. Pure and order-preserving; videos
// without a post timestamp pass the date check (the platform omits it for
// some items).
func Filter(videos []model.RawVideo, minViews int64, cutoff time.Time, antiKeywords []string) []model.RawVideo {
	kept := make([]model.RawVideo, 0, len(videos))
	for _, v := range videos {
		if v.Stats.PlayCount < minViews {
			continue
		}
		if !v.CreatedAt.IsZero() && v.CreatedAt.Before(cutoff) {
			continue
		}
		if matchesAnyKeyword(v, antiKeywords) {
			continue
		}
		kept = append(kept, v)
	}
	return kept
}

// matchesAnyKeyword reports whether the video's description or hashtags
// contain any anti-keyword, case-insensitively.
func matchesAnyKeyword(v model.RawVideo, antiKeywords []string) bool {
	if len(antiKeywords) == 0 {
		return false
	}

	text := strings.ToLower(v.Description)
	if len(v.Hashtags) > 0 {
		text += " " + strings.ToLower(strings.Join(v.Hashtags, " "))
	}

	for _, kw := range antiKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
