package scorer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/clipscope/clipscope-go/internal/model"
)

const maxVisionReasonLen = 500

// VisionScorer asks a vision-capable model to watch a single video and
// score how well it matches a project profile. Callers invoke it once per
// video; a failure affects only that video.
type VisionScorer struct {
	client *GeminiClient
}

func NewVisionScorer(client *GeminiClient) *VisionScorer {
	return &VisionScorer{client: client}
}

// ScoreVision analyzes one video and returns its vision score.
func (s *VisionScorer) ScoreVision(ctx context.Context, video model.RawVideo, profile *model.ProjectProfile) (*model.VisionScore, error) {
	videoURL := video.PlayAddr
	if videoURL == "" {
		videoURL = video.VideoURL
	}
	if videoURL == "" {
		return nil, fmt.Errorf("video %s has no playable URL", video.ID)
	}

	parts := []contentPart{
		{FileData: &fileData{MimeType: "video/mp4", FileURI: videoURL}},
		{Text: buildVisionPrompt(video, profile)},
	}

	analysis, err := s.client.Generate(ctx, parts)
	if err != nil {
		return nil, fmt.Errorf("vision analysis for %s: %w", video.ID, err)
	}

	score, reason := ParseVisionResponse(analysis)
	return &model.VisionScore{
		VideoID:     video.ID,
		Score:       score,
		MatchReason: reason,
		Analysis:    analysis,
	}, nil
}

func buildVisionPrompt(video model.RawVideo, profile *model.ProjectProfile) string {
	return fmt.Sprintf(`You are an expert content analyst. Watch this video carefully and evaluate
how well it matches the following content project profile.

PROJECT PROFILE:
- Niche: %s / %s
- Content Format: %s
- Target Audience: %s
- Tone/Style: %s
- Topics to EXCLUDE: %s

VIDEO METADATA:
- Description: %s
- Author: @%s
- Views: %d

TASK: Watch the actual video content and answer:

1. VISUAL MATCH (0-25): Does the video visually match the niche?
2. FORMAT MATCH (0-25): Does the video format match? (UGC, tutorial, showcase, etc.)
3. AUDIENCE FIT (0-25): Would this appeal to the target audience?
4. CONTENT QUALITY (0-25): Is this high-quality, non-spammy content worth recommending?

Return your response in this EXACT format:
SCORE: [total 0-100]
MATCH: [Yes/Partial/No]
REASON: [1-2 sentence explanation of why this video does or does not match]`,
		profile.Niche, profile.SubNiche,
		strings.Join(profile.Formats, ", "),
		formatAudience(profile.Audience),
		profile.Tone,
		strings.Join(profile.ExcludeWords(), ", "),
		truncate(video.Description, 200), video.Author, video.Stats.PlayCount)
}

var (
	visionScoreRe  = regexp.MustCompile(`SCORE:\s*(\d+)`)
	visionReasonRe = regexp.MustCompile(`REASON:\s*(.+)`)
)

// ParseVisionResponse extracts the score and match reason from the
// model's SCORE/MATCH/REASON reply. A missing score defaults to 50.
func ParseVisionResponse(analysis string) (int, string) {
	score := 50
	if m := visionScoreRe.FindStringSubmatch(analysis); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			score = clampScore(n)
		}
	}

	reason := ""
	if m := visionReasonRe.FindStringSubmatch(analysis); m != nil {
		reason = truncate(strings.TrimSpace(firstLine(m[1])), maxVisionReasonLen)
	}
	return score, reason
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
