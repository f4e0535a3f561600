package model

import "strings"

// Audience describes who a project's content targets.
type Audience struct {
	Age       string   `json:"age,omitempty"`
	Gender    string   `json:"gender,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// ProjectProfile is the content-strategy profile owned by the project
// subsystem. The pipeline reads it to build keywords and scoring prompts;
// it never writes it.
type ProjectProfile struct {
	ProjectID    int64    `json:"project_id"`
	Name         string   `json:"name"`
	Niche        string   `json:"niche"`
	SubNiche     string   `json:"sub_niche,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	AntiKeywords []string `json:"anti_keywords,omitempty"`
	Exclude      []string `json:"exclude,omitempty"`
	Formats      []string `json:"format,omitempty"`
	Audience     Audience `json:"audience"`
	Tone         string   `json:"tone,omitempty"`
}

// ExcludeWords returns the merged, lowercased anti-keyword set used by the
// metadata filter.
func (p *ProjectProfile) ExcludeWords() []string {
	seen := make(map[string]struct{}, len(p.Exclude)+len(p.AntiKeywords))
	var words []string
	for _, w := range append(append([]string{}, p.Exclude...), p.AntiKeywords...) {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return words
}

// SearchKeywords returns the keywords a scan should search for, falling
// back from custom keywords to profile keywords to the niche itself.
func (p *ProjectProfile) SearchKeywords(custom []string) []string {
	if len(custom) > 0 {
		return custom
	}
	if len(p.Keywords) > 0 {
		return p.Keywords
	}
	var kws []string
	for _, k := range []string{p.Niche, p.SubNiche} {
		if strings.TrimSpace(k) != "" {
			kws = append(kws, k)
		}
	}
	if len(kws) == 0 {
		kws = []string{"trending"}
	}
	return kws
}
