package repository

import (
	"strings"
	"testing"
)

func TestResultOrderClause_CastsPlayCountNumeric(t *testing.T) {
	clause := resultOrderClause("final_score")

	// jsonb ->> returns text; without the cast "999" would outrank
	// "100000" on the tie-break.
	if !strings.Contains(clause, "(video_stats->>'playCount')::bigint DESC") {
		t.Fatalf("play count tie-break is not numeric: %s", clause)
	}
	if !strings.HasPrefix(clause, "final_score DESC NULLS LAST") {
		t.Errorf("primary sort wrong: %s", clause)
	}
}

func TestResultSortColumns_Whitelist(t *testing.T) {
	for _, key := range []string{"final_score", "vision_score", "found_at"} {
		if _, ok := resultSortColumns[key]; !ok {
			t.Errorf("sort key %q missing from whitelist", key)
		}
	}
	if _, ok := resultSortColumns["video_stats->>'playCount'"]; ok {
		t.Error("raw expressions must not be whitelisted sort keys")
	}
}
