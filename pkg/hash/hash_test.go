package hash

import "testing"

func TestSHA256Hex(t *testing.T) {
	// Known vector: sha256("abc")
	got := SHA256Hex("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("SHA256Hex(abc) = %s, want %s", got, want)
	}
}

func TestSHA256Hex_Deterministic(t *testing.T) {
	a := SHA256Hex("https://cdn.example.com/cover.jpg")
	b := SHA256Hex("https://cdn.example.com/cover.jpg")
	if a != b {
		t.Error("same input produced different hashes")
	}
}

func TestCacheKey_Length(t *testing.T) {
	inputs := []string{"", "x", "a very long url with query params?a=1&b=2&c=3"}
	for _, in := range inputs {
		if got := CacheKey(in); len(got) != 16 {
			t.Errorf("CacheKey(%q) length = %d, want 16", in, len(got))
		}
	}
}

func TestCacheKey_DistinctInputs(t *testing.T) {
	if CacheKey("url-one") == CacheKey("url-two") {
		t.Error("distinct inputs produced the same cache key")
	}
}
