package chat

import "testing"

func TestParseInterests_TrimsAndFiltersEmpty(t *testing.T) {
	got := ParseInterests("music, , coding")

	expected := []string{"music", "coding"}
	if len(got) != len(expected) {
		t.Fatalf("expected %d interests, got %d: %v", len(expected), len(got), got)
	}
	for i, v := range expected {
		if got[i] != v {
			t.Errorf("interest[%d]: expected %q, got %q", i, v, got[i])
		}
	}
}

func TestParseInterests_AllEmpty(t *testing.T) {
	if got := ParseInterests(" , ,,  "); len(got) != 0 {
		t.Errorf("expected no interests, got %v", got)
	}
	if got := ParseInterests(""); len(got) != 0 {
		t.Errorf("expected no interests for empty input, got %v", got)
	}
}

func TestParseInterests_KeepsDuplicatesAndOrder(t *testing.T) {
	got := ParseInterests("gaming, music, gaming")

	expected := []string{"gaming", "music", "gaming"}
	if len(got) != len(expected) {
		t.Fatalf("expected %d interests, got %d: %v", len(expected), len(got), got)
	}
	for i, v := range expected {
		if got[i] != v {
			t.Errorf("interest[%d]: expected %q, got %q", i, v, got[i])
		}
	}
}

func TestNewPreferences_IgnoresInterestsWithoutMatching(t *testing.T) {
	p := NewPreferences("music, coding", false)

	if p.RequireMatching {
		t.Error("expected require_matching false")
	}
	if len(p.Interests) != 0 {
		t.Errorf("expected no interests when matching is off, got %v", p.Interests)
	}
}

func TestNewPreferences_WithMatching(t *testing.T) {
	p := NewPreferences("music, , coding", true)

	if !p.RequireMatching {
		t.Error("expected require_matching true")
	}
	if len(p.Interests) != 2 || p.Interests[0] != "music" || p.Interests[1] != "coding" {
		t.Errorf("unexpected interests: %v", p.Interests)
	}
}
