package relay

import "testing"

func TestSharedInterests(t *testing.T) {
	got := sharedInterests([]string{"music", "coding", "art"}, []string{"coding", "hiking", "music"})
	if len(got) != 2 || got[0] != "coding" || got[1] != "music" {
		t.Errorf("unexpected intersection: %v", got)
	}
}

func TestSharedInterests_Empty(t *testing.T) {
	if got := sharedInterests([]string{"music"}, []string{"art"}); len(got) != 0 {
		t.Errorf("expected empty intersection, got %v", got)
	}
	if got := sharedInterests(nil, nil); len(got) != 0 {
		t.Errorf("expected empty intersection for nil inputs, got %v", got)
	}
}

func TestSharedInterests_Deduplicates(t *testing.T) {
	got := sharedInterests([]string{"music"}, []string{"music", "music"})
	if len(got) != 1 || got[0] != "music" {
		t.Errorf("expected deduplicated intersection, got %v", got)
	}
}

func TestCompatible_NoRequirement(t *testing.T) {
	shared, ok := compatible([]string{"music"}, false, []string{"art"}, false)
	if !ok {
		t.Fatal("clients without matching requirement should always pair")
	}
	if len(shared) != 0 {
		t.Errorf("expected no shared interests, got %v", shared)
	}
}

func TestCompatible_OneSideRequires(t *testing.T) {
	if _, ok := compatible([]string{"music"}, true, []string{"art"}, false); ok {
		t.Error("requiring side with no overlap must not pair")
	}

	shared, ok := compatible([]string{"music"}, true, []string{"music", "art"}, false)
	if !ok {
		t.Fatal("overlap should satisfy the requiring side")
	}
	if len(shared) != 1 || shared[0] != "music" {
		t.Errorf("unexpected shared interests: %v", shared)
	}
}

func TestCompatible_BothRequire(t *testing.T) {
	if _, ok := compatible([]string{"music"}, true, []string{"art"}, true); ok {
		t.Error("no overlap must not pair when both require matching")
	}
	if _, ok := compatible([]string{"music", "go"}, true, []string{"go"}, true); !ok {
		t.Error("single overlap should pair")
	}
}

func TestMemBusPublishSubscribe(t *testing.T) {
	bus := NewMemBus()

	var got []Event
	cancel, err := bus.Subscribe("r1", func(ev Event) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish("r1", Event{Type: "message", From: "a", Text: "hi"})
	bus.Publish("r2", Event{Type: "message", From: "a", Text: "other room"})

	if len(got) != 1 || got[0].Text != "hi" {
		t.Fatalf("unexpected events: %+v", got)
	}

	cancel()
	bus.Publish("r1", Event{Type: "message", From: "a", Text: "after cancel"})
	if len(got) != 1 {
		t.Fatalf("cancelled subscriber still invoked: %+v", got)
	}
}
