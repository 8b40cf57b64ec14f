package matchmaker

import "testing"

func TestWindowNeverDecreases(t *testing.T) {
	prev := 0
	for ticks := 0; ticks < 50; ticks++ {
		w := Window(ticks)
		if w <= prev && ticks > 0 {
			t.Fatalf("window shrank at tick %d: %d -> %d", ticks, prev, w)
		}
		prev = w
	}
	if Window(0) != 200 {
		t.Errorf("base window: got %d, want 200", Window(0))
	}
	if Window(4) != 400 {
		t.Errorf("4 ticks: got %d, want 400", Window(4))
	}
}

func TestFindPartnerSkipsSameOwner(t *testing.T) {
	queue := []queued{
		{id: "a", elo: 1200, owner: "alice", ticks: 0},
		{id: "b", elo: 1210, owner: "alice", ticks: 0},
		{id: "c", elo: 1250, owner: "bob", ticks: 0},
	}
	j, ok := findPartner(queue, 0)
	if !ok {
		t.Fatal("expected a partner for fighter a")
	}
	if queue[j].id != "c" {
		t.Errorf("paired with %s, want c (same-owner b must be skipped)", queue[j].id)
	}
}

func TestFindPartnerRespectsWindow(t *testing.T) {
	queue := []queued{
		{id: "a", elo: 1200, owner: "alice", ticks: 0},
		{id: "b", elo: 1500, owner: "bob", ticks: 0},
	}
	if _, ok := findPartner(queue, 0); ok {
		t.Fatal("300-point gap should not pair inside a 200 window")
	}

	// After two empty ticks the window reaches 300 and the pair is legal.
	queue[0].ticks = 2
	j, ok := findPartner(queue, 0)
	if !ok || queue[j].id != "b" {
		t.Fatalf("expected pairing at widened window, got ok=%v", ok)
	}
}

func TestFindPartnerPrefersClosest(t *testing.T) {
	queue := []queued{
		{id: "a", elo: 1200, owner: "alice", ticks: 0},
		{id: "b", elo: 1350, owner: "bob", ticks: 0},
		{id: "c", elo: 1220, owner: "carol", ticks: 0},
	}
	j, ok := findPartner(queue, 0)
	if !ok || queue[j].id != "c" {
		t.Fatalf("expected closest-rated partner c, got %v", queue[j].id)
	}
}

func TestFindPartnerNeverSelf(t *testing.T) {
	queue := []queued{
		{id: "a", elo: 1200, owner: "alice", ticks: 0},
	}
	if _, ok := findPartner(queue, 0); ok {
		t.Fatal("single fighter must not pair with itself")
	}
}
