package relay

import (
	"strings"
	"testing"

	"github.com/globalworming/low-tech-ai-pocs/slots"
)

func newTestConsumer() (*Consumer, *slots.Store) {
	store := slots.NewStore()
	return NewConsumer(slots.NewClassifier(slots.DefaultP1Prefix, slots.DefaultP2Prefix, slots.DefaultMaxLength), store), store
}

func TestConsumerHandle(t *testing.T) {
	c, store := newTestConsumer()
	var updates []SlotUpdate
	c.OnUpdate = func(u SlotUpdate) { updates = append(updates, u) }

	tests := []struct {
		ev   ChatEvent
		want bool
	}{
		{ChatEvent{Author: "alice", Text: "P1: hello"}, true},
		{ChatEvent{Author: "bob", Text: "P2: jump"}, true},
		{ChatEvent{Author: "carol", Text: "just chatting"}, false},
		{ChatEvent{Author: "", Text: "P1: anonymous"}, false},
		{ChatEvent{Author: "dave", Text: ""}, false},
		{ChatEvent{Author: "alice", Text: "P1: " + strings.Repeat("x", 300)}, true},
	}
	for _, tt := range tests {
		if got := c.Handle(tt.ev); got != tt.want {
			t.Errorf("Handle(%+v) = %v, want %v", tt.ev, got, tt.want)
		}
	}

	snap := store.Snapshot()
	if len(snap.P1["alice"]) != 200 {
		t.Errorf("alice P1 length = %d, want 200 (latest, truncated)", len(snap.P1["alice"]))
	}
	if snap.P2["bob"] != "jump" {
		t.Errorf("bob P2 = %q", snap.P2["bob"])
	}
	if len(updates) != 3 {
		t.Errorf("updates = %d, want 3", len(updates))
	}
}

func TestConsumerCommands(t *testing.T) {
	store := slots.NewStore()
	cls := slots.NewClassifier(slots.DefaultP1Prefix, slots.DefaultP2Prefix, slots.DefaultMaxLength)
	_ = cls.AddCommand(slots.P1, slots.DefaultP1Command)
	_ = cls.AddCommand(slots.P2, slots.DefaultP2Command)
	c := NewConsumer(cls, store)
	var hints []string
	c.OnUsage = func(ev ChatEvent, hint string) { hints = append(hints, ev.Author+": "+hint) }

	if !c.Handle(ChatEvent{Author: "alice", Text: "!p1 has ninja skills"}) {
		t.Fatal("!p1 command not stored")
	}
	if !c.Handle(ChatEvent{Author: "alice", Text: "P2: mixed input"}) {
		t.Fatal("P2: prefix not stored")
	}
	if c.Handle(ChatEvent{Author: "bob", Text: "!p2"}) {
		t.Fatal("empty !p2 was stored")
	}

	snap := store.Snapshot()
	if snap.P1["alice"] != "has ninja skills" || snap.P2["alice"] != "mixed input" {
		t.Errorf("snapshot = %+v", snap)
	}
	if _, ok := snap.P2["bob"]; ok {
		t.Error("bob stored from an empty command")
	}
	want := "bob: usage: !p2 <message> - like !p2 has ninja skills"
	if len(hints) != 1 || hints[0] != want {
		t.Errorf("hints = %q, want [%q]", hints, want)
	}
}

func TestConsumerOwnerStartsMatch(t *testing.T) {
	c, store := newTestConsumer()
	c.Owner = "globalworming"
	var matches []Match
	c.OnMatch = func(m Match) { matches = append(matches, m) }

	c.Handle(ChatEvent{Author: "alice", Text: "P1: old pick"})
	c.Handle(ChatEvent{Author: "bob", Text: "P2: old pick"})

	// Only the owner may reset.
	if c.Handle(ChatEvent{Author: "mallory", Text: "game ninja vs pirate"}); store.Snapshot().Len() != 2 {
		t.Fatal("non-owner cleared the slots")
	}

	if c.Handle(ChatEvent{Channel: "lowtech", Author: "GlobalWorming", Text: "  Game Ninja Turtle vs Pirate  "}) {
		t.Error("match announcement reported as stored")
	}
	if !store.Snapshot().Empty() {
		t.Errorf("slots not cleared: %+v", store.Snapshot())
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	if m := matches[0]; m.P1 != "Ninja Turtle" || m.P2 != "Pirate" || m.Cleared != 2 || m.Channel != "lowtech" {
		t.Errorf("match = %+v", m)
	}

	// Owner's ordinary slot lines are still stored.
	if !c.Handle(ChatEvent{Author: "globalworming", Text: "P1: first pick"}) {
		t.Error("owner slot line not stored")
	}
}

func TestConsumerNoOwnerNeverResets(t *testing.T) {
	c, store := newTestConsumer()
	c.Handle(ChatEvent{Author: "alice", Text: "P1: keep me"})
	c.Handle(ChatEvent{Author: "alice", Text: "game a vs b"})
	if store.Snapshot().P1["alice"] != "keep me" {
		t.Error("reset happened without an owner configured")
	}
}
