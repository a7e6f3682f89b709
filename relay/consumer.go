package relay

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/globalworming/low-tech-ai-pocs/slots"
	"github.com/globalworming/low-tech-ai-pocs/telemetry"
)

// ChatEvent is one chat line delivered by the transport.
type ChatEvent struct {
	Channel string
	Author  string
	Text    string
}

// SlotUpdate describes a payload accepted into the store.
type SlotUpdate struct {
	Slot    slots.ID
	Author  string
	Payload string
}

// Match is announced when the owner starts a new game. Both slots are
// emptied before it is reported.
type Match struct {
	Channel string
	P1      string
	P2      string
	Cleared int
}

// matchLine is the owner's "game <p1> vs <p2>" announcement.
var matchLine = regexp.MustCompile(`(?i)^game\s+(.+?)\s+vs\s+(.+)$`)

// Consumer classifies chat events and stores matching payloads.
type Consumer struct {
	Classifier *slots.Classifier
	Store      *slots.Store
	// Owner is the login allowed to start a new match. Empty disables resets.
	Owner string

	// OnUpdate, if set, is called after each successful upsert.
	OnUpdate func(SlotUpdate)
	// OnUsage, if set, receives the hint for a slot command sent without a message.
	OnUsage func(ev ChatEvent, hint string)
	// OnMatch, if set, is called after the owner starts a new match.
	OnMatch func(Match)
}

// NewConsumer returns a consumer feeding store through classifier.
func NewConsumer(classifier *slots.Classifier, store *slots.Store) *Consumer {
	return &Consumer{Classifier: classifier, Store: store}
}

// Handle processes one event and reports whether a payload was stored.
func (c *Consumer) Handle(ev ChatEvent) bool {
	telemetry.IncChatLine()
	slog.Debug("chat line", slog.String("component", "relay"), slog.String("channel", ev.Channel), slog.String("author", ev.Author), slog.String("text", ev.Text))
	if ev.Author == "" || ev.Text == "" {
		return false
	}
	if c.startMatch(ev) {
		return false
	}
	id, payload, ok := c.Classifier.Classify(ev.Text)
	if !ok {
		if _, cmd, bare := c.Classifier.EmptyCommand(ev.Text); bare && c.OnUsage != nil {
			c.OnUsage(ev, fmt.Sprintf("usage: %s <message> - like %s has ninja skills", cmd, cmd))
		}
		return false
	}
	if err := c.Store.Upsert(id, ev.Author, payload); err != nil {
		slog.Error("slot upsert failed", slog.String("component", "relay"), slog.Any("err", err))
		return false
	}
	telemetry.IncSlotUpsert(id.String())
	slog.Debug("stored slot payload", slog.String("component", "relay"), slog.String("slot", id.String()), slog.String("author", ev.Author), slog.String("payload", payload))
	if c.OnUpdate != nil {
		c.OnUpdate(SlotUpdate{Slot: id, Author: ev.Author, Payload: payload})
	}
	return true
}

// startMatch clears both slots when the owner announces a new game.
func (c *Consumer) startMatch(ev ChatEvent) bool {
	if c.Owner == "" || !strings.EqualFold(ev.Author, c.Owner) {
		return false
	}
	m := matchLine.FindStringSubmatch(strings.TrimSpace(ev.Text))
	if m == nil {
		return false
	}
	match := Match{Channel: ev.Channel, P1: strings.TrimSpace(m[1]), P2: strings.TrimSpace(m[2])}
	match.Cleared = c.Store.Clear()
	slog.Info("new match started, slots cleared",
		slog.String("component", "relay"),
		slog.String("p1", match.P1),
		slog.String("p2", match.P2),
		slog.Int("cleared", match.Cleared),
	)
	if c.OnMatch != nil {
		c.OnMatch(match)
	}
	return true
}
