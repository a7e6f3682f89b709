package slots

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ID identifies one of the two message slots.
type ID int

const (
	// P1 is the first slot ("P1:" prefix by default).
	P1 ID = iota
	// P2 is the second slot ("P2:" prefix by default).
	P2
)

const (
	DefaultMaxLength = 200
	DefaultP1Prefix  = "P1:"
	DefaultP2Prefix  = "P2:"
	DefaultP1Command = "!p1"
	DefaultP2Command = "!p2"
)

// String returns the slot label used in logs and events.
func (id ID) String() string {
	switch id {
	case P1:
		return "p1"
	case P2:
		return "p2"
	default:
		return "unknown"
	}
}

// Classifier decides whether a chat line targets a slot and extracts its payload.
// A slot accepts any number of line prefixes ("P1:") and chat commands ("!p1").
// A prefix may be followed directly by the payload; a command must be followed
// by whitespace and a non-empty payload.
type Classifier struct {
	prefixes  [2][]string
	commands  [2][]string
	maxLength int
}

// NewClassifier returns a classifier with one prefix per slot (P1 then P2)
// and payload length limit in characters. Non-positive maxLength falls back
// to DefaultMaxLength. Commands are added with AddCommand.
func NewClassifier(p1Prefix, p2Prefix string, maxLength int) *Classifier {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	c := &Classifier{maxLength: maxLength}
	_ = c.AddPrefix(P1, p1Prefix)
	_ = c.AddPrefix(P2, p2Prefix)
	return c
}

// AddPrefix registers another line prefix for slot id. Empty prefixes are ignored.
func (c *Classifier) AddPrefix(id ID, prefix string) error {
	if id != P1 && id != P2 {
		return ErrUnknownSlot
	}
	if prefix != "" {
		c.prefixes[id] = append(c.prefixes[id], prefix)
	}
	return nil
}

// AddCommand registers a chat command (e.g. "!p1") for slot id. Empty names
// are ignored.
func (c *Classifier) AddCommand(id ID, name string) error {
	if id != P1 && id != P2 {
		return ErrUnknownSlot
	}
	if name = strings.TrimSpace(name); name != "" {
		c.commands[id] = append(c.commands[id], name)
	}
	return nil
}

var defaultClassifier = func() *Classifier {
	c := NewClassifier(DefaultP1Prefix, DefaultP2Prefix, DefaultMaxLength)
	_ = c.AddCommand(P1, DefaultP1Command)
	_ = c.AddCommand(P2, DefaultP2Command)
	return c
}()

// Classify runs the default classifier ("P1:"/"!p1", "P2:"/"!p2", 200 characters).
func Classify(text string) (ID, string, bool) {
	return defaultClassifier.Classify(text)
}

// Classify reports the slot and truncated payload for text. Lines that do not
// start with a configured prefix or command (case-sensitive) return ok=false,
// as do commands without a payload.
func (c *Classifier) Classify(text string) (id ID, payload string, ok bool) {
	line := strings.TrimSpace(text)
	for i := range c.prefixes {
		for _, prefix := range c.prefixes[i] {
			if strings.HasPrefix(line, prefix) {
				return ID(i), Truncate(strings.TrimSpace(line[len(prefix):]), c.maxLength), true
			}
		}
	}
	id, rest, matched := c.command(line)
	if !matched || rest == "" {
		return 0, "", false
	}
	return id, Truncate(rest, c.maxLength), true
}

// EmptyCommand reports whether text is a bare slot command with no payload,
// which callers answer with a usage hint instead of storing.
func (c *Classifier) EmptyCommand(text string) (ID, string, bool) {
	line := strings.TrimSpace(text)
	for i := range c.prefixes {
		for _, prefix := range c.prefixes[i] {
			if strings.HasPrefix(line, prefix) {
				return 0, "", false
			}
		}
	}
	id, rest, matched := c.command(line)
	if !matched || rest != "" {
		return 0, "", false
	}
	return id, line, true
}

// command matches line against the registered commands and returns the
// trimmed remainder.
func (c *Classifier) command(line string) (ID, string, bool) {
	for i := range c.commands {
		for _, name := range c.commands[i] {
			if !strings.HasPrefix(line, name) {
				continue
			}
			rest := line[len(name):]
			if rest != "" {
				r, _ := utf8.DecodeRuneInString(rest)
				if !unicode.IsSpace(r) {
					continue
				}
			}
			return ID(i), strings.TrimSpace(rest), true
		}
	}
	return 0, "", false
}

// Truncate shortens s to at most n characters, never splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
