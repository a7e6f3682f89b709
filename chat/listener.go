package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/globalworming/low-tech-ai-pocs/relay"
)

// TokenFunc returns the bot's current OAuth token.
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken returns a TokenFunc that always yields tok.
func StaticToken(tok string) TokenFunc {
	return func(context.Context) (string, error) { return tok, nil }
}

// ircClient is the part of *twitch.Client the listener drives.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// Listener feeds chat lines from Twitch into Handle.
type Listener struct {
	Channels []string
	Username string
	Token    TokenFunc
	Handle   func(relay.ChatEvent) bool

	// ReconnectDelay is the pause after a dropped connection. Default 5s.
	ReconnectDelay time.Duration

	newClient func(username, oauth string) ircClient

	mu     sync.Mutex
	client ircClient // current session, nil while disconnected
}

// NewListener builds a listener for the given channels.
func NewListener(channels []string, username string, token TokenFunc, handle func(relay.ChatEvent) bool) *Listener {
	return &Listener{Channels: channels, Username: username, Token: token, Handle: handle}
}

// EventFromMessage converts an IRC PRIVMSG into a relay event. The author is
// the chatter's login name, which is stable across display-name changes.
func EventFromMessage(msg twitch.PrivateMessage) relay.ChatEvent {
	author := msg.User.Name
	if author == "" {
		author = strings.ToLower(msg.User.DisplayName)
	}
	return relay.ChatEvent{Channel: msg.Channel, Author: author, Text: msg.Message}
}

// Run connects and blocks until ctx is canceled, reconnecting after errors.
func (l *Listener) Run(ctx context.Context) {
	if len(l.Channels) == 0 || l.Username == "" || l.Token == nil || l.Handle == nil {
		slog.Info("twitch creds not set; skipping chat listener", slog.String("component", "chat"))
		return
	}
	delay := l.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	newClient := l.newClient
	if newClient == nil {
		newClient = func(u, o string) ircClient { return twitch.NewClient(u, o) }
	}

	for ctx.Err() == nil {
		if err := l.session(ctx, newClient); err != nil && ctx.Err() == nil {
			slog.Error("twitch chat connect error", slog.String("component", "chat"), slog.Any("err", err), slog.Duration("retry_in", delay))
		}
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
}

func (l *Listener) session(ctx context.Context, newClient func(string, string) ircClient) error {
	tok, err := l.Token(ctx)
	if err != nil {
		return err
	}
	if tok == "" {
		return errors.New("empty twitch oauth token")
	}
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}

	client := newClient(l.Username, tok)
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("component", "chat"), slog.Any("channels", l.Channels))
	})
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		l.Handle(EventFromMessage(msg))
	})

	// Disconnect the client when ctx ends so Connect returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()

	l.setClient(client)
	defer l.setClient(nil)

	client.Join(l.Channels...)
	err = client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}

// Say sends text to channel on the current connection. It reports false when
// the listener is not connected.
func (l *Listener) Say(channel, text string) bool {
	l.mu.Lock()
	c := l.client
	l.mu.Unlock()
	if c == nil {
		return false
	}
	c.Say(strings.TrimPrefix(channel, "#"), text)
	return true
}

func (l *Listener) setClient(c ircClient) {
	l.mu.Lock()
	l.client = c
	l.mu.Unlock()
}
