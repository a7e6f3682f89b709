// Command low-tech-ai-pocs runs the chat slot relay.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the token store (Postgres or SQLite) and seeds it from env.
//   - Listens to Twitch chat and buffers the latest P1:/P2: line (or !p1/!p2
//     command) per chatter; the channel owner's "game X vs Y" starts a new match.
//   - Flushes the buffer to CLOUD_FUNCTION_URL once per FLUSH_INTERVAL,
//     clearing delivered entries only after a 2xx response.
//   - Refreshes the stored bot token in the background.
//   - Exposes /healthz, /readyz, /status, /metrics and a /ws live feed.
//
// Shutdown is graceful on SIGINT/SIGTERM; one last flush is attempted.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/globalworming/low-tech-ai-pocs/chat"
	"github.com/globalworming/low-tech-ai-pocs/config"
	"github.com/globalworming/low-tech-ai-pocs/crypto"
	"github.com/globalworming/low-tech-ai-pocs/db"
	"github.com/globalworming/low-tech-ai-pocs/delivery"
	"github.com/globalworming/low-tech-ai-pocs/oauth"
	"github.com/globalworming/low-tech-ai-pocs/relay"
	"github.com/globalworming/low-tech-ai-pocs/server"
	"github.com/globalworming/low-tech-ai-pocs/slots"
	"github.com/globalworming/low-tech-ai-pocs/telemetry"
)

const (
	twitchProvider = "twitch"
	version        = "1.0.0"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateRelayReady(); err != nil {
		slog.Error("relay not configured", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(context.Background(), telemetry.TracingConfig{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Error("failed to shutdown tracer provider", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens, closeTokens := openTokenStore(ctx, cfg)
	defer closeTokens()

	store := slots.NewStore()
	hub := server.NewHub()

	classifier := slots.NewClassifier(cfg.SlotPrefixes[0], cfg.SlotPrefixes[1], cfg.MessageMaxLength)
	_ = classifier.AddCommand(slots.P1, cfg.SlotCommands[0])
	_ = classifier.AddCommand(slots.P2, cfg.SlotCommands[1])
	consumer := relay.NewConsumer(classifier, store)
	consumer.Owner = cfg.ChannelOwner
	consumer.OnUpdate = hub.PublishUpdate
	consumer.OnMatch = hub.PublishMatch

	sched := relay.NewScheduler(store, delivery.NewClient(cfg.CloudFunctionURL, cfg.DeliveryTimeout), cfg.FlushInterval, cfg.DeliveryTimeout)
	sched.OnResult = hub.PublishResult

	var g errgroup.Group
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat listener disabled", slog.Any("err", err))
	} else {
		listener := chat.NewListener(cfg.TwitchChannels, cfg.TwitchBotUsername, botToken(cfg, tokens), consumer.Handle)
		consumer.OnUsage = func(ev relay.ChatEvent, hint string) { listener.Say(ev.Channel, hint) }
		g.Go(func() error {
			listener.Run(ctx)
			return nil
		})
	}

	if tokens != nil && cfg.RefreshEnabled() {
		oauth.StartRefresher(ctx, tokens, twitchProvider, 5*time.Minute, 15*time.Minute,
			oauth.RefreshWith(oauth.TwitchConfig(cfg.TwitchClientID, cfg.TwitchClientSecret)))
	}

	deps := server.Deps{Store: store, Scheduler: sched, Hub: hub}
	if tokens != nil {
		deps.Tokens = tokens
	}
	// An HTTP failure is logged but does not stop the relay.
	g.Go(func() error {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
		return nil
	})

	// Blocks until shutdown; performs the final flush.
	sched.Run(ctx)
	slog.Info("final flush done, waiting for http server and chat listener")
	_ = g.Wait()
	slog.Info("shutdown complete")
}

// initLogging configures slog from LOG_LEVEL and LOG_FORMAT.
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openTokenStore opens and migrates the token database and seeds it from
// TWITCH_OAUTH_TOKEN. The relay still runs without it, using the env token.
func openTokenStore(ctx context.Context, cfg *config.Config) (*db.TokenStore, func()) {
	var sealer *crypto.Sealer
	if cfg.EncryptionKey != "" {
		s, err := crypto.NewSealer(cfg.EncryptionKey)
		if err != nil {
			slog.Error("encryption initialization failed", slog.Any("err", err), slog.String("component", "db"))
			os.Exit(1)
		}
		sealer = s
	}

	sqlDB, dialect, err := db.Open(cfg.DBDsn)
	if err != nil {
		slog.Warn("token store unavailable", slog.Any("err", err), slog.String("component", "db"))
		return nil, func() {}
	}
	closeFn := func() {
		if err := sqlDB.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
	tokens := db.NewTokenStore(sqlDB, dialect, sealer)
	mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := tokens.Migrate(mctx); err != nil {
		slog.Warn("token store migration failed", slog.Any("err", err), slog.String("component", "db"))
		closeFn()
		return nil, func() {}
	}
	slog.Info("token store ready", slog.String("dialect", string(dialect)), slog.String("component", "db"))

	if envTok := strings.TrimPrefix(cfg.TwitchOAuthToken, "oauth:"); envTok != "" {
		// Refreshable rows are owned by the refresher; only seed or replace env-managed ones.
		cur, err := tokens.Get(mctx, twitchProvider)
		if errors.Is(err, db.ErrNoToken) || (err == nil && cur.RefreshToken == "" && cur.AccessToken != envTok) {
			seed := db.Token{Provider: twitchProvider, AccessToken: envTok, Scope: "chat:read chat:edit"}
			if err := tokens.Upsert(mctx, seed); err != nil {
				slog.Warn("failed to seed twitch token", slog.Any("err", err), slog.String("component", "db"))
			}
		}
	}
	return tokens, closeFn
}

// botToken prefers the stored (refreshable) token and falls back to env.
func botToken(cfg *config.Config, tokens *db.TokenStore) chat.TokenFunc {
	if tokens == nil {
		return chat.StaticToken(cfg.TwitchOAuthToken)
	}
	return func(ctx context.Context) (string, error) {
		tok, err := tokens.Get(ctx, twitchProvider)
		if err == nil && tok.AccessToken != "" {
			return tok.AccessToken, nil
		}
		if cfg.TwitchOAuthToken != "" {
			return cfg.TwitchOAuthToken, nil
		}
		if err == nil {
			err = errors.New("stored twitch token is empty")
		}
		return "", err
	}
}
