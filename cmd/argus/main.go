// Argus is a Telegram bot that looks up public records and downloads media
// for a closed circle of registered users.
//
// Every paid command costs credits; new users request access with /register
// and start with a small grant once approved. Administrators manage accounts,
// credits and maintenance mode directly from the chat.
//
// # Configuration
//
// Argus is configured entirely through environment variables:
//
//   - TELEGRAM_TOKEN (required): Telegram Bot API token.
//   - ADMIN_ID (required): Telegram user ID of the bootstrap administrator.
//   - LOOKUP_API_URL: base URL of the record lookup service.
//   - LOOKUP_API_KEY: access key for the lookup service.
//   - MEDIA_API_URL: base URL of the media download service.
//   - REQUIRED_CHANNEL: channel (e.g. "@argus_updates") users must join
//     before using the bot.
//   - REGISTRATION_POLICY: "admin" (default) queues registrations for manual
//     confirmation, "channel" auto-approves members of REQUIRED_CHANNEL.
//   - DATABASE_URL: PostgreSQL connection string for account storage.
//   - SQLITE_PATH: path to a SQLite database for account storage.
//   - ADDR: host:port for the operational HTTP server (also -addr flag).
//
// If neither DATABASE_URL nor SQLITE_PATH is set, accounts live in process
// memory and a restart resets all balances and approvals.
//
// # Operational endpoints
//
// A small HTTP server exposes /health and /debug/log for monitoring.
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.salikov.me/argus/internal/account"
	"go.salikov.me/argus/internal/api/lookup"
	"go.salikov.me/argus/internal/api/media"
	"go.salikov.me/argus/internal/bot"
	"go.salikov.me/argus/internal/cli"
	"go.salikov.me/argus/internal/logger"
	"go.salikov.me/argus/internal/register"
	"go.salikov.me/argus/internal/tg"
	"go.salikov.me/argus/internal/web"
)

func main() { cli.Main(new(engine)) }

// pollTimeout is the long-polling timeout of getUpdates.
const pollTimeout = 30 * time.Second

// retryDelay is how long the polling loop waits after a transient error.
const retryDelay = 5 * time.Second

type engine struct {
	addr string
}

func (e *engine) Flags(fs *flag.FlagSet) {
	fs.StringVar(&e.addr, "addr", "", "Listen on `host:port` for the operational server.")
}

func (e *engine) Run(ctx context.Context, env *cli.Env) error {
	token := env.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return fmt.Errorf("%w: TELEGRAM_TOKEN is not set", cli.ErrInvalidArgs)
	}
	adminEnv := env.Getenv("ADMIN_ID")
	if adminEnv == "" {
		return fmt.Errorf("%w: ADMIN_ID is not set", cli.ErrInvalidArgs)
	}
	adminID, err := strconv.ParseInt(adminEnv, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: ADMIN_ID must be a Telegram user ID: %v", cli.ErrInvalidArgs, err)
	}

	if e.addr == "" {
		e.addr = cmp.Or(env.Getenv("ADDR"), "localhost:3000")
	}

	apiKey := env.Getenv("LOOKUP_API_KEY")
	scrubPairs := []string{token, "[EXPOSED TELEGRAM BOT TOKEN]"}
	if apiKey != "" {
		scrubPairs = append(scrubPairs, apiKey, "[EXPOSED LOOKUP API KEY]")
	}
	scrubber := strings.NewReplacer(scrubPairs...)

	logBuf := logger.NewBuffer(300)
	log := slog.New(slog.NewTextHandler(io.MultiWriter(env.Stderr, logBuf), nil))

	store, err := openStore(ctx, env)
	if err != nil {
		return err
	}
	accounts := account.NewService(store)
	defer accounts.Close()

	// The bootstrap admin always exists, is approved and never runs out of
	// credits.
	adminKey := strconv.FormatInt(adminID, 10)
	if _, err := accounts.GetOrCreate(ctx, adminKey, "", ""); err != nil {
		return err
	}
	if _, err := accounts.Update(ctx, adminKey, func(a *account.Account) error {
		a.Approved = true
		a.Admin = true
		a.Premium = true
		return nil
	}); err != nil {
		return err
	}

	tgc := &tg.Client{Token: token, Scrubber: scrubber}
	lookupc := &lookup.Client{
		BaseURL:  strings.TrimSuffix(env.Getenv("LOOKUP_API_URL"), "/"),
		APIKey:   apiKey,
		Scrubber: scrubber,
	}
	mediac := &media.Client{
		BaseURL:  strings.TrimSuffix(env.Getenv("MEDIA_API_URL"), "/"),
		Scrubber: scrubber,
	}

	channel := env.Getenv("REQUIRED_CHANNEL")
	policy, err := registrationPolicy(env.Getenv("REGISTRATION_POLICY"), channel, tgc)
	if err != nil {
		return err
	}

	b := bot.New(bot.Opts{
		Accounts: accounts,
		Registry: register.New(accounts, policy),
		Telegram: tgc,
		Lookup:   lookupc,
		Media:    mediac,
		AdminID:  adminID,
		Channel:  channel,
		Logger:   log,
	})

	mux := http.NewServeMux()
	web.Health(mux)
	mux.Handle("/debug/log", logBuf)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- web.ListenAndServe(ctx, &web.ListenAndServeConfig{
			Addr: e.addr,
			Mux:  mux,
			Logf: env.Logf,
		})
	}()

	if err := tgc.DeleteWebhook(ctx); err != nil {
		log.Warn("deleting webhook failed", "err", err)
	}

	log.Info("started", "addr", e.addr, "admin", adminID)

	var offset int64
	for {
		select {
		case err := <-srvErr:
			return err
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := tgc.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if tg.IsConflict(err) {
				return fmt.Errorf("another instance is polling with this token: %v", err)
			}
			log.Error("getting updates failed", "err", err)
			time.Sleep(retryDelay)
			continue
		}

		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			// Updates are handled one at a time: the account service
			// serializes balance changes, and strict ordering keeps replies
			// in the order commands arrived.
			b.HandleUpdate(ctx, u)
		}
	}
}

func openStore(ctx context.Context, env *cli.Env) (account.Store, error) {
	if dbURL := env.Getenv("DATABASE_URL"); dbURL != "" {
		return account.NewPostgresStore(ctx, dbURL)
	}
	if path := env.Getenv("SQLITE_PATH"); path != "" {
		return account.NewSQLiteStore(ctx, path)
	}
	return account.NewMemStore(), nil
}

func registrationPolicy(name, channel string, tgc *tg.Client) (register.Policy, error) {
	switch name {
	case "", "admin":
		return register.AdminApproval{}, nil
	case "channel":
		if channel == "" {
			return nil, fmt.Errorf("%w: REGISTRATION_POLICY=channel requires REQUIRED_CHANNEL", cli.ErrInvalidArgs)
		}
		return register.ChannelGate{
			Check: func(ctx context.Context, id string) (bool, error) {
				userID, err := strconv.ParseInt(id, 10, 64)
				if err != nil {
					return false, err
				}
				member, err := tgc.GetChatMember(ctx, channel, userID)
				if err != nil {
					return false, err
				}
				return member.IsMember(), nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown REGISTRATION_POLICY %q", cli.ErrInvalidArgs, name)
	}
}
