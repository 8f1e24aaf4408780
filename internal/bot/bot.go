// Package bot implements the core logic of the Argus bot.
//
// It is responsible for dispatching incoming commands to lookup and download
// collaborators, guarding every dispatch with the admission gate (membership,
// maintenance, approval and credit checks) and exposing the admin control
// surface.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"go.salikov.me/argus/internal/account"
	"go.salikov.me/argus/internal/api/lookup"
	"go.salikov.me/argus/internal/api/media"
	"go.salikov.me/argus/internal/register"
	"go.salikov.me/argus/internal/tg"
	"go.salikov.me/argus/internal/util/set"
	"go.salikov.me/argus/internal/util/syncx"
)

const defaultMaintenanceMessage = "The bot is undergoing maintenance. Please try again later."

// Opts is the options for creating a new Bot.
type Opts struct {
	// Accounts is the account service.
	Accounts *account.Service
	// Registry is the registration pipeline.
	Registry *register.Pipeline
	// Telegram is the Bot API client.
	Telegram *tg.Client
	// Lookup is the OSINT lookup collaborator.
	Lookup *lookup.Client
	// Media is the media download collaborator.
	Media *media.Client
	// AdminID is the Telegram ID of the bootstrap admin.
	AdminID int64
	// Channel, if set, is the channel users must join before using the bot
	// (e.g. "@argus_updates").
	Channel string
	// Logger is used for structured logging of the bot core.
	Logger *slog.Logger
	// Sleep replaces time.Sleep; used in tests.
	Sleep func(time.Duration)
	// RandIntN replaces rand.IntN; used in tests.
	RandIntN func(n int) int
}

// Bot handles incoming Telegram updates.
type Bot struct {
	accounts *account.Service
	reg      *register.Pipeline
	tgc      *tg.Client
	lookupc  *lookup.Client
	mediac   *media.Client
	adminID  int64
	channel  string
	slog     *slog.Logger
	sleep    func(time.Duration)
	randIntN func(n int) int

	// verified holds identities known to currently satisfy the channel
	// membership precondition. Not persisted; rechecked opportunistically.
	verified *syncx.Protected[set.Set[string]]
	process  *syncx.Protected[*processState]

	commands map[string]*command
}

// processState is the process-lifetime global state mutated only by the admin
// control surface.
type processState struct {
	maintenance bool
	message     string
}

// New creates a new Bot instance.
func New(opts Opts) *Bot {
	b := &Bot{
		accounts: opts.Accounts,
		reg:      opts.Registry,
		tgc:      opts.Telegram,
		lookupc:  opts.Lookup,
		mediac:   opts.Media,
		adminID:  opts.AdminID,
		channel:  opts.Channel,
		slog:     opts.Logger,
		sleep:    opts.Sleep,
		randIntN: opts.RandIntN,
		verified: syncx.Protect(set.New[string](16)),
		process:  syncx.Protect(&processState{message: defaultMaintenanceMessage}),
	}
	if b.slog == nil {
		b.slog = slog.Default()
	}
	if b.sleep == nil {
		b.sleep = time.Sleep
	}
	if b.randIntN == nil {
		b.randIntN = rand.IntN
	}
	b.initCommands()
	return b
}

// Maintenance reports the current maintenance state and message.
func (b *Bot) Maintenance() (on bool, message string) {
	b.process.RAccess(func(s *processState) {
		on, message = s.maintenance, s.message
	})
	return on, message
}

// HandleUpdate processes a single incoming update. Any fault is contained
// within this call: nothing propagates to the polling loop.
func (b *Bot) HandleUpdate(ctx context.Context, u tg.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil && !u.Message.From.IsBot:
		b.handleMessage(ctx, u.Message)
	}
}

func identity(userID int64) string { return strconv.FormatInt(userID, 10) }

func chatIDOf(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func displayName(u *tg.User) string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}

func (b *Bot) handleMessage(ctx context.Context, msg *tg.Message) {
	if !strings.HasPrefix(msg.Text, "/") {
		return
	}
	name, arg := splitCommand(msg.Text)
	cmd, ok := b.commands[name]
	if !ok {
		b.reply(ctx, msg.Chat.ID, "Unknown command. Send /help for the list of available commands.", nil)
		return
	}

	id := identity(msg.From.ID)
	acct, err := b.accounts.GetOrCreate(ctx, id, displayName(msg.From), msg.From.Username)
	if err != nil {
		b.slog.Error("account lookup failed", "id", id, "err", err)
		b.reply(ctx, msg.Chat.ID, genericErrorMessage, nil)
		return
	}

	inv := &invocation{
		acct:   acct,
		userID: msg.From.ID,
		chatID: msg.Chat.ID,
		arg:    arg,
	}

	if blocked := b.admit(ctx, cmd, inv); blocked {
		return
	}
	b.execute(ctx, cmd, inv)
}

// splitCommand splits "/cmd@bot arg" into the bare command name and its
// argument.
func splitCommand(text string) (name, arg string) {
	name, arg, _ = strings.Cut(text, " ")
	name = strings.TrimPrefix(name, "/")
	if i := strings.Index(name, "@"); i != -1 {
		name = name[:i]
	}
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// admit runs the admission gate in its fixed order. It returns true if the
// command was blocked; the terminal reply has already been sent and no state
// beyond the gate's own checks has been mutated.
func (b *Bot) admit(ctx context.Context, cmd *command, inv *invocation) (blocked bool) {
	// Admins bypass every check.
	if inv.acct.Admin {
		return false
	}

	if cmd.adminOnly {
		b.reply(ctx, inv.chatID, "This command is for administrators only.", nil)
		return true
	}

	if b.channel != "" && !cmd.gateExempt {
		if !b.checkMembership(ctx, inv.userID) {
			b.reply(ctx, inv.chatID, b.joinPrompt(), recheckKeyboard())
			return true
		}
	}

	if on, message := b.Maintenance(); on {
		b.reply(ctx, inv.chatID, message, nil)
		return true
	}

	if cmd.requiresApproval && !inv.acct.Approved {
		b.reply(ctx, inv.chatID, "You are not registered yet. Send /register to request access.", nil)
		return true
	}

	return false
}

// execute runs a command through the single paid-tool executor: argument
// validation, debit, handler, then ledger and counter adjustment based on the
// outcome.
func (b *Bot) execute(ctx context.Context, cmd *command, inv *invocation) {
	// Missing arguments must never consume a credit, so validate before any
	// debit attempt.
	if cmd.usage != "" && inv.arg == "" {
		b.reply(ctx, inv.chatID, "Usage: "+cmd.usage, nil)
		return
	}

	var debited bool
	if cmd.cost > 0 {
		ok, err := b.accounts.TryDebit(ctx, inv.acct.ID, cmd.cost)
		if err != nil {
			b.slog.Error("debit failed", "id", inv.acct.ID, "command", cmd.name, "err", err)
			b.reply(ctx, inv.chatID, genericErrorMessage, nil)
			return
		}
		if !ok {
			b.reply(ctx, inv.chatID, fmt.Sprintf(
				"You don't have enough credits (balance: %d). Ask an administrator for a top-up.",
				inv.acct.Credits), nil)
			return
		}
		debited = true
	}

	out, err := b.invoke(ctx, cmd, inv)

	switch {
	case err != nil:
		// Hard failure: refund, log the full error, show a generic apology.
		if debited {
			b.refund(ctx, inv.acct.ID, cmd.cost)
		}
		b.slog.Error("command failed", "command", cmd.name, "id", inv.acct.ID, "err", err)
		b.reply(ctx, inv.chatID, genericErrorMessage, nil)
	case !out.ok:
		// Soft failure: the collaborator returned nothing usable.
		if debited {
			b.refund(ctx, inv.acct.ID, cmd.cost)
		}
		reply := out.reply
		if debited {
			reply += "\n\nYour credit has been refunded."
		}
		b.reply(ctx, inv.chatID, reply, nil)
	default:
		if cmd.cost > 0 {
			if err := b.accounts.RecordQuery(ctx, inv.acct.ID); err != nil {
				b.slog.Warn("recording query failed", "id", inv.acct.ID, "err", err)
			}
		}
		if out.reply != "" {
			b.reply(ctx, inv.chatID, out.reply, out.keyboard)
		}
	}
}

// invoke calls the command handler, converting a panic into an error so a
// fault in one user's request never crashes the process.
func (b *Bot) invoke(ctx context.Context, cmd *command, inv *invocation) (out *outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return cmd.handler(ctx, inv)
}

func (b *Bot) refund(ctx context.Context, id string, amount int64) {
	if err := b.accounts.Refund(ctx, id, amount); err != nil {
		b.slog.Error("refund failed", "id", id, "amount", amount, "err", err)
	}
}

const genericErrorMessage = "Something went wrong. Please try again later."

// reply sends a Markdown-formatted message, falling back to plain text when
// Telegram rejects the markup, so the content is never lost.
func (b *Bot) reply(ctx context.Context, chatID int64, text string, keyboard *tg.InlineKeyboardMarkup) {
	m := &tg.OutgoingMessage{
		ChatID:             chatID,
		Text:               text,
		ParseMode:          "Markdown",
		LinkPreviewOptions: &tg.LinkPreviewOptions{IsDisabled: true},
		ReplyMarkup:        keyboard,
	}
	_, err := b.tgc.SendMessage(ctx, m)
	if err != nil && tg.IsParseError(err) {
		m.ParseMode = ""
		_, err = b.tgc.SendMessage(ctx, m)
	}
	if err != nil {
		b.slog.Warn("sending reply failed", "chat_id", chatID, "err", err)
	}
}

// notify sends a plain notification to the given identity. Failures are
// returned for tallying but never abort the caller's batch.
func (b *Bot) notify(ctx context.Context, id, text string) error {
	chatID := chatIDOf(id)
	if chatID == 0 {
		return fmt.Errorf("notify %q: bad identity", id)
	}
	_, err := b.tgc.SendMessage(ctx, &tg.OutgoingMessage{ChatID: chatID, Text: text})
	return err
}

// notifyQuietly notifies the identity about a change to their account,
// logging a delivery failure instead of raising it: an unreachable target
// never fails the admin operation that mutated the account.
func (b *Bot) notifyQuietly(ctx context.Context, id, text string) {
	if err := b.notify(ctx, id, text); err != nil {
		b.slog.Warn("notifying user failed", "id", id, "err", err)
	}
}

// checkMembership verifies the channel membership precondition for userID,
// maintaining the verification marker set.
func (b *Bot) checkMembership(ctx context.Context, userID int64) bool {
	id := identity(userID)

	var known bool
	b.verified.RAccess(func(s set.Set[string]) { known = s.Has(id) })
	if known {
		return true
	}

	member, err := b.tgc.GetChatMember(ctx, b.channel, userID)
	if err != nil {
		b.slog.Warn("membership check failed", "id", id, "err", err)
		return false
	}
	ok := member.IsMember()
	b.verified.Access(func(s set.Set[string]) {
		if ok {
			s.Add(id)
		} else {
			s.Del(id)
		}
	})
	return ok
}

// recheckMembership forces a fresh check, dropping a stale marker if the user
// has left the channel.
func (b *Bot) recheckMembership(ctx context.Context, userID int64) bool {
	id := identity(userID)
	b.verified.Access(func(s set.Set[string]) { s.Del(id) })
	return b.checkMembership(ctx, userID)
}

func (b *Bot) joinPrompt() string {
	return fmt.Sprintf("To use this bot, join %s first, then tap the button below.", b.channel)
}

func recheckKeyboard() *tg.InlineKeyboardMarkup {
	return &tg.InlineKeyboardMarkup{
		InlineKeyboard: [][]tg.InlineKeyboardButton{{
			{Text: "I joined, check again", CallbackData: "recheck"},
		}},
	}
}
