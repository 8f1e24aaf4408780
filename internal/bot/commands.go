package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.salikov.me/argus/internal/account"
	"go.salikov.me/argus/internal/api/lookup"
	"go.salikov.me/argus/internal/api/media"
	"go.salikov.me/argus/internal/register"
	"go.salikov.me/argus/internal/tg"
)

// toolCost is the price of a single paid tool invocation.
const toolCost = 1

// command is one entry of the dispatch table.
type command struct {
	name string
	// help is a short description shown by /help.
	help string
	// usage, if non-empty, is shown when the required argument is missing;
	// commands with empty usage take no argument.
	usage string
	// adminOnly restricts the command to the admin control surface.
	adminOnly bool
	// requiresApproval restricts the command to approved accounts.
	requiresApproval bool
	// gateExempt excludes the command from the channel membership gate.
	gateExempt bool
	// cost is how many credits a successful invocation consumes.
	cost    int64
	handler func(ctx context.Context, inv *invocation) (*outcome, error)
}

// invocation carries one admitted command through the executor.
type invocation struct {
	acct   *account.Account
	userID int64
	chatID int64
	arg    string
}

// outcome is what a handler produced: a successful payload or a soft failure
// that warrants a refund.
type outcome struct {
	ok       bool
	reply    string
	keyboard *tg.InlineKeyboardMarkup
}

func success(reply string) *outcome { return &outcome{ok: true, reply: reply} }

func softFailure(reason string) *outcome { return &outcome{reply: reason} }

func (b *Bot) initCommands() {
	b.commands = make(map[string]*command)

	add := func(c *command) { b.commands[c.name] = c }

	add(&command{
		name:       "start",
		help:       "Introduction and basic usage.",
		gateExempt: true,
		handler:    b.cmdStart,
	})
	add(&command{
		name:    "help",
		help:    "List available commands.",
		handler: b.cmdHelp,
	})
	add(&command{
		name:    "register",
		help:    "Request access to the bot.",
		handler: b.cmdRegister,
	})
	add(&command{
		name:             "me",
		help:             "Show your account and balance.",
		requiresApproval: true,
		handler:          b.cmdMe,
	})
	add(&command{
		name:       "check",
		help:       "Re-check the channel membership requirement.",
		gateExempt: true,
		handler:    b.cmdCheck,
	})

	lookups := []struct{ name, noun, usage, help string }{
		{"phone", "phone number", "/phone <number>", "Look up a phone number."},
		{"email", "email address", "/email <address>", "Look up an email address."},
		{"ip", "IP address", "/ip <address>", "Look up an IP address."},
		{"domain", "domain", "/domain <name>", "Look up a domain."},
		{"username", "username", "/username <handle>", "Search a username across platforms."},
		{"vehicle", "vehicle registration", "/vehicle <plate>", "Look up a vehicle registration."},
		{"pincode", "postal code", "/pincode <code>", "Look up a postal code."},
		{"breach", "breach", "/breach <email>", "Check an email against known breaches."},
	}
	for _, l := range lookups {
		add(&command{
			name:             l.name,
			help:             l.help,
			usage:            l.usage,
			requiresApproval: true,
			cost:             toolCost,
			handler:          b.lookupHandler(l.name, l.noun),
		})
	}

	downloads := []struct{ name, platform, usage, help string }{
		{"insta", "instagram", "/insta <url>", "Download Instagram media."},
		{"tiktok", "tiktok", "/tiktok <url>", "Download a TikTok video."},
	}
	for _, d := range downloads {
		add(&command{
			name:             d.name,
			help:             d.help,
			usage:            d.usage,
			requiresApproval: true,
			cost:             toolCost,
			handler:          b.downloadHandler(d.platform),
		})
	}

	b.initAdminCommands(add)
}

func (b *Bot) cmdStart(ctx context.Context, inv *invocation) (*outcome, error) {
	return success("Hi! I look up public records and download media for approved users.\n\n" +
		"Send /register to request access, or /help for the full command list."), nil
}

func (b *Bot) cmdHelp(ctx context.Context, inv *invocation) (*outcome, error) {
	names := make([]string, 0, len(b.commands))
	for name, cmd := range b.commands {
		if cmd.adminOnly && !inv.acct.Admin {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, name := range names {
		cmd := b.commands[name]
		fmt.Fprintf(&sb, "/%s — %s", name, cmd.help)
		if cmd.cost > 0 {
			fmt.Fprintf(&sb, " (%d credit)", cmd.cost)
		}
		sb.WriteString("\n")
	}
	return success(sb.String()), nil
}

func (b *Bot) cmdRegister(ctx context.Context, inv *invocation) (*outcome, error) {
	status, err := b.reg.Submit(ctx, register.Request{
		ID:          inv.acct.ID,
		DisplayName: inv.acct.DisplayName,
		Handle:      inv.acct.Handle,
	})
	if err != nil {
		return nil, err
	}

	switch status {
	case register.StatusAlreadyApproved:
		return success("You are already approved."), nil
	case register.StatusAlreadyPending:
		return success("Your registration request is already pending. Hang tight."), nil
	case register.StatusApproved:
		return success(fmt.Sprintf(
			"Welcome aboard! Your account is approved and you start with %d credits.",
			register.StartingCredits)), nil
	case register.StatusDenied:
		return success(b.joinPrompt()), nil
	}

	// Queued for admin confirmation.
	b.notifyAdminOfRequest(ctx, inv)
	return success("Your registration request has been submitted. You'll be notified once it's reviewed."), nil
}

func (b *Bot) notifyAdminOfRequest(ctx context.Context, inv *invocation) {
	who := inv.acct.DisplayName
	if inv.acct.Handle != "" {
		who += " (@" + inv.acct.Handle + ")"
	}
	m := &tg.OutgoingMessage{
		ChatID: b.adminID,
		Text:   fmt.Sprintf("Registration request from %s, id %s.", who, inv.acct.ID),
		ReplyMarkup: &tg.InlineKeyboardMarkup{
			InlineKeyboard: [][]tg.InlineKeyboardButton{{
				{Text: "Approve", CallbackData: "reg:approve:" + inv.acct.ID},
				{Text: "Reject", CallbackData: "reg:deny:" + inv.acct.ID},
			}},
		},
	}
	if _, err := b.tgc.SendMessage(ctx, m); err != nil {
		b.slog.Warn("notifying admin about registration failed", "id", inv.acct.ID, "err", err)
	}
}

func (b *Bot) cmdMe(ctx context.Context, inv *invocation) (*outcome, error) {
	a := inv.acct
	credits := fmt.Sprintf("%d", a.Credits)
	if a.Premium {
		credits = "unlimited (premium)"
	}
	return success(fmt.Sprintf(
		"Your account:\n• id: %s\n• credits: %s\n• queries: %d\n• member since: %s",
		a.ID, credits, a.TotalQueries, a.CreatedAt.Format("2006-01-02"))), nil
}

func (b *Bot) cmdCheck(ctx context.Context, inv *invocation) (*outcome, error) {
	if b.channel == "" {
		return success("No channel membership is required."), nil
	}
	if b.recheckMembership(ctx, inv.userID) {
		return success("You're all set. Send /help to get started."), nil
	}
	return &outcome{ok: true, reply: b.joinPrompt(), keyboard: recheckKeyboard()}, nil
}

// lookupHandler returns the handler for a single lookup tool kind.
func (b *Bot) lookupHandler(kind, noun string) func(context.Context, *invocation) (*outcome, error) {
	return func(ctx context.Context, inv *invocation) (*outcome, error) {
		raw, err := b.lookupc.Lookup(ctx, kind, inv.arg)
		if errors.Is(err, lookup.ErrNoResult) {
			return softFailure(fmt.Sprintf("No %s records found for %q.", noun, inv.arg)), nil
		}
		if err != nil {
			return nil, err
		}
		return success(jsonBlock(raw)), nil
	}
}

// jsonBlock formats a payload as a fenced JSON block.
func jsonBlock(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	return "```json\n" + buf.String() + "\n```"
}

// mediaSendDelay spaces out multi-item sends to stay under the Bot API
// outbound rate limit.
const mediaSendDelay = 500 * time.Millisecond

// downloadHandler returns the handler for a media download tool.
func (b *Bot) downloadHandler(platform string) func(context.Context, *invocation) (*outcome, error) {
	return func(ctx context.Context, inv *invocation) (*outcome, error) {
		items, err := b.mediac.Resolve(ctx, platform, inv.arg)
		if errors.Is(err, media.ErrNoMedia) {
			return softFailure("Couldn't find any downloadable media at that link."), nil
		}
		if err != nil {
			return nil, err
		}

		for i, item := range items {
			if i > 0 {
				b.sleep(mediaSendDelay)
			}
			if b.mediac.ShouldInline(ctx, item.URL) {
				if err := b.tgc.SendVideo(ctx, inv.chatID, item.URL, item.Title); err == nil {
					continue
				} else {
					b.slog.Warn("inline send failed, falling back to link", "url", item.URL, "err", err)
				}
			}
			b.reply(ctx, inv.chatID, item.URL, nil)
		}
		// Items were already delivered above; nothing more to say.
		return success(""), nil
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tg.CallbackQuery) {
	id := identity(cq.From.ID)
	acct, err := b.accounts.GetOrCreate(ctx, id, displayName(&cq.From), cq.From.Username)
	if err != nil {
		b.slog.Error("account lookup failed", "id", id, "err", err)
		return
	}

	answer := func(text string) {
		if err := b.tgc.AnswerCallbackQuery(ctx, cq.ID, text); err != nil {
			b.slog.Warn("answering callback failed", "err", err)
		}
	}

	switch {
	case cq.Data == "recheck":
		if b.channel == "" || b.recheckMembership(ctx, cq.From.ID) {
			answer("You're all set!")
			if cq.Message != nil {
				b.editBestEffort(ctx, cq.Message, "Membership confirmed. Send /help to get started.")
			}
			return
		}
		answer("You haven't joined the channel yet.")

	case strings.HasPrefix(cq.Data, "reg:"):
		if !acct.Admin {
			answer("This button is for administrators only.")
			return
		}
		b.handleRegistrationCallback(ctx, cq, answer)

	default:
		answer("")
	}
}

func (b *Bot) handleRegistrationCallback(ctx context.Context, cq *tg.CallbackQuery, answer func(string)) {
	parts := strings.SplitN(cq.Data, ":", 3)
	if len(parts) != 3 {
		answer("")
		return
	}
	action, target := parts[1], parts[2]

	switch action {
	case "approve":
		a, err := b.reg.Approve(ctx, target)
		if errors.Is(err, register.ErrNotPending) {
			answer("This request was already resolved.")
			return
		}
		if err != nil {
			b.slog.Error("approving registration failed", "id", target, "err", err)
			answer("Approving failed, check the logs.")
			return
		}
		answer("Approved.")
		if cq.Message != nil {
			b.editBestEffort(ctx, cq.Message, fmt.Sprintf("Request from %s approved.", target))
		}
		b.notifyQuietly(ctx, target, fmt.Sprintf(
			"Your registration was approved. You start with %d credits, send /help to get going.", a.Credits))

	case "deny":
		err := b.reg.Reject(ctx, target)
		if errors.Is(err, register.ErrNotPending) {
			answer("This request was already resolved.")
			return
		}
		if err != nil {
			b.slog.Error("rejecting registration failed", "id", target, "err", err)
			answer("Rejecting failed, check the logs.")
			return
		}
		answer("Rejected.")
		if cq.Message != nil {
			b.editBestEffort(ctx, cq.Message, fmt.Sprintf("Request from %s rejected.", target))
		}
		b.notifyQuietly(ctx, target, "Your registration request was declined.")

	default:
		answer("")
	}
}

func (b *Bot) editBestEffort(ctx context.Context, msg *tg.Message, text string) {
	if err := b.tgc.EditMessageText(ctx, msg.Chat.ID, msg.ID, text); err != nil {
		b.slog.Warn("editing message failed", "err", err)
	}
}
