package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"go.salikov.me/argus/internal/account"
	"go.salikov.me/argus/internal/register"
)

func (b *Bot) initAdminCommands(add func(*command)) {
	admin := func(name, help, usage string, handler func(context.Context, *invocation) (*outcome, error)) {
		add(&command{
			name:      name,
			help:      help,
			usage:     usage,
			adminOnly: true,
			handler:   handler,
		})
	}

	admin("approve", "Approve a pending registration.", "/approve <id>", b.cmdApprove)
	admin("reject", "Reject a pending registration.", "/reject <id>", b.cmdReject)
	admin("approveall", "Approve every pending registration.", "", b.cmdApproveAll)
	admin("grant", "Add credits to an account.", "/grant <id> <amount>", b.cmdGrant)
	admin("take", "Remove credits from an account.", "/take <id> <amount>", b.cmdTake)
	admin("setcredits", "Set an account's balance.", "/setcredits <id> <amount>", b.cmdSetCredits)
	admin("premium", "Toggle premium on an account.", "/premium <id>", b.cmdPremium)
	admin("admin", "Toggle admin on an account.", "/admin <id>", b.cmdAdmin)
	admin("inspect", "Show an account's full record.", "/inspect <id>", b.cmdInspect)
	admin("resetuser", "Reset an account's balance and counters.", "/resetuser <id>", b.cmdResetUser)
	admin("grantall", "Add credits to every approved account.", "/grantall <amount>", b.cmdGrantAll)
	admin("takeall", "Remove credits from every approved account.", "/takeall <amount>", b.cmdTakeAll)
	admin("premiumall", "Set premium for every approved account.", "/premiumall on|off", b.cmdPremiumAll)
	admin("lucky", "Grant credits to one random approved account.", "/lucky <amount>", b.cmdLucky)
	admin("broadcast", "Send a message to every approved account.", "/broadcast <text>", b.cmdBroadcast)
	admin("maintenance", "Toggle maintenance mode.", "/maintenance on [message]|off", b.cmdMaintenance)
	admin("stats", "Show aggregate usage statistics.", "", b.cmdStats)
}

// splitTarget splits "<id> <rest>" admin arguments.
func splitTarget(arg string) (id, rest string) {
	id, rest, _ = strings.Cut(arg, " ")
	return id, strings.TrimSpace(rest)
}

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return n, nil
}

const (
	premiumOnNotice  = "Your account is now premium: unlimited queries."
	premiumOffNotice = "Premium was removed from your account."
)

func (b *Bot) cmdApprove(ctx context.Context, inv *invocation) (*outcome, error) {
	target, _ := splitTarget(inv.arg)
	a, err := b.reg.Approve(ctx, target)
	if errors.Is(err, register.ErrNotPending) {
		return success(fmt.Sprintf("No pending request for %s.", target)), nil
	}
	if err != nil {
		return nil, err
	}
	b.notifyQuietly(ctx, target, fmt.Sprintf(
		"Your registration was approved. You start with %d credits, send /help to get going.", a.Credits))
	return success(fmt.Sprintf("Approved %s.", target)), nil
}

func (b *Bot) cmdReject(ctx context.Context, inv *invocation) (*outcome, error) {
	target, _ := splitTarget(inv.arg)
	err := b.reg.Reject(ctx, target)
	if errors.Is(err, register.ErrNotPending) {
		return success(fmt.Sprintf("No pending request for %s.", target)), nil
	}
	if err != nil {
		return nil, err
	}
	b.notifyQuietly(ctx, target, "Your registration request was declined.")
	return success(fmt.Sprintf("Rejected %s.", target)), nil
}

func (b *Bot) cmdApproveAll(ctx context.Context, inv *invocation) (*outcome, error) {
	approved, failed := b.reg.ApproveAll(ctx, func(a *account.Account) {
		b.notifyQuietly(ctx, a.ID, fmt.Sprintf(
			"Your registration was approved. You start with %d credits, send /help to get going.", a.Credits))
	})
	if approved == 0 && failed == 0 {
		return success("No pending requests."), nil
	}
	return success(fmt.Sprintf("Approved %d, failed %d.", approved, failed)), nil
}

func (b *Bot) cmdGrant(ctx context.Context, inv *invocation) (*outcome, error) {
	target, rest := splitTarget(inv.arg)
	amount, err := parseAmount(rest)
	if err != nil {
		return softFailure("Usage: /grant <id> <amount>"), nil
	}
	a, err := b.accounts.Grant(ctx, target, amount)
	if errors.Is(err, account.ErrInvalidAmount) {
		return softFailure("The amount must be positive."), nil
	}
	if errors.Is(err, account.ErrNotFound) {
		return softFailure(fmt.Sprintf("No account %s.", target)), nil
	}
	if err != nil {
		return nil, err
	}
	b.notifyQuietly(ctx, target, fmt.Sprintf(
		"You received %d credits. New balance: %d.", amount, a.Credits))
	return success(fmt.Sprintf("Granted %d credits to %s, balance is now %d.", amount, target, a.Credits)), nil
}

func (b *Bot) cmdTake(ctx context.Context, inv *invocation) (*outcome, error) {
	target, rest := splitTarget(inv.arg)
	amount, err := parseAmount(rest)
	if err != nil {
		return softFailure("Usage: /take <id> <amount>"), nil
	}
	a, err := b.accounts.Take(ctx, target, amount)
	if errors.Is(err, account.ErrInvalidAmount) {
		return softFailure("The amount must be positive."), nil
	}
	if errors.Is(err, account.ErrNotFound) {
		return softFailure(fmt.Sprintf("No account %s.", target)), nil
	}
	if err != nil {
		return nil, err
	}
	b.notifyQuietly(ctx, target, fmt.Sprintf(
		"An administrator removed %d credits. New balance: %d.", amount, a.Credits))
	return success(fmt.Sprintf("Took %d credits from %s, balance is now %d.", amount, target, a.Credits)), nil
}

func (b *Bot) cmdSetCredits(ctx context.Context, inv *invocation) (*outcome, error) {
	target, rest := splitTarget(inv.arg)
	amount, err := parseAmount(rest)
	if err != nil {
		return softFailure("Usage: /setcredits <id> <amount>"), nil
	}
	a, err := b.accounts.SetBalance(ctx, target, amount)
	if errors.Is(err, account.ErrInvalidAmount) {
		return softFailure("The balance can't be negative."), nil
	}
	if errors.Is(err, account.ErrNotFound) {
		return softFailure(fmt.Sprintf("No account %s.", target)), nil
	}
	if err != nil {
		return nil, err
	}
	b.notifyQuietly(ctx, target, fmt.Sprintf("An administrator set your balance to %d.", a.Credits))
	return success(fmt.Sprintf("Balance of %s set to %d.", target, a.Credits)), nil
}

func (b *Bot) cmdPremium(ctx context.Context, inv *invocation) (*outcome, error) {
	target, _ := splitTarget(inv.arg)
	a, err := b.accounts.Update(ctx, target, func(a *account.Account) error {
		a.Premium = !a.Premium
		return nil
	})
	if errors.Is(err, account.ErrNotFound) {
		return softFailure(fmt.Sprintf("No account %s.", target)), nil
	}
	if err != nil {
		return nil, err
	}
	state := "disabled"
	if a.Premium {
		state = "enabled"
		b.notifyQuietly(ctx, target, premiumOnNotice)
	} else {
		b.notifyQuietly(ctx, target, premiumOffNotice)
	}
	return success(fmt.Sprintf("Premium %s for %s.", state, target)), nil
}

func (b *Bot) cmdAdmin(ctx context.Context, inv *invocation) (*outcome, error) {
	target, _ := splitTarget(inv.arg)
	// The bootstrap admin and the invoker can't demote themselves; there must
	// always be someone left holding the keys.
	if target == identity(b.adminID) || target == inv.acct.ID {
		return softFailure("You can't change the admin flag on this account."), nil
	}
	a, err := b.accounts.Update(ctx, target, func(a *account.Account) error {
		a.Admin = !a.Admin
		return nil
	})
	if errors.Is(err, account.ErrNotFound) {
		return softFailure(fmt.Sprintf("No account %s.", target)), nil
	}
	if err != nil {
		return nil, err
	}
	state := "revoked"
	if a.Admin {
		state = "granted"
		b.notifyQuietly(ctx, target, "You were given administrator access.")
	} else {
		b.notifyQuietly(ctx, target, "Your administrator access was revoked.")
	}
	return success(fmt.Sprintf("Admin %s for %s.", state, target)), nil
}

func (b *Bot) cmdInspect(ctx context.Context, inv *invocation) (*outcome, error) {
	target, _ := splitTarget(inv.arg)
	a, err := b.accounts.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return softFailure(fmt.Sprintf("No account %s.", target)), nil
	}
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, err
	}
	return success(jsonBlock(raw)), nil
}

func (b *Bot) cmdResetUser(ctx context.Context, inv *invocation) (*outcome, error) {
	target, _ := splitTarget(inv.arg)
	_, err := b.accounts.Update(ctx, target, func(a *account.Account) error {
		a.Credits = 0
		a.TotalQueries = 0
		a.Premium = false
		return nil
	})
	if errors.Is(err, account.ErrNotFound) {
		return softFailure(fmt.Sprintf("No account %s.", target)), nil
	}
	if err != nil {
		return nil, err
	}
	b.notifyQuietly(ctx, target, "Your account was reset by an administrator: balance, query counter and premium are cleared.")
	return success(fmt.Sprintf("Account %s reset.", target)), nil
}

// forEachApproved applies fn to every approved account, tallying failures
// instead of aborting. The invoking admin is included like everyone else.
func (b *Bot) forEachApproved(ctx context.Context, fn func(a *account.Account) error) (done, failed int, err error) {
	all, err := b.accounts.All(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, a := range all {
		if !a.Approved {
			continue
		}
		if err := fn(a); err != nil {
			b.slog.Warn("bulk operation failed for account", "id", a.ID, "err", err)
			failed++
			continue
		}
		done++
	}
	return done, failed, nil
}

func (b *Bot) cmdGrantAll(ctx context.Context, inv *invocation) (*outcome, error) {
	amount, err := parseAmount(inv.arg)
	if err != nil || amount <= 0 {
		return softFailure("Usage: /grantall <amount>"), nil
	}
	done, failed, err := b.forEachApproved(ctx, func(a *account.Account) error {
		updated, err := b.accounts.Grant(ctx, a.ID, amount)
		if err != nil {
			return err
		}
		b.notifyQuietly(ctx, a.ID, fmt.Sprintf(
			"You received %d credits. New balance: %d.", amount, updated.Credits))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return success(fmt.Sprintf("Granted %d credits to %d accounts (%d failed).", amount, done, failed)), nil
}

func (b *Bot) cmdTakeAll(ctx context.Context, inv *invocation) (*outcome, error) {
	amount, err := parseAmount(inv.arg)
	if err != nil || amount <= 0 {
		return softFailure("Usage: /takeall <amount>"), nil
	}
	done, failed, err := b.forEachApproved(ctx, func(a *account.Account) error {
		updated, err := b.accounts.Take(ctx, a.ID, amount)
		if err != nil {
			return err
		}
		b.notifyQuietly(ctx, a.ID, fmt.Sprintf(
			"An administrator removed %d credits. New balance: %d.", amount, updated.Credits))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return success(fmt.Sprintf("Took %d credits from %d accounts (%d failed).", amount, done, failed)), nil
}

func (b *Bot) cmdPremiumAll(ctx context.Context, inv *invocation) (*outcome, error) {
	var on bool
	switch inv.arg {
	case "on":
		on = true
	case "off":
	default:
		return softFailure("Usage: /premiumall on|off"), nil
	}
	notice := premiumOffNotice
	if on {
		notice = premiumOnNotice
	}
	done, failed, err := b.forEachApproved(ctx, func(a *account.Account) error {
		_, err := b.accounts.Update(ctx, a.ID, func(a *account.Account) error {
			a.Premium = on
			return nil
		})
		if err != nil {
			return err
		}
		b.notifyQuietly(ctx, a.ID, notice)
		return nil
	})
	if err != nil {
		return nil, err
	}
	state := "disabled"
	if on {
		state = "enabled"
	}
	return success(fmt.Sprintf("Premium %s for %d accounts (%d failed).", state, done, failed)), nil
}

func (b *Bot) cmdLucky(ctx context.Context, inv *invocation) (*outcome, error) {
	amount, err := parseAmount(inv.arg)
	if err != nil || amount <= 0 {
		return softFailure("Usage: /lucky <amount>"), nil
	}
	all, err := b.accounts.All(ctx)
	if err != nil {
		return nil, err
	}
	var eligible []*account.Account
	for _, a := range all {
		if a.Approved {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return softFailure("No eligible accounts."), nil
	}
	// Stores return accounts in no particular order; sort so the draw is
	// uniform over a stable list.
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	winner := eligible[b.randIntN(len(eligible))]
	if _, err := b.accounts.Grant(ctx, winner.ID, amount); err != nil {
		return nil, err
	}
	b.notifyQuietly(ctx, winner.ID, fmt.Sprintf("Lucky you! You just won %d free credits.", amount))
	return success(fmt.Sprintf("%s won %d credits.", winner.ID, amount)), nil
}

func (b *Bot) cmdBroadcast(ctx context.Context, inv *invocation) (*outcome, error) {
	batch := uuid.NewString()
	b.slog.Info("broadcast started", "batch", batch, "admin", inv.acct.ID)
	done, failed, err := b.forEachApproved(ctx, func(a *account.Account) error {
		return b.notify(ctx, a.ID, inv.arg)
	})
	if err != nil {
		return nil, err
	}
	b.slog.Info("broadcast finished", "batch", batch, "delivered", done, "failed", failed)
	return success(fmt.Sprintf("Broadcast delivered to %d accounts (%d failed).", done, failed)), nil
}

func (b *Bot) cmdMaintenance(ctx context.Context, inv *invocation) (*outcome, error) {
	mode, rest := splitTarget(inv.arg)
	switch mode {
	case "on":
		message := defaultMaintenanceMessage
		if rest != "" {
			message = rest
		}
		b.process.Access(func(s *processState) {
			s.maintenance = true
			s.message = message
		})
		// Let everyone know proactively instead of surprising them on their
		// next command. Admins keep working and aren't notified.
		all, err := b.accounts.All(ctx)
		if err != nil {
			return nil, err
		}
		var done, failed int
		for _, a := range all {
			if !a.Approved || a.Admin {
				continue
			}
			if err := b.notify(ctx, a.ID, message); err != nil {
				b.slog.Warn("maintenance notification failed", "id", a.ID, "err", err)
				failed++
				continue
			}
			done++
		}
		return success(fmt.Sprintf("Maintenance mode is on, %d accounts notified (%d failed).", done, failed)), nil
	case "off":
		b.process.Access(func(s *processState) {
			s.maintenance = false
			s.message = defaultMaintenanceMessage
		})
		return success("Maintenance mode is off."), nil
	default:
		return softFailure("Usage: /maintenance on [message]|off"), nil
	}
}

func (b *Bot) cmdStats(ctx context.Context, inv *invocation) (*outcome, error) {
	all, err := b.accounts.All(ctx)
	if err != nil {
		return nil, err
	}
	var (
		approved, premium, admins int
		credits, queries          int64
	)
	for _, a := range all {
		if a.Approved {
			approved++
		}
		if a.Premium {
			premium++
		}
		if a.Admin {
			admins++
		}
		credits += a.Credits
		queries += a.TotalQueries
	}
	return success(fmt.Sprintf(
		"Accounts: %d (%d approved, %d premium, %d admins)\nPending registrations: %d\nOutstanding credits: %d\nTotal queries served: %d",
		len(all), approved, premium, admins, len(b.reg.Pending()), credits, queries)), nil
}
