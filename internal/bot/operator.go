package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/content"
	"vanish-drop/internal/model"
	"vanish-drop/internal/relay"
	"vanish-drop/internal/store"
	"vanish-drop/internal/upload"
)

const (
	listPageSize = 10
	userPageSize = 30
)

const operatorHelp = `👋 Operator menu

Send photos or videos to start a new bundle.
💬 Reply to a relayed message to answer its sender.

/list [page] - published codes
/revoke <code> - delete a code
/channels - required channels
/addchannel <id> [target] [label] - require a channel
/removechannel <id> - drop a requirement
/users [page] - active users
/blocked [page] - blocked users
/block <id>, /unblock <id>
/broadcast <text> - message every active user
/send <id> <text> - message one user
/addadmin <id>, /removeadmin <id>
/cancel - abandon the current upload

⚠️ Nothing is persisted. A restart forgets every code and setting.`

func (b *Bot) handleCommand(ctx context.Context, user model.User, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	isOperator := b.Store.IsOperator(user.ID)

	if cmd == "start" {
		b.start(ctx, user, isOperator, args)
		return
	}
	if !isOperator {
		b.reply(ctx, user.ID, "Unknown command.", userMenu())
		return
	}

	switch cmd {
	case "help":
		b.reply(ctx, user.ID, operatorHelp, nil)
	case "list":
		b.listBundles(ctx, user.ID, pageArg(args))
	case "revoke":
		b.revoke(ctx, user.ID, args)
	case "channels":
		b.listChannels(ctx, user.ID)
	case "addchannel":
		b.addChannel(ctx, user.ID, args)
	case "removechannel":
		b.removeChannel(ctx, user.ID, args)
	case "users":
		b.listUsers(ctx, user.ID, store.FilterActive, pageArg(args))
	case "blocked":
		b.listUsers(ctx, user.ID, store.FilterBlocked, pageArg(args))
	case "block", "unblock":
		b.setBlocked(ctx, user.ID, args, cmd == "block")
	case "broadcast":
		if args == "" {
			b.reply(ctx, user.ID, "Usage: /broadcast <text>", nil)
			return
		}
		n := b.StartBroadcast(user.ID, args)
		b.reply(ctx, user.ID, fmt.Sprintf("📢 Broadcasting to %d users...", n), nil)
	case "send":
		b.sendDirect(ctx, user.ID, args)
	case "addadmin", "removeadmin":
		b.changeOperator(ctx, user.ID, args, cmd == "addadmin")
	case "cancel":
		if b.Uploads.State(user.ID) == upload.StateIdle {
			b.reply(ctx, user.ID, "Nothing to cancel.", nil)
			return
		}
		if err := b.Uploads.Cancel(user.ID); err != nil {
			b.failure(ctx, user.ID, err)
			return
		}
		b.reply(ctx, user.ID, "❌ Upload cancelled.", nil)
	default:
		b.reply(ctx, user.ID, "Unknown command. Send /help for the list.", nil)
	}
}

func (b *Bot) start(ctx context.Context, user model.User, isOperator bool, code string) {
	if !isOperator && b.Store.IsBlocked(user.ID) {
		b.reply(ctx, user.ID, "⛔ You have been blocked by an operator.\n\nContact an operator to be unblocked.", nil)
		return
	}
	if code != "" {
		b.requestContent(ctx, user.ID, code)
		return
	}
	if isOperator {
		b.reply(ctx, user.ID, operatorHelp, nil)
		return
	}
	b.reply(ctx, user.ID, "👋 Welcome! Open a content link to receive it.", userMenu())
}

func pageArg(args string) int {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 1
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func parseID(raw string) (int64, string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, "", errors.New("missing user id")
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", errors.Errorf("invalid user id %q", fields[0])
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), fields[0]))
	return id, rest, nil
}

// failure renders err for an operator: policy and protocol errors carry
// their message, anything else is logged and reported generically.
func (b *Bot) failure(ctx context.Context, chatID int64, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindPolicy, apperr.KindProtocol:
		b.reply(ctx, chatID, "❌ "+apperr.Message(err), nil)
	case apperr.KindFatal:
		jww.ERROR.Printf("bot: %+v", err)
		b.reply(ctx, chatID, "❌ Internal error.", nil)
	default:
		jww.WARN.Printf("bot: operator %d: %v", chatID, err)
		b.reply(ctx, chatID, "❌ "+err.Error(), nil)
	}
}

func uploadButtons(state upload.State) [][]model.Button {
	switch state {
	case upload.StateCollecting:
		return [][]model.Button{
			{{Label: "➕ More", Data: cbMore}, {Label: "✅ Finish", Data: cbFinish}},
			{{Label: "❌ Cancel", Data: cbCancel}},
		}
	case upload.StateAwaitingCaption:
		return [][]model.Button{
			{{Label: "🚫 No caption", Data: cbNoCaption}},
			{{Label: "❌ Cancel", Data: cbCancel}},
		}
	}
	return nil
}

func ttlPrompt() string {
	return fmt.Sprintf("⏱ How many seconds should the content stay? (%d-%d)", content.MinTTLSeconds, content.MaxTTLSeconds)
}

func (b *Bot) addUploadItem(ctx context.Context, operatorID int64, item model.MediaItem) {
	snap, err := b.Uploads.AddItem(operatorID, item)
	if err != nil {
		b.failure(ctx, operatorID, err)
		return
	}
	b.reply(ctx, operatorID, fmt.Sprintf("✅ Item %d received. Send more or finish.", len(snap.Items)), uploadButtons(snap.State))
}

func (b *Bot) uploadCallback(ctx context.Context, operatorID int64, data string) {
	var (
		snap upload.Snapshot
		err  error
	)
	switch data {
	case cbMore:
		snap, err = b.Uploads.MoreItems(operatorID)
		if err == nil {
			b.reply(ctx, operatorID, "📤 Send the next item.", nil)
			return
		}
	case cbFinish:
		snap, err = b.Uploads.FinishCollecting(operatorID)
		if err == nil {
			b.reply(ctx, operatorID, fmt.Sprintf("📝 %d items. Send a caption, or skip it.", len(snap.Items)), uploadButtons(snap.State))
			return
		}
	case cbNoCaption:
		_, err = b.Uploads.SkipCaption(operatorID)
		if err == nil {
			b.reply(ctx, operatorID, ttlPrompt(), nil)
			return
		}
	case cbCancel:
		if err = b.Uploads.Cancel(operatorID); err == nil {
			b.reply(ctx, operatorID, "❌ Upload cancelled.", nil)
			return
		}
	}
	b.failure(ctx, operatorID, err)
}

func (b *Bot) operatorText(ctx context.Context, user model.User, msg *tgbotapi.Message) {
	state := b.Uploads.State(user.ID)

	if msg.ReplyToMessage != nil {
		target, err := b.Relay.RouteReply(ctx, user.ID, msg.ReplyToMessage.MessageID, msg.Text)
		switch {
		case err == nil:
			b.reply(ctx, user.ID, fmt.Sprintf("✅ Sent to %d.", target), nil)
			return
		case errors.Is(err, relay.ErrRecipientBlocked):
			b.reply(ctx, user.ID, fmt.Sprintf("⛔ User %d is blocked; nothing was sent.", target), nil)
			return
		case errors.Is(err, relay.ErrNoRecipient):
			if state != upload.StateAwaitingCaption && state != upload.StateAwaitingTTL {
				b.reply(ctx, user.ID, "❌ No mapped recipient for that message.", nil)
				return
			}
		default:
			b.failure(ctx, user.ID, err)
			return
		}
	}

	switch state {
	case upload.StateAwaitingCaption:
		if _, err := b.Uploads.SetCaption(user.ID, msg.Text); err != nil {
			b.failure(ctx, user.ID, err)
			return
		}
		b.reply(ctx, user.ID, ttlPrompt(), nil)
	case upload.StateAwaitingTTL:
		bundle, err := b.Uploads.SetTTL(user.ID, msg.Text)
		if err != nil {
			b.failure(ctx, user.ID, err)
			return
		}
		if b.Metrics != nil {
			b.Metrics.UploadsCommitted.Inc()
		}
		jww.INFO.Printf("bot: operator %d published %s (%d items, ttl %ds)", user.ID, bundle.Code, len(bundle.Items), bundle.TTLSeconds)
		b.reply(ctx, user.ID, fmt.Sprintf("✅ Saved!\n\n🔗 %s\n\n📦 %d items, deleted %d seconds after delivery.",
			ShareLink(b.Transport.Username(), bundle.Code), len(bundle.Items), bundle.TTLSeconds), nil)
	default:
		b.reply(ctx, user.ID, operatorHelp, nil)
	}
}

func (b *Bot) listBundles(ctx context.Context, chatID int64, page int) {
	p := b.Registry.List(page, listPageSize)
	if p.Total == 0 {
		b.reply(ctx, chatID, "No codes published yet.", nil)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📦 Codes (page %d/%d, %d total)\n", p.Page, p.Pages(), p.Total)
	for _, s := range p.Items {
		fmt.Fprintf(&sb, "\n• %s · %d items · %ds · %d deliveries\n  %s", s.Code, s.ItemCount, s.TTLSeconds,
			b.Store.DeliveryCount(s.Code), ShareLink(b.Transport.Username(), s.Code))
	}
	b.reply(ctx, chatID, sb.String(), nil)
}

func (b *Bot) revoke(ctx context.Context, chatID int64, code string) {
	if code == "" {
		b.reply(ctx, chatID, "Usage: /revoke <code>", nil)
		return
	}
	if !b.Registry.Revoke(code) {
		b.reply(ctx, chatID, "❌ No such code.", nil)
		return
	}
	b.reply(ctx, chatID, "🗑 Code "+code+" revoked.", nil)
}

func (b *Bot) listChannels(ctx context.Context, chatID int64) {
	reqs := b.Gate.Requirements()
	if len(reqs) == 0 {
		b.reply(ctx, chatID, "No required channels.", nil)
		return
	}
	var sb strings.Builder
	sb.WriteString("📢 Required channels\n")
	for _, r := range reqs {
		fmt.Fprintf(&sb, "\n• %s (%s) %s · %s", r.ChannelID, r.Mode, r.Target, r.Label)
	}
	b.reply(ctx, chatID, sb.String(), nil)
}

func (b *Bot) addChannel(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		b.reply(ctx, chatID, "Usage: /addchannel <@handle|-100id> [target] [label]", nil)
		return
	}
	target, label := "", ""
	if len(fields) > 1 {
		target = fields[1]
	}
	if len(fields) > 2 {
		label = strings.Join(fields[2:], " ")
	}

	req, err := b.Gate.AddRequirement(ctx, fields[0], target, label)
	if err != nil {
		b.failure(ctx, chatID, err)
		return
	}
	note := "✅ The bot administers this channel, membership is checked automatically."
	if req.Mode == model.VerifyTrust {
		note = "⚠️ The bot cannot see this channel's members; users are trusted once they confirm."
	}
	b.reply(ctx, chatID, fmt.Sprintf("➕ Added %s\n%s", req.ChannelID, note), nil)
}

func (b *Bot) removeChannel(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(ctx, chatID, "Usage: /removechannel <id>", nil)
		return
	}
	if !b.Gate.RemoveRequirement(args) {
		b.reply(ctx, chatID, "❌ Not a required channel.", nil)
		return
	}
	b.reply(ctx, chatID, "➖ Removed "+args+".", nil)
}

func (b *Bot) listUsers(ctx context.Context, chatID int64, filter store.UserFilter, page int) {
	p := b.Store.ListUsers(filter, page, userPageSize)
	if p.Total == 0 {
		b.reply(ctx, chatID, "No users.", nil)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 %s users: %d (page %d)\n", filter, p.Total, p.Page)
	for _, u := range p.Users {
		fmt.Fprintf(&sb, "\n• %s · %d", u.DisplayName(), u.ID)
		if u.Username != "" {
			sb.WriteString(" · @" + u.Username)
		}
	}
	b.reply(ctx, chatID, sb.String(), nil)
}

func (b *Bot) setBlocked(ctx context.Context, chatID int64, args string, block bool) {
	id, _, err := parseID(args)
	if err != nil {
		b.reply(ctx, chatID, "❌ "+err.Error(), nil)
		return
	}
	if !block {
		if !b.Store.UnblockUser(id) {
			b.reply(ctx, chatID, "❌ That user is not blocked.", nil)
			return
		}
		b.reply(ctx, chatID, fmt.Sprintf("✅ %d unblocked.", id), nil)
		return
	}
	if err := b.Store.BlockUser(id, b.Now()); err != nil {
		b.failure(ctx, chatID, err)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("🚫 %d blocked.", id), nil)
}

func (b *Bot) sendDirect(ctx context.Context, chatID int64, args string) {
	id, text, err := parseID(args)
	if err != nil || text == "" {
		b.reply(ctx, chatID, "Usage: /send <id> <text>", nil)
		return
	}
	if err := b.Scheduler.SendDirect(ctx, id, text); err != nil {
		if apperr.IsUnreachable(err) {
			b.reply(ctx, chatID, fmt.Sprintf("❌ %d has blocked the bot and was marked blocked.", id), nil)
			return
		}
		b.failure(ctx, chatID, err)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("✅ Sent to %d.", id), nil)
}

func (b *Bot) changeOperator(ctx context.Context, chatID int64, args string, add bool) {
	id, _, err := parseID(args)
	if err != nil {
		b.reply(ctx, chatID, "❌ "+err.Error(), nil)
		return
	}
	if add {
		err = b.Store.AddOperator(id, chatID, b.Now())
	} else {
		err = b.Store.RemoveOperator(id, chatID)
	}
	if err != nil {
		b.failure(ctx, chatID, err)
		return
	}
	verb := "added"
	if !add {
		verb = "removed"
	}
	b.reply(ctx, chatID, fmt.Sprintf("✅ Operator %d %s.", id, verb), nil)
}

// StartBroadcast messages every active user in the background and reports
// the tally to operatorID when done. It returns the number of targets.
func (b *Bot) StartBroadcast(operatorID int64, text string) int {
	targets := b.Store.ActiveUserIDs()
	b.broadcasts.Add(1)
	go func() {
		defer b.broadcasts.Done()
		tally, err := b.Broadcaster.Broadcast(b.Lifetime, text, targets)
		summary := fmt.Sprintf("📢 Broadcast finished\n\n✅ Sent: %d\n❌ Failed: %d (%d unreachable)", tally.Sent, tally.Failed, tally.Unreachable)
		if err != nil {
			summary = fmt.Sprintf("📢 Broadcast interrupted after %d of %d", tally.Sent+tally.Failed, tally.Targets)
		}
		b.reply(b.Lifetime, operatorID, summary, nil)
	}()
	return len(targets)
}
