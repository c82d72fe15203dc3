package bot

import (
	"context"
	"fmt"
	"strings"

	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/access"
	"vanish-drop/internal/model"
	"vanish-drop/internal/relay"
)

func userMenu() [][]model.Button {
	return [][]model.Button{{{Label: "📞 Contact operator", Data: cbContact}}}
}

func seconds(out access.Outcome) int {
	s := int(out.Wait.Seconds())
	if s < 1 {
		s = 1
	}
	return s
}

// membershipPrompt lists every unmet requirement. Targets that are not
// links are shown as text since a button needs a URL.
func membershipPrompt(code string, unmet []model.Requirement) (string, [][]model.Button) {
	var sb strings.Builder
	sb.WriteString("⚠️ To receive this content, join the following first:")
	rows := make([][]model.Button, 0, len(unmet)+1)
	for _, r := range unmet {
		url := r.JoinURL()
		if strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://") {
			rows = append(rows, []model.Button{{Label: r.Label, URL: url}})
			continue
		}
		sb.WriteString("\n• " + r.Label)
	}
	rows = append(rows, []model.Button{{Label: "✅ I joined", Data: cbCheck + code}})
	return sb.String(), rows
}

func outcomeText(out access.Outcome) string {
	switch out.Kind {
	case access.RateLimited:
		return fmt.Sprintf("⚠️ Please wait %d seconds.", seconds(out))
	case access.Blocked:
		return fmt.Sprintf("⛔ Too many requests. Wait %d seconds.", seconds(out))
	case access.CodeNotFound:
		return "❌ This link does not exist."
	case access.Banned:
		return "⛔ You have been blocked by an operator."
	case access.DeliveryFailed:
		return "❌ Sending the content failed. Please try again later."
	case access.MembershipRequired:
		return "⚠️ You have not joined every required channel yet."
	default:
		return ""
	}
}

func (b *Bot) requestContent(ctx context.Context, userID int64, code string) {
	out := b.Access.RequestAccess(ctx, userID, code)
	b.renderOutcome(ctx, userID, code, out)
}

func (b *Bot) renderOutcome(ctx context.Context, userID int64, code string, out access.Outcome) {
	switch out.Kind {
	case access.Delivered:
		return
	case access.MembershipRequired:
		text, buttons := membershipPrompt(code, out.Unmet)
		b.reply(ctx, userID, text, buttons)
	default:
		b.reply(ctx, userID, outcomeText(out), nil)
	}
	if out.Err != nil {
		jww.WARN.Printf("bot: access %s for %d: %v", code, userID, out.Err)
	}
}

// answerOutcome renders an outcome reached from a button. Short refusals
// become alerts; a membership prompt is sent again.
func (b *Bot) answerOutcome(ctx context.Context, callbackID string, userID int64, code string, out access.Outcome) {
	switch out.Kind {
	case access.Delivered:
		b.answer(ctx, callbackID, "✅ Sending...", false)
	case access.MembershipRequired:
		b.answer(ctx, callbackID, outcomeText(out), true)
		b.renderOutcome(ctx, userID, code, out)
	default:
		b.answer(ctx, callbackID, outcomeText(out), true)
		if out.Err != nil {
			jww.WARN.Printf("bot: access %s for %d: %v", code, userID, out.Err)
		}
	}
}

func (b *Bot) inContact(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.contacts[userID]
	return ok
}

func (b *Bot) startContact(ctx context.Context, userID int64) {
	b.mu.Lock()
	b.contacts[userID] = &contactState{}
	b.mu.Unlock()

	b.reply(ctx, userID, "📝 Send your message, photo or video for the operators.",
		[][]model.Button{{{Label: "❌ Cancel", Data: cbCancelContact}}})
}

func (b *Bot) endContact(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.contacts, userID)
}

// contactMedia holds the item until the user adds a description, unless
// one came with the media already.
func (b *Bot) contactMedia(ctx context.Context, user model.User, item model.MediaItem, caption string) {
	if strings.TrimSpace(caption) != "" {
		b.forward(ctx, user, relay.Content{Text: caption, Media: &item})
		return
	}

	b.mu.Lock()
	if st, ok := b.contacts[user.ID]; ok {
		st.media = &item
	}
	b.mu.Unlock()

	b.reply(ctx, user.ID, "✅ Received. Add a description, or skip it.",
		[][]model.Button{{{Label: "🚫 No description", Data: cbNoDescription}}})
}

func (b *Bot) contactText(ctx context.Context, user model.User, text string) {
	b.mu.Lock()
	st, ok := b.contacts[user.ID]
	var media *model.MediaItem
	if ok {
		media = st.media
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	c := relay.Content{Text: text, Media: media}
	if c.Media == nil && strings.TrimSpace(text) == "" {
		b.reply(ctx, user.ID, "Send a message first.", nil)
		return
	}
	b.forward(ctx, user, c)
}

func (b *Bot) forward(ctx context.Context, user model.User, c relay.Content) {
	b.endContact(user.ID)
	if _, err := b.Relay.Relay(ctx, user, c); err != nil {
		jww.WARN.Printf("bot: relay from %d: %v", user.ID, err)
		b.reply(ctx, user.ID, "❌ Your message could not be delivered. Please try again later.", userMenu())
		return
	}
	b.reply(ctx, user.ID, "✅ Your message was sent to the operators. Please wait for a reply.", userMenu())
}
