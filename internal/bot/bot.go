// Package bot turns Telegram updates into calls on the core components and
// renders their results back as chat messages.
package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/access"
	"vanish-drop/internal/content"
	"vanish-drop/internal/delivery"
	"vanish-drop/internal/membership"
	"vanish-drop/internal/metrics"
	"vanish-drop/internal/model"
	"vanish-drop/internal/relay"
	"vanish-drop/internal/store"
	"vanish-drop/internal/upload"
)

// Callback payloads carried by inline buttons.
const (
	cbMore          = "more"
	cbFinish        = "finish"
	cbNoCaption     = "nocaption"
	cbCancel        = "cancel"
	cbCheck         = "check:"
	cbContact       = delivery.ActionContact
	cbRedeliver     = delivery.ActionRedeliver
	cbCancelContact = "cancel_contact"
	cbNoDescription = "nodesc"
)

// Transport is everything the bot needs from the chat API.
type Transport interface {
	delivery.Sender
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	Username() string
}

type Deps struct {
	Transport   Transport
	Store       *store.Store
	Gate        *membership.Gate
	Registry    *content.Registry
	Uploads     *upload.Manager
	Access      *access.Controller
	Scheduler   *delivery.Scheduler
	Broadcaster *delivery.Broadcaster
	Relay       *relay.Relay
	Metrics     *metrics.Metrics

	// Lifetime bounds background work such as broadcasts. It outlives any
	// single update.
	Lifetime context.Context
	Now      func() time.Time
}

type contactState struct {
	media *model.MediaItem
}

type Bot struct {
	Deps

	mu       sync.Mutex
	contacts map[int64]*contactState

	broadcasts sync.WaitGroup
}

func New(deps Deps) *Bot {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Lifetime == nil {
		deps.Lifetime = context.Background()
	}
	return &Bot{Deps: deps, contacts: make(map[int64]*contactState)}
}

// ShareLink is the deep link that opens the bot with code as /start payload.
func ShareLink(botUsername, code string) string {
	return "https://t.me/" + botUsername + "?start=" + code
}

// HandleUpdate processes one update. It never panics on malformed input
// and logs instead of returning errors; there is nobody to return them to.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	user := b.Store.TouchUser(msg.From.ID, msg.From.UserName, msg.From.FirstName, b.Now())

	if msg.IsCommand() {
		b.handleCommand(ctx, user, msg)
		return
	}
	if item, ok := mediaOf(msg); ok {
		b.handleMedia(ctx, user, msg, item)
		return
	}
	if strings.TrimSpace(msg.Text) != "" {
		b.handleText(ctx, user, msg)
	}
}

func mediaOf(msg *tgbotapi.Message) (model.MediaItem, bool) {
	if len(msg.Photo) > 0 {
		// the last size is the largest
		return model.MediaItem{Kind: model.MediaPhoto, FileID: msg.Photo[len(msg.Photo)-1].FileID}, true
	}
	if msg.Video != nil {
		return model.MediaItem{Kind: model.MediaVideo, FileID: msg.Video.FileID}, true
	}
	return model.MediaItem{}, false
}

func (b *Bot) handleMedia(ctx context.Context, user model.User, msg *tgbotapi.Message, item model.MediaItem) {
	if b.Store.IsOperator(user.ID) {
		b.addUploadItem(ctx, user.ID, item)
		return
	}
	if b.inContact(user.ID) {
		b.contactMedia(ctx, user, item, msg.Caption)
		return
	}
	b.reply(ctx, user.ID, "❌ Please tap \"Contact operator\" first.", userMenu())
}

func (b *Bot) handleText(ctx context.Context, user model.User, msg *tgbotapi.Message) {
	if b.Store.IsOperator(user.ID) {
		b.operatorText(ctx, user, msg)
		return
	}
	if b.inContact(user.ID) {
		b.contactText(ctx, user, msg.Text)
		return
	}
	b.reply(ctx, user.ID, "Open a content link to receive it, or contact an operator.", userMenu())
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	user := b.Store.TouchUser(q.From.ID, q.From.UserName, q.From.FirstName, b.Now())
	data := q.Data

	switch {
	case strings.HasPrefix(data, cbCheck):
		out := b.Access.ConfirmMembership(ctx, user.ID, strings.TrimPrefix(data, cbCheck))
		b.answerOutcome(ctx, q.ID, user.ID, strings.TrimPrefix(data, cbCheck), out)
		return
	case strings.HasPrefix(data, cbRedeliver):
		out := b.Access.RequestAccess(ctx, user.ID, strings.TrimPrefix(data, cbRedeliver))
		b.answerOutcome(ctx, q.ID, user.ID, strings.TrimPrefix(data, cbRedeliver), out)
		return
	case data == cbContact:
		b.startContact(ctx, user.ID)
	case data == cbCancelContact:
		b.endContact(user.ID)
		b.reply(ctx, user.ID, "Cancelled.", userMenu())
	case data == cbNoDescription:
		b.contactText(ctx, user, "")
	case data == cbMore, data == cbFinish, data == cbNoCaption, data == cbCancel:
		if !b.Store.IsOperator(user.ID) {
			b.answer(ctx, q.ID, "", false)
			return
		}
		b.uploadCallback(ctx, user.ID, data)
	default:
		jww.DEBUG.Printf("bot: unknown callback %q from %d", data, user.ID)
	}
	b.answer(ctx, q.ID, "", false)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string, buttons [][]model.Button) {
	if _, err := b.Transport.SendText(ctx, chatID, text, buttons); err != nil {
		jww.WARN.Printf("bot: reply to %d: %v", chatID, err)
	}
}

func (b *Bot) answer(ctx context.Context, callbackID, text string, alert bool) {
	if err := b.Transport.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		jww.DEBUG.Printf("bot: answer callback %s: %v", callbackID, err)
	}
}

// Wait blocks until background broadcasts have finished.
func (b *Bot) Wait() {
	b.broadcasts.Wait()
}
