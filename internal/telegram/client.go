// Package telegram adapts the Bot API to the transport interfaces used by
// the core: sending, deleting, membership probes and update intake.
package telegram

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/membership"
	"vanish-drop/internal/model"
)

// SecretHeader carries the webhook secret on every update Telegram posts.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type Client struct {
	api *tgbotapi.BotAPI
}

func New(token string) (*Client, error) {
	return NewWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{})
}

// NewWithEndpoint resolves the bot identity against endpoint, a format
// string taking the token and the method name.
func NewWithEndpoint(token, endpoint string, httpClient tgbotapi.HTTPClient) (*Client, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, errors.Wrap(err, "connect to bot api")
	}
	jww.INFO.Printf("telegram: authorized as @%s", api.Self.UserName)
	return &Client{api: api}, nil
}

// Username is the bot's own handle, used to build share links.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

func (c *Client) SelfID() int64 {
	return c.api.Self.ID
}

// classify maps Bot API failures onto the error taxonomy. A 403 means the
// user blocked the bot or deleted their account.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			return errors.Wrapf(apperr.ErrUnreachable, "%s: %s", op, apiErr.Message)
		}
		return errors.Wrapf(err, "%s (code %d)", op, apiErr.Code)
	}
	return errors.Wrap(err, op)
}

func keyboard(rows [][]model.Button) interface{} {
	if len(rows) == 0 {
		return nil
	}
	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		markup = append(markup, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(markup...)
}

func (c *Client) SendMedia(ctx context.Context, chatID int64, item model.MediaItem, caption string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var msg tgbotapi.Chattable
	switch item.Kind {
	case model.MediaPhoto:
		p := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(item.FileID))
		p.Caption = caption
		msg = p
	case model.MediaVideo:
		v := tgbotapi.NewVideo(chatID, tgbotapi.FileID(item.FileID))
		v.Caption = caption
		msg = v
	default:
		return 0, apperr.Protocol("send media", "unsupported media kind "+string(item.Kind))
	}

	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, classify("send media", err)
	}
	return sent.MessageID, nil
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string, buttons [][]model.Button) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if markup := keyboard(buttons); markup != nil {
		msg.ReplyMarkup = markup
	}
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, classify("send text", err)
	}
	return sent.MessageID, nil
}

func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return classify("delete message", err)
}

// AnswerCallback acknowledges a button press, optionally as an alert.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	_, err := c.api.Request(cb)
	return classify("answer callback", err)
}

func chatRef(channelID string, userID int64) (tgbotapi.ChatConfigWithUser, error) {
	ref := tgbotapi.ChatConfigWithUser{UserID: userID}
	if strings.HasPrefix(channelID, "@") {
		ref.SuperGroupUsername = channelID
		return ref, nil
	}
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return ref, apperr.Policy("chat ref", "channel must be @handle or numeric id")
	}
	ref.ChatID = id
	return ref, nil
}

func (c *Client) chatMember(ctx context.Context, channelID string, userID int64) (tgbotapi.ChatMember, error) {
	if err := ctx.Err(); err != nil {
		return tgbotapi.ChatMember{}, err
	}
	ref, err := chatRef(channelID, userID)
	if err != nil {
		return tgbotapi.ChatMember{}, err
	}
	m, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{ChatConfigWithUser: ref})
	if err != nil {
		return tgbotapi.ChatMember{}, apperr.Transient("get chat member", classify("get chat member", err))
	}
	return m, nil
}

func memberStatus(m tgbotapi.ChatMember) membership.MemberStatus {
	switch m.Status {
	case "creator", "administrator":
		return membership.StatusAdmin
	case "member":
		return membership.StatusMember
	case "restricted":
		if m.IsMember {
			return membership.StatusMember
		}
	}
	return membership.StatusOther
}

func (c *Client) QueryMembership(ctx context.Context, channelID string, userID int64) (membership.MemberStatus, error) {
	m, err := c.chatMember(ctx, channelID, userID)
	if err != nil {
		return membership.StatusOther, err
	}
	return memberStatus(m), nil
}

// ProbeSelfPrivilege reports whether the bot administers channelID, which
// is what lets it see other members.
func (c *Client) ProbeSelfPrivilege(ctx context.Context, channelID string) (bool, error) {
	m, err := c.chatMember(ctx, channelID, c.api.Self.ID)
	if err != nil {
		return false, err
	}
	return memberStatus(m) == membership.StatusAdmin, nil
}
