package telegram

import (
	"context"
	"crypto/subtle"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

const pollTimeoutSeconds = 60

// Poll delivers updates through long polling until ctx ends. Any webhook
// left over from a previous run is removed first, since Telegram refuses
// getUpdates while one is set. Updates from one sender are handled in the
// order Telegram returned them.
func (c *Client) Poll(ctx context.Context, handle func(context.Context, tgbotapi.Update)) error {
	if _, err := c.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return classify("delete webhook", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := c.api.GetUpdatesChan(u)
	jww.INFO.Printf("telegram: long polling started")

	dispatcher := NewDispatcher(handle)
	defer dispatcher.Wait()

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			jww.INFO.Printf("telegram: long polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			dispatcher.Dispatch(ctx, update)
		}
	}
}

// SetWebhook registers url with Telegram. The secret, when set, comes back
// on every update in SecretHeader.
func (c *Client) SetWebhook(url, secret string) error {
	params := tgbotapi.Params{}
	params["url"] = url
	params.AddNonEmpty("secret_token", secret)
	if _, err := c.api.MakeRequest("setWebhook", params); err != nil {
		return classify("set webhook", err)
	}
	jww.INFO.Printf("telegram: webhook registered at %s", url)
	return nil
}

var ErrBadWebhookSecret = errors.New("webhook secret mismatch")

// ParseWebhook checks the secret header and decodes one update.
func (c *Client) ParseWebhook(r *http.Request, secret string) (*tgbotapi.Update, error) {
	if secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return nil, ErrBadWebhookSecret
		}
	}
	update, err := c.api.HandleUpdate(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode update")
	}
	return update, nil
}
