package telegram

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func photoUpdate(updateID int, from int64) map[string]interface{} {
	return map[string]interface{}{
		"update_id": updateID,
		"message": map[string]interface{}{
			"message_id": updateID,
			"date":       0,
			"from":       map[string]interface{}{"id": from, "is_bot": false, "first_name": "op"},
			"chat":       map[string]interface{}{"id": from, "type": "private"},
			"photo": []map[string]interface{}{
				{"file_id": "f" + strconv.Itoa(updateID), "file_unique_id": "u", "width": 1, "height": 1},
			},
		},
	}
}

func TestPollKeepsSenderOrder(t *testing.T) {
	c, fake := newTestClient(t)
	const n = 50
	for i := 1; i <= n; i++ {
		fake.updates = append(fake.updates, photoUpdate(i, 1))
	}

	var mu sync.Mutex
	var handled []int
	done := make(chan struct{})
	handle := func(_ context.Context, u tgbotapi.Update) {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, u.Message.MessageID)
		if len(handled) == n {
			close(done)
		}
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- c.Poll(pollCtx, handle) }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("updates were not all handled")
	}
	cancel()
	require.NoError(t, <-stopped)

	mu.Lock()
	defer mu.Unlock()
	for i, id := range handled {
		assert.Equal(t, i+1, id)
	}
}

func TestDispatcherRunsSendersConcurrently(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	d := NewDispatcher(func(_ context.Context, u tgbotapi.Update) {
		if u.Message.From.ID == 1 && u.Message.Text == "first" {
			<-release
		}
		mu.Lock()
		order = append(order, u.Message.Text)
		mu.Unlock()
	})

	msg := func(from int64, text string) tgbotapi.Update {
		return tgbotapi.Update{Message: &tgbotapi.Message{From: &tgbotapi.User{ID: from}, Text: text}}
	}
	d.Dispatch(ctx, msg(1, "first"))
	d.Dispatch(ctx, msg(1, "second"))
	d.Dispatch(ctx, msg(2, "other"))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	d.Wait()
	assert.Equal(t, []string{"other", "first", "second"}, order)
}
