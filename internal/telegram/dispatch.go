package telegram

import (
	"context"
	"sync"

	"github.com/golang-collections/collections/queue"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type pendingUpdate struct {
	ctx    context.Context
	update tgbotapi.Update
}

// Dispatcher hands updates to a handler one sender at a time. Updates from
// the same sender run in arrival order; different senders run concurrently.
// Dispatch never blocks on the handler.
type Dispatcher struct {
	handle func(context.Context, tgbotapi.Update)

	mu    sync.Mutex
	lanes map[int64]*queue.Queue
	wg    sync.WaitGroup
}

func NewDispatcher(handle func(context.Context, tgbotapi.Update)) *Dispatcher {
	return &Dispatcher{handle: handle, lanes: map[int64]*queue.Queue{}}
}

// senderKey groups updates by the user who caused them. Updates without a
// sender share lane 0.
func senderKey(update tgbotapi.Update) int64 {
	if from := update.SentFrom(); from != nil {
		return from.ID
	}
	return 0
}

func (d *Dispatcher) Dispatch(ctx context.Context, update tgbotapi.Update) {
	key := senderKey(update)
	next := pendingUpdate{ctx: ctx, update: update}

	d.mu.Lock()
	if lane, ok := d.lanes[key]; ok {
		lane.Enqueue(next)
		d.mu.Unlock()
		return
	}
	lane := queue.New()
	d.lanes[key] = lane
	d.wg.Add(1)
	d.mu.Unlock()

	go d.drain(key, lane, next)
}

// drain runs the lane until it is empty, then retires it. The empty check
// and the removal happen under the same lock as Enqueue so no update is
// stranded.
func (d *Dispatcher) drain(key int64, lane *queue.Queue, next pendingUpdate) {
	defer d.wg.Done()
	for {
		d.handle(next.ctx, next.update)

		d.mu.Lock()
		if lane.Len() == 0 {
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
		next = lane.Dequeue().(pendingUpdate)
		d.mu.Unlock()
	}
}

// Wait blocks until every dispatched update has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
