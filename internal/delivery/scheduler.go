// Package delivery sends bundles to requesters and removes them again once
// their time-to-live has passed.
//
// A delivery either sends every item or aborts at the first failure. An
// aborted delivery schedules no cleanup; messages already sent before the
// failure stay in the chat. Cleanup timers live in memory only, so a
// process exit drops whatever has not fired yet.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/hub"
	"vanish-drop/internal/metrics"
	"vanish-drop/internal/model"
)

const (
	ActionRedeliver = "redeliver:"
	ActionContact   = "contact"

	cleanupTimeout = 30 * time.Second
)

// Sender is the outbound side of the chat transport.
type Sender interface {
	SendMedia(ctx context.Context, chatID int64, item model.MediaItem, caption string) (int, error)
	SendText(ctx context.Context, chatID int64, text string, buttons [][]model.Button) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

// Ledger records completed deliveries and users who cut contact.
type Ledger interface {
	RecordDelivery(code string, userID int64, messageIDs []int, now time.Time) model.DeliveryEvent
	MarkUnreachable(id int64, now time.Time)
}

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arranges for f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Options struct {
	Sender  Sender
	Ledger  Ledger
	Hub     *hub.Hub
	Metrics *metrics.Metrics

	Now       func() time.Time
	AfterFunc AfterFunc
}

type job struct {
	id         string
	code       string
	userID     int64
	messageIDs []int
	due        time.Time
	timer      Timer
}

type Scheduler struct {
	sender  Sender
	ledger  Ledger
	hub     *hub.Hub
	metrics *metrics.Metrics
	now     func() time.Time
	after   AfterFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool

	expedited sync.WaitGroup
}

func NewScheduler(opts Options) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sender:  opts.Sender,
		ledger:  opts.Ledger,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		now:     opts.Now,
		after:   opts.AfterFunc,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
	}
}

// ExpiryNotice is appended to the caption of the first delivered item.
func ExpiryNotice(ttlSeconds int) string {
	return fmt.Sprintf("⏱ This content will be deleted in %d seconds.", ttlSeconds)
}

func firstCaption(b model.Bundle) string {
	notice := ExpiryNotice(b.TTLSeconds)
	if b.Caption == nil || *b.Caption == "" {
		return notice
	}
	return *b.Caption + "\n\n" + notice
}

// Deliver sends every item of b to userID in order. On full success it
// records the delivery and schedules the cleanup, measured from now.
func (s *Scheduler) Deliver(ctx context.Context, userID int64, b model.Bundle) (model.DeliveryEvent, error) {
	if len(b.Items) == 0 {
		return model.DeliveryEvent{}, apperr.Fatal("deliver", errors.Errorf("bundle %s has no items", b.Code))
	}

	sent := make([]int, 0, len(b.Items))
	for i, item := range b.Items {
		caption := ""
		if i == 0 {
			caption = firstCaption(b)
		}
		id, err := s.sender.SendMedia(ctx, userID, item, caption)
		if err != nil {
			s.noteSendFailure(userID, err)
			jww.WARN.Printf("delivery: %s to %d aborted after %d/%d items: %v", b.Code, userID, len(sent), len(b.Items), err)
			return model.DeliveryEvent{}, apperr.Transient("deliver", err)
		}
		sent = append(sent, id)
	}

	now := s.now()
	ev := s.ledger.RecordDelivery(b.Code, userID, sent, now)
	if s.metrics != nil {
		s.metrics.Deliveries.Inc()
	}
	if s.hub != nil {
		s.hub.Publish(hub.TopicDeliveries, "delivered", ev)
	}

	s.schedule(&job{
		id:         uuid.NewString(),
		code:       b.Code,
		userID:     userID,
		messageIDs: sent,
		due:        now.Add(b.TTL()),
	}, b.TTL())
	jww.INFO.Printf("delivery: %s sent to %d (%d items, cleanup in %ds)", b.Code, userID, len(sent), b.TTLSeconds)
	return ev, nil
}

func (s *Scheduler) schedule(j *job, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		jww.WARN.Printf("delivery: scheduler closed, cleanup of %s for %d dropped", j.code, j.userID)
		return
	}
	s.jobs[j.id] = j
	j.timer = s.after(ttl, func() { s.fire(j.id) })
	s.setPendingGauge()
}

// claim removes a job so exactly one path runs its cleanup.
func (s *Scheduler) claim(id string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	delete(s.jobs, id)
	s.setPendingGauge()
	return j, true
}

func (s *Scheduler) fire(id string) {
	j, ok := s.claim(id)
	if !ok {
		return
	}
	s.cleanup(j, false)
}

// cleanup deletes the delivered messages best-effort, then posts the
// follow-up actions. A revoked code gets no redeliver action.
func (s *Scheduler) cleanup(j *job, revoked bool) {
	ctx, cancel := context.WithTimeout(s.ctx, cleanupTimeout)
	defer cancel()

	for _, msgID := range j.messageIDs {
		if err := s.sender.DeleteMessage(ctx, j.userID, msgID); err != nil {
			jww.WARN.Printf("delivery: delete message %d for %d: %v", msgID, j.userID, err)
			if s.metrics != nil {
				s.metrics.DeleteFailures.Inc()
			}
		}
	}

	text := "The content has been deleted. You can request it again or contact an operator."
	buttons := [][]model.Button{
		{{Label: "🔄 Get it again", Data: ActionRedeliver + j.code}},
		{{Label: "📞 Contact operator", Data: ActionContact}},
	}
	if revoked {
		text = "The content has been deleted and is no longer available."
		buttons = buttons[1:]
	}
	if _, err := s.sender.SendText(ctx, j.userID, text, buttons); err != nil {
		s.noteSendFailure(j.userID, err)
		jww.WARN.Printf("delivery: follow-up for %s to %d: %v", j.code, j.userID, err)
	}
}

// ExpediteCode starts every pending cleanup for code right away and returns
// the number of jobs claimed. It is hooked to registry revocation, so the
// cleanups run in the background and the caller does not wait on Telegram.
func (s *Scheduler) ExpediteCode(code string) int {
	s.mu.Lock()
	var due []*job
	for id, j := range s.jobs {
		if j.code != code {
			continue
		}
		delete(s.jobs, id)
		if j.timer != nil {
			j.timer.Stop()
		}
		due = append(due, j)
	}
	s.setPendingGauge()
	s.mu.Unlock()

	s.expedited.Add(len(due))
	for _, j := range due {
		go func(j *job) {
			defer s.expedited.Done()
			s.cleanup(j, true)
		}(j)
	}
	if len(due) > 0 {
		jww.INFO.Printf("delivery: revoked %s, expedited %d cleanups", code, len(due))
	}
	return len(due)
}

// Wait blocks until every cleanup started by ExpediteCode has finished.
func (s *Scheduler) Wait() {
	s.expedited.Wait()
}

// Pending reports how many cleanups are scheduled and not yet run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Shutdown stops every pending timer. Their deletions are lost.
func (s *Scheduler) Shutdown() int {
	s.mu.Lock()
	lost := len(s.jobs)
	for id, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
		}
		delete(s.jobs, id)
	}
	s.closed = true
	s.setPendingGauge()
	s.mu.Unlock()

	s.cancel()
	if lost > 0 {
		jww.WARN.Printf("delivery: shutdown dropped %d pending cleanups; those messages stay in their chats", lost)
	}
	return lost
}

// SendDirect delivers an operator's text to one user.
func (s *Scheduler) SendDirect(ctx context.Context, userID int64, text string) error {
	if _, err := s.sender.SendText(ctx, userID, text, nil); err != nil {
		s.noteSendFailure(userID, err)
		return apperr.Transient("send direct", err)
	}
	return nil
}

func (s *Scheduler) noteSendFailure(userID int64, err error) {
	if apperr.IsUnreachable(err) {
		s.ledger.MarkUnreachable(userID, s.now())
		jww.INFO.Printf("delivery: user %d unreachable, marked blocked", userID)
	}
}

// setPendingGauge expects s.mu held.
func (s *Scheduler) setPendingGauge() {
	if s.metrics != nil {
		s.metrics.PendingCleanups.Set(float64(len(s.jobs)))
	}
}
