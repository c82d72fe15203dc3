// Package relay forwards user messages to every operator and routes
// operator replies back to the original sender.
package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-collections/collections/queue"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/metrics"
	"vanish-drop/internal/model"
)

const DefaultMaxMappings = 10000

var (
	ErrNotOperator      = apperr.Policy("route reply", "only operators can reply to relayed messages")
	ErrNoRecipient      = errors.New("no mapped recipient")
	ErrRecipientBlocked = apperr.Policy("route reply", "recipient is blocked")
)

type Sender interface {
	SendMedia(ctx context.Context, chatID int64, item model.MediaItem, caption string) (int, error)
	SendText(ctx context.Context, chatID int64, text string, buttons [][]model.Button) (int, error)
}

type Roster interface {
	OperatorIDs() []int64
	IsOperator(id int64) bool
	IsBlocked(id int64) bool
	MarkUnreachable(id int64, now time.Time)
}

// Content is either a text message or a media item with an optional
// description.
type Content struct {
	Text  string
	Media *model.MediaItem
}

// Copy is one relayed message as it landed in an operator chat.
type Copy struct {
	OperatorID int64
	MessageID  int
}

// message ids are only unique per chat
type mappingKey struct {
	chatID    int64
	messageID int
}

type Relay struct {
	sender  Sender
	roster  Roster
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.Mutex
	max   int
	byKey map[mappingKey]int64
	order *queue.Queue
}

func New(sender Sender, roster Roster, m *metrics.Metrics, maxMappings int) *Relay {
	if maxMappings <= 0 {
		maxMappings = DefaultMaxMappings
	}
	return &Relay{
		sender:  sender,
		roster:  roster,
		metrics: m,
		now:     time.Now,
		max:     maxMappings,
		byKey:   make(map[mappingKey]int64),
		order:   queue.New(),
	}
}

func header(u model.User) string {
	username := "none"
	if u.Username != "" {
		username = "@" + u.Username
	}
	return fmt.Sprintf("📩 New message\n\n👤 Name: %s\n🆔 ID: %d\n🔗 Username: %s", u.DisplayName(), u.ID, username)
}

// Relay sends c to every operator and remembers which user each copy came
// from. It fails only when no operator received the message.
func (r *Relay) Relay(ctx context.Context, from model.User, c Content) ([]Copy, error) {
	if c.Media == nil && strings.TrimSpace(c.Text) == "" {
		return nil, apperr.Protocol("relay", "empty message")
	}

	operators := r.roster.OperatorIDs()
	copies := make([]Copy, 0, len(operators))
	var lastErr error
	for _, op := range operators {
		id, err := r.send(ctx, op, from, c)
		if err != nil {
			lastErr = err
			jww.WARN.Printf("relay: forward from %d to operator %d: %v", from.ID, op, err)
			continue
		}
		r.remember(mappingKey{chatID: op, messageID: id}, from.ID)
		copies = append(copies, Copy{OperatorID: op, MessageID: id})
	}

	if len(copies) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no operators registered")
		}
		return nil, apperr.Transient("relay", lastErr)
	}
	if r.metrics != nil {
		r.metrics.RelayedMessages.WithLabelValues("to_operator").Inc()
	}
	return copies, nil
}

func (r *Relay) send(ctx context.Context, op int64, from model.User, c Content) (int, error) {
	const hint = "\n\n💡 Reply to this message to answer."
	if c.Media != nil {
		desc := c.Text
		if desc == "" {
			desc = "(no description)"
		}
		return r.sender.SendMedia(ctx, op, *c.Media, header(from)+"\n\n💬 "+desc+hint)
	}
	return r.sender.SendText(ctx, op, header(from)+"\n\n💬 "+c.Text+hint, nil)
}

// remember evicts the oldest mappings once the table is full.
func (r *Relay) remember(key mappingKey, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[key]; !exists {
		r.order.Enqueue(key)
	}
	r.byKey[key] = userID
	for r.order.Len() > r.max {
		oldest := r.order.Dequeue().(mappingKey)
		delete(r.byKey, oldest)
	}
}

func (r *Relay) lookup(key mappingKey) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byKey[key]
	return id, ok
}

func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// RouteReply sends an operator's reply to the user behind the relayed
// message repliedTo. Nothing is sent unless a mapping exists and the user
// is still reachable; a blocked user yields ErrRecipientBlocked with the
// target id.
func (r *Relay) RouteReply(ctx context.Context, operatorID int64, repliedTo int, text string) (int64, error) {
	if !r.roster.IsOperator(operatorID) {
		return 0, ErrNotOperator
	}
	target, ok := r.lookup(mappingKey{chatID: operatorID, messageID: repliedTo})
	if !ok {
		return 0, ErrNoRecipient
	}
	if strings.TrimSpace(text) == "" {
		return 0, apperr.Protocol("route reply", "empty reply")
	}
	if r.roster.IsBlocked(target) {
		return target, ErrRecipientBlocked
	}

	if _, err := r.sender.SendText(ctx, target, "💬 Reply from operator:\n\n"+text, nil); err != nil {
		if apperr.IsUnreachable(err) {
			r.roster.MarkUnreachable(target, r.now())
		}
		return target, apperr.Transient("route reply", err)
	}
	if r.metrics != nil {
		r.metrics.RelayedMessages.WithLabelValues("to_user").Inc()
	}
	jww.INFO.Printf("relay: operator %d replied to %d", operatorID, target)
	return target, nil
}
