// Package upload runs the producer-side flow that assembles a bundle:
// media items, then a caption, then a time-to-live.
package upload

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/content"
	"vanish-drop/internal/model"
)

// Publisher commits a finished session.
type Publisher interface {
	Publish(items []model.MediaItem, caption *string, ttlSeconds int, creator int64) (model.Bundle, error)
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	Producer  int64
	State     State
	Items     []model.MediaItem
	Caption   *string
	StartedAt time.Time
	TouchedAt time.Time
}

type session struct {
	state     State
	items     []model.MediaItem
	caption   *string
	startedAt time.Time
	touchedAt time.Time
}

func (s *session) snapshot(producer int64) Snapshot {
	snap := Snapshot{
		Producer:  producer,
		State:     s.state,
		Items:     append([]model.MediaItem(nil), s.items...),
		StartedAt: s.startedAt,
		TouchedAt: s.touchedAt,
	}
	if s.caption != nil {
		c := *s.caption
		snap.Caption = &c
	}
	return snap
}

type Manager struct {
	mu        sync.Mutex
	sessions  map[int64]*session
	publisher Publisher
	idle      time.Duration
	now       func() time.Time
}

func NewManager(publisher Publisher, idleTimeout time.Duration) *Manager {
	return NewManagerWithNow(publisher, idleTimeout, time.Now)
}

func NewManagerWithNow(publisher Publisher, idleTimeout time.Duration, now func() time.Time) *Manager {
	return &Manager{
		sessions:  make(map[int64]*session),
		publisher: publisher,
		idle:      idleTimeout,
		now:       now,
	}
}

// current returns the live session for producer, discarding it first if
// it has been idle too long. Callers hold m.mu.
func (m *Manager) current(producer int64, now time.Time) *session {
	s, ok := m.sessions[producer]
	if !ok {
		return nil
	}
	if m.idle > 0 && now.Sub(s.touchedAt) > m.idle {
		delete(m.sessions, producer)
		jww.INFO.Printf("upload: session of %d expired after %s idle", producer, m.idle)
		return nil
	}
	return s
}

func (m *Manager) stateOf(s *session) State {
	if s == nil {
		return StateIdle
	}
	return s.state
}

func (m *Manager) State(producer int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateOf(m.current(producer, m.now()))
}

func (m *Manager) Get(producer int64) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current(producer, m.now())
	if s == nil {
		return Snapshot{}, false
	}
	return s.snapshot(producer), true
}

// AddItem starts a session from Idle or appends to a collecting one.
func (m *Manager) AddItem(producer int64, item model.MediaItem) (Snapshot, error) {
	if !item.Kind.Valid() || item.FileID == "" {
		return Snapshot{}, apperr.Protocol("upload", "unsupported media item")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := m.current(producer, now)
	next, err := transition(m.stateOf(s), EventItem)
	if err != nil {
		return Snapshot{}, err
	}
	if s == nil {
		s = &session{startedAt: now}
		m.sessions[producer] = s
	}
	s.state = next
	s.items = append(s.items, item)
	s.touchedAt = now
	return s.snapshot(producer), nil
}

// MoreItems acknowledges that the producer will send further items.
func (m *Manager) MoreItems(producer int64) (Snapshot, error) {
	return m.step(producer, EventMore, nil)
}

func (m *Manager) FinishCollecting(producer int64) (Snapshot, error) {
	return m.step(producer, EventFinish, func(s *session) error {
		if len(s.items) == 0 {
			return apperr.Protocol("upload", "no items collected")
		}
		return nil
	})
}

func (m *Manager) SetCaption(producer int64, caption string) (Snapshot, error) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return m.SkipCaption(producer)
	}
	return m.step(producer, EventCaption, func(s *session) error {
		s.caption = &caption
		return nil
	})
}

func (m *Manager) SkipCaption(producer int64) (Snapshot, error) {
	return m.step(producer, EventSkipCaption, func(s *session) error {
		s.caption = nil
		return nil
	})
}

// Cancel destroys a collecting or captioning session without publishing.
func (m *Manager) Cancel(producer int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current(producer, m.now())
	if _, err := transition(m.stateOf(s), EventCancel); err != nil {
		return err
	}
	delete(m.sessions, producer)
	return nil
}

// SetTTL parses raw as whole seconds and commits the bundle. Out of range
// or non-numeric input is rejected and the session stays as it was.
func (m *Manager) SetTTL(producer int64, raw string) (model.Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := m.current(producer, now)
	if _, err := transition(m.stateOf(s), EventTTL); err != nil {
		return model.Bundle{}, err
	}

	ttl, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || !content.ValidTTL(ttl) {
		return model.Bundle{}, apperr.Policy("upload", "ttl must be a whole number between "+
			strconv.Itoa(content.MinTTLSeconds)+" and "+strconv.Itoa(content.MaxTTLSeconds))
	}

	b, err := m.publisher.Publish(s.items, s.caption, ttl, producer)
	if err != nil {
		return model.Bundle{}, err
	}
	delete(m.sessions, producer)
	return b, nil
}

func (m *Manager) step(producer int64, ev Event, apply func(*session) error) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s := m.current(producer, now)
	next, err := transition(m.stateOf(s), ev)
	if err != nil {
		return Snapshot{}, err
	}
	if apply != nil {
		if err := apply(s); err != nil {
			return s.snapshot(producer), err
		}
	}
	s.state = next
	s.touchedAt = now
	return s.snapshot(producer), nil
}

// Expire drops every session idle longer than the timeout.
func (m *Manager) Expire() int {
	if m.idle <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for producer, s := range m.sessions {
		if now.Sub(s.touchedAt) > m.idle {
			delete(m.sessions, producer)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) RunJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 || m.idle <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Expire(); n > 0 {
				jww.INFO.Printf("upload: expired %d idle sessions", n)
			}
		}
	}
}
