package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/content"
	"vanish-drop/internal/model"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func item(id string) model.MediaItem {
	return model.MediaItem{Kind: model.MediaPhoto, FileID: id}
}

func newTestManager() (*Manager, *content.Registry, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := content.NewRegistry()
	return NewManagerWithNow(reg, 10*time.Minute, c.now), reg, c
}

func TestFullFlowCommitsBundle(t *testing.T) {
	m, reg, _ := newTestManager()

	for _, id := range []string{"a", "b", "c"} {
		snap, err := m.AddItem(1, item(id))
		require.NoError(t, err)
		require.Equal(t, StateCollecting, snap.State)
	}
	_, err := m.FinishCollecting(1)
	require.NoError(t, err)
	snap, err := m.SkipCaption(1)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingTTL, snap.State)

	b, err := m.SetTTL(1, "15")
	require.NoError(t, err)
	assert.Len(t, b.Items, 3)
	assert.Nil(t, b.Caption)
	assert.Equal(t, 15, b.TTLSeconds)
	assert.Equal(t, int64(1), b.CreatedBy)
	assert.Equal(t, 1, reg.Len())

	assert.Equal(t, StateIdle, m.State(1))
	_, ok := m.Get(1)
	assert.False(t, ok)

	// a new item starts a brand new session
	snap, err = m.AddItem(1, item("d"))
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)
}

func TestCaptionIsStored(t *testing.T) {
	m, _, _ := newTestManager()
	_, _ = m.AddItem(1, item("a"))
	_, _ = m.FinishCollecting(1)
	_, err := m.SetCaption(1, "  launch day  ")
	require.NoError(t, err)

	b, err := m.SetTTL(1, "5")
	require.NoError(t, err)
	require.NotNil(t, b.Caption)
	assert.Equal(t, "launch day", *b.Caption)
}

func TestMoreItemsStaysCollecting(t *testing.T) {
	m, _, _ := newTestManager()
	_, _ = m.AddItem(1, item("a"))
	snap, err := m.MoreItems(1)
	require.NoError(t, err)
	assert.Equal(t, StateCollecting, snap.State)
}

func TestTTLBoundaries(t *testing.T) {
	for _, tc := range []struct {
		raw string
		ok  bool
	}{
		{"3", false}, {"4", false}, {"5", true}, {"30", true}, {"31", false}, {"ten", false}, {"12.5", false}, {"", false},
	} {
		m, _, _ := newTestManager()
		_, _ = m.AddItem(1, item("a"))
		_, _ = m.FinishCollecting(1)
		_, _ = m.SkipCaption(1)

		_, err := m.SetTTL(1, tc.raw)
		if tc.ok {
			assert.NoError(t, err, tc.raw)
			assert.Equal(t, StateIdle, m.State(1), tc.raw)
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindPolicy), tc.raw)
		snap, ok := m.Get(1)
		require.True(t, ok, tc.raw)
		assert.Equal(t, StateAwaitingTTL, snap.State, tc.raw)
		assert.Len(t, snap.Items, 1, tc.raw)
	}
}

func TestRejectedTTLLeavesSessionUntouched(t *testing.T) {
	m, _, c := newTestManager()
	_, _ = m.AddItem(1, item("a"))
	_, _ = m.FinishCollecting(1)
	before, err := m.SkipCaption(1)
	require.NoError(t, err)

	c.t = c.t.Add(time.Minute)
	_, err = m.SetTTL(1, "99")
	require.Error(t, err)

	after, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, before.TouchedAt, after.TouchedAt)
	assert.Equal(t, StateAwaitingTTL, after.State)
}

func TestFinishEmptySessionIsRejected(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.FinishCollecting(1)
	assert.True(t, apperr.Is(err, apperr.KindProtocol))
	assert.Equal(t, StateIdle, m.State(1))
}

func TestItemAfterFinishIsRejectedWithoutMutation(t *testing.T) {
	m, _, _ := newTestManager()
	_, _ = m.AddItem(1, item("a"))
	_, _ = m.FinishCollecting(1)

	_, err := m.AddItem(1, item("b"))
	require.True(t, apperr.Is(err, apperr.KindProtocol))
	snap, _ := m.Get(1)
	assert.Equal(t, StateAwaitingCaption, snap.State)
	assert.Len(t, snap.Items, 1)

	_, _ = m.SkipCaption(1)
	_, err = m.AddItem(1, item("b"))
	require.True(t, apperr.Is(err, apperr.KindProtocol))
	snap, _ = m.Get(1)
	assert.Equal(t, StateAwaitingTTL, snap.State)
	assert.Len(t, snap.Items, 1)
}

func TestCancel(t *testing.T) {
	m, reg, _ := newTestManager()
	_, _ = m.AddItem(1, item("a"))
	require.NoError(t, m.Cancel(1))
	assert.Equal(t, StateIdle, m.State(1))

	_, _ = m.AddItem(1, item("a"))
	_, _ = m.FinishCollecting(1)
	require.NoError(t, m.Cancel(1))
	assert.Equal(t, 0, reg.Len())

	// nothing to cancel, and awaiting-ttl cannot be cancelled
	assert.True(t, apperr.Is(m.Cancel(1), apperr.KindProtocol))
	_, _ = m.AddItem(1, item("a"))
	_, _ = m.FinishCollecting(1)
	_, _ = m.SkipCaption(1)
	assert.True(t, apperr.Is(m.Cancel(1), apperr.KindProtocol))
	assert.Equal(t, StateAwaitingTTL, m.State(1))
}

func TestStepsWithoutSessionAreRejected(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.SkipCaption(1)
	assert.True(t, apperr.Is(err, apperr.KindProtocol))
	_, err = m.SetTTL(1, "10")
	assert.True(t, apperr.Is(err, apperr.KindProtocol))
	_, err = m.MoreItems(1)
	assert.True(t, apperr.Is(err, apperr.KindProtocol))
}

func TestSessionsArePerProducer(t *testing.T) {
	m, _, _ := newTestManager()
	_, _ = m.AddItem(1, item("a"))
	_, _ = m.FinishCollecting(1)

	snap, err := m.AddItem(2, item("b"))
	require.NoError(t, err)
	assert.Equal(t, StateCollecting, snap.State)
	assert.Equal(t, StateAwaitingCaption, m.State(1))
}

func TestIdleSessionsExpire(t *testing.T) {
	m, _, c := newTestManager()
	_, _ = m.AddItem(1, item("a"))
	_, _ = m.AddItem(2, item("b"))

	c.t = c.t.Add(5 * time.Minute)
	_, _ = m.MoreItems(2)
	c.t = c.t.Add(6 * time.Minute)

	assert.Equal(t, 1, m.Expire())
	assert.Equal(t, StateIdle, m.State(1))
	assert.Equal(t, StateCollecting, m.State(2))

	// lazy expiry on access
	c.t = c.t.Add(11 * time.Minute)
	snap, err := m.AddItem(2, item("c"))
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)
}

func TestTransitionTableIsTotal(t *testing.T) {
	allowed := map[State][]Event{
		StateIdle:            {EventItem},
		StateCollecting:      {EventItem, EventMore, EventFinish, EventCancel},
		StateAwaitingCaption: {EventCaption, EventSkipCaption, EventCancel},
		StateAwaitingTTL:     {EventTTL},
	}
	for st := StateIdle; st <= StateCancelled; st++ {
		for ev := EventItem; ev <= EventCancel; ev++ {
			_, err := transition(st, ev)
			want := false
			for _, a := range allowed[st] {
				if a == ev {
					want = true
				}
			}
			assert.Equal(t, want, err == nil, "%s + %s", st, ev)
		}
	}
}
