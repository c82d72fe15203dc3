// Package membership decides whether a user satisfies every forced-join
// requirement.
//
// Requirements come in two modes. Auto requirements are verified against
// the transport on every evaluation because the bot holds admin rights in
// the target group. Trust requirements cannot be probed; they are satisfied
// once the user asserts completion and are never re-checked. An auto
// failure is never turned into a pass, and a trust pass never reverts.
package membership

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/model"
)

type MemberStatus int

const (
	StatusOther MemberStatus = iota
	StatusMember
	StatusAdmin
)

func (s MemberStatus) IsMember() bool {
	return s == StatusMember || s == StatusAdmin
}

// Prober is the remote side of membership checks.
type Prober interface {
	QueryMembership(ctx context.Context, channelID string, userID int64) (MemberStatus, error)
	ProbeSelfPrivilege(ctx context.Context, channelID string) (bool, error)
}

type recordKey struct {
	userID    int64
	channelID string
}

type Gate struct {
	prober Prober
	now    func() time.Time

	mu           sync.RWMutex
	requirements map[string]model.Requirement
	records      map[recordKey]bool
	seq          int64

	locks *keyedMutex
}

func NewGate(prober Prober) *Gate {
	return NewGateWithNow(prober, time.Now)
}

func NewGateWithNow(prober Prober, now func() time.Time) *Gate {
	return &Gate{
		prober:       prober,
		now:          now,
		requirements: make(map[string]model.Requirement),
		records:      make(map[recordKey]bool),
		locks:        newKeyedMutex(),
	}
}

// AddRequirement registers a channel. The verification mode is fixed here
// by probing the bot's own privilege once; a failed probe means trust.
func (g *Gate) AddRequirement(ctx context.Context, channelID, target, label string) (model.Requirement, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return model.Requirement{}, apperr.Policy("add requirement", "channel id is required")
	}

	g.mu.RLock()
	_, exists := g.requirements[channelID]
	g.mu.RUnlock()
	if exists {
		return model.Requirement{}, apperr.Policy("add requirement", "channel already registered")
	}

	mode := model.VerifyTrust
	privileged, err := g.prober.ProbeSelfPrivilege(ctx, channelID)
	if err != nil {
		jww.WARN.Printf("membership: privilege probe for %s failed, using trust mode: %v", channelID, err)
	} else if privileged {
		mode = model.VerifyAuto
	}

	if target == "" {
		target = defaultTarget(channelID)
	}
	if label == "" {
		label = "Join " + target
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.requirements[channelID]; exists {
		return model.Requirement{}, apperr.Policy("add requirement", "channel already registered")
	}
	g.seq++
	req := model.Requirement{
		ChannelID: channelID,
		Target:    target,
		Label:     label,
		Mode:      mode,
		CreatedAt: g.now(),
		Seq:       g.seq,
	}
	g.requirements[channelID] = req
	return req, nil
}

func defaultTarget(channelID string) string {
	if strings.HasPrefix(channelID, "@") {
		return channelID
	}
	return "ID:" + channelID
}

// RemoveRequirement drops the channel and every record kept for it.
func (g *Gate) RemoveRequirement(channelID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.requirements[channelID]; !ok {
		return false
	}
	delete(g.requirements, channelID)
	for key := range g.records {
		if key.channelID == channelID {
			delete(g.records, key)
		}
	}
	return true
}

// Requirements returns every requirement in insertion order.
func (g *Gate) Requirements() []model.Requirement {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]model.Requirement, 0, len(g.requirements))
	for _, r := range g.requirements {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result
}

func (g *Gate) satisfied(userID int64, channelID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.records[recordKey{userID: userID, channelID: channelID}]
}

// setRecord ignores writes for requirements removed while a probe was in
// flight, and refuses to revert a trust record.
func (g *Gate) setRecord(userID int64, req model.Requirement, value bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, ok := g.requirements[req.ChannelID]
	if !ok || current.Seq != req.Seq {
		return
	}
	key := recordKey{userID: userID, channelID: req.ChannelID}
	if !value && current.Mode == model.VerifyTrust {
		return
	}
	if value {
		g.records[key] = true
		return
	}
	delete(g.records, key)
}

// Evaluate checks every requirement in insertion order and returns the
// unmet ones. Probe errors keep a previously satisfied auto record
// satisfied and leave an unverified one unmet.
func (g *Gate) Evaluate(ctx context.Context, userID int64) (bool, []model.Requirement) {
	unlock := g.locks.lock(userID)
	defer unlock()

	unmet := g.evaluateLocked(ctx, userID)
	return len(unmet) == 0, unmet
}

func (g *Gate) evaluateLocked(ctx context.Context, userID int64) []model.Requirement {
	unmet := make([]model.Requirement, 0)
	for _, req := range g.Requirements() {
		was := g.satisfied(userID, req.ChannelID)

		if req.Mode == model.VerifyTrust {
			if !was {
				unmet = append(unmet, req)
			}
			continue
		}

		status, err := g.prober.QueryMembership(ctx, req.ChannelID, userID)
		if err != nil {
			if was {
				jww.WARN.Printf("membership: re-probe %s for user %d failed, keeping cached pass: %v", req.ChannelID, userID, err)
				continue
			}
			jww.WARN.Printf("membership: probe %s for user %d failed: %v", req.ChannelID, userID, err)
			unmet = append(unmet, req)
			continue
		}

		if status.IsMember() {
			if !was {
				g.setRecord(userID, req, true)
			}
			continue
		}
		if was {
			g.setRecord(userID, req, false)
		}
		unmet = append(unmet, req)
	}
	return unmet
}

// Confirm handles the user's "I joined" assertion. Trust requirements
// still unmet are satisfied here, once and for all; auto requirements stay
// genuinely checked. The returned list holds the auto requirements that
// still fail.
func (g *Gate) Confirm(ctx context.Context, userID int64) []model.Requirement {
	unlock := g.locks.lock(userID)
	defer unlock()

	unmet := g.evaluateLocked(ctx, userID)
	still := make([]model.Requirement, 0, len(unmet))
	for _, req := range unmet {
		if req.Mode == model.VerifyTrust {
			g.setRecord(userID, req, true)
			continue
		}
		still = append(still, req)
	}
	return still
}

// keyedMutex serializes work per user so evaluate/confirm sequences stay
// atomic against concurrent events from the same user.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refLock)}
}

func (k *keyedMutex) lock(key int64) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
