// Package access is the single entry point for content requests. Every
// request runs the same pipeline: rate limit, membership gate, code
// lookup, delivery. Redelivery takes the same path as a fresh request.
package access

import (
	"context"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/metrics"
	"vanish-drop/internal/model"
	"vanish-drop/internal/ratelimit"
)

type OutcomeKind int

const (
	Delivered OutcomeKind = iota
	RateLimited
	Blocked
	MembershipRequired
	CodeNotFound
	// Banned users were blocked by an operator or cut contact with the bot.
	Banned
	DeliveryFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case RateLimited:
		return "rate_limited"
	case Blocked:
		return "blocked"
	case MembershipRequired:
		return "membership_required"
	case CodeNotFound:
		return "code_not_found"
	case Banned:
		return "banned"
	case DeliveryFailed:
		return "delivery_failed"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind OutcomeKind
	// Wait is set for RateLimited and Blocked.
	Wait  time.Duration
	Unmet []model.Requirement
	Event model.DeliveryEvent
	Err   error
}

type Gate interface {
	Evaluate(ctx context.Context, userID int64) (bool, []model.Requirement)
	Confirm(ctx context.Context, userID int64) []model.Requirement
}

type Catalog interface {
	Lookup(code string) (model.Bundle, bool)
}

type Deliverer interface {
	Deliver(ctx context.Context, userID int64, b model.Bundle) (model.DeliveryEvent, error)
}

type Directory interface {
	IsOperator(id int64) bool
	IsBlocked(id int64) bool
}

type Controller struct {
	limiter   *ratelimit.Limiter[int64]
	gate      Gate
	catalog   Catalog
	deliverer Deliverer
	users     Directory
	metrics   *metrics.Metrics
}

func NewController(limiter *ratelimit.Limiter[int64], gate Gate, catalog Catalog, deliverer Deliverer, users Directory, m *metrics.Metrics) *Controller {
	return &Controller{
		limiter:   limiter,
		gate:      gate,
		catalog:   catalog,
		deliverer: deliverer,
		users:     users,
		metrics:   m,
	}
}

// RequestAccess handles a fresh request for code.
func (c *Controller) RequestAccess(ctx context.Context, userID int64, code string) Outcome {
	return c.run(ctx, userID, code, false)
}

// ConfirmMembership handles the user's assertion that they joined every
// required group. Trust requirements are accepted here; auto requirements
// are still probed.
func (c *Controller) ConfirmMembership(ctx context.Context, userID int64, code string) Outcome {
	return c.run(ctx, userID, code, true)
}

func (c *Controller) run(ctx context.Context, userID int64, code string, confirm bool) Outcome {
	out := c.pipeline(ctx, userID, code, confirm)
	if c.metrics != nil {
		c.metrics.AccessOutcomes.WithLabelValues(out.Kind.String()).Inc()
	}
	return out
}

func (c *Controller) pipeline(ctx context.Context, userID int64, code string, confirm bool) Outcome {
	if c.users.IsBlocked(userID) {
		return Outcome{Kind: Banned}
	}

	// operators skip the limiter, nothing else
	if !c.users.IsOperator(userID) {
		if blocked, remaining := c.limiter.IsBlocked(userID); blocked {
			return Outcome{Kind: Blocked, Wait: remaining}
		}
		switch d := c.limiter.RegisterAttempt(userID); d.Verdict {
		case ratelimit.Blocked:
			jww.INFO.Printf("access: user %d blocked for %s after a burst", userID, d.Wait)
			return Outcome{Kind: Blocked, Wait: d.Wait}
		case ratelimit.Throttled:
			return Outcome{Kind: RateLimited, Wait: d.Wait}
		}
	}

	var unmet []model.Requirement
	if confirm {
		unmet = c.gate.Confirm(ctx, userID)
	} else {
		_, unmet = c.gate.Evaluate(ctx, userID)
	}
	if len(unmet) > 0 {
		return Outcome{Kind: MembershipRequired, Unmet: unmet}
	}

	b, ok := c.catalog.Lookup(code)
	if !ok {
		return Outcome{Kind: CodeNotFound}
	}

	ev, err := c.deliverer.Deliver(ctx, userID, b)
	if err != nil {
		return Outcome{Kind: DeliveryFailed, Err: err}
	}
	return Outcome{Kind: Delivered, Event: ev}
}
