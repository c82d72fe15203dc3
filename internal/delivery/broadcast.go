package delivery

import (
	"context"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"golang.org/x/time/rate"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/metrics"
)

// Tally summarizes a broadcast sweep.
type Tally struct {
	Targets     int `json:"targets"`
	Sent        int `json:"sent"`
	Failed      int `json:"failed"`
	Unreachable int `json:"unreachable"`
}

// Broadcaster sends one text to many users, paced to stay under the
// transport's throughput limits. Individual failures never stop a sweep.
type Broadcaster struct {
	sender  Sender
	ledger  Ledger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	now     func() time.Time
}

// NewBroadcaster spaces sends at least interval apart. A zero interval
// disables pacing.
func NewBroadcaster(sender Sender, ledger Ledger, m *metrics.Metrics, interval time.Duration) *Broadcaster {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Broadcaster{
		sender:  sender,
		ledger:  ledger,
		metrics: m,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// Broadcast stops early only when ctx ends; the tally then covers the
// targets reached so far.
func (b *Broadcaster) Broadcast(ctx context.Context, text string, targets []int64) (Tally, error) {
	tally := Tally{Targets: len(targets)}
	for _, id := range targets {
		if err := b.limiter.Wait(ctx); err != nil {
			jww.WARN.Printf("broadcast: interrupted after %d/%d: %v", tally.Sent+tally.Failed, len(targets), err)
			return tally, apperr.Transient("broadcast", err)
		}

		if _, err := b.sender.SendText(ctx, id, text, nil); err != nil {
			tally.Failed++
			result := "failed"
			if apperr.IsUnreachable(err) {
				tally.Unreachable++
				result = "unreachable"
				b.ledger.MarkUnreachable(id, b.now())
			}
			b.count(result)
			jww.DEBUG.Printf("broadcast: send to %d: %v", id, err)
			continue
		}
		tally.Sent++
		b.count("sent")
	}
	jww.INFO.Printf("broadcast: %d sent, %d failed (%d unreachable) of %d", tally.Sent, tally.Failed, tally.Unreachable, tally.Targets)
	return tally, nil
}

func (b *Broadcaster) count(result string) {
	if b.metrics != nil {
		b.metrics.BroadcastSends.WithLabelValues(result).Inc()
	}
}
