package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"vanish-drop/internal/model"
)

const maxDeliveryLog = 10000

type deliveryLog struct {
	mu     sync.RWMutex
	events []model.DeliveryEvent
}

func newDeliveryLog() *deliveryLog {
	return &deliveryLog{}
}

func (d *deliveryLog) append(ev model.DeliveryEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.events = append(d.events, ev)
	if over := len(d.events) - maxDeliveryLog; over > 0 {
		d.events = append([]model.DeliveryEvent(nil), d.events[over:]...)
	}
}

func (d *deliveryLog) getAfter(after int64, limit int) []model.DeliveryEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.events) == 0 {
		return nil
	}

	result := make([]model.DeliveryEvent, 0, limit)
	for _, ev := range d.events {
		if ev.Seq > after {
			result = append(result, ev)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

func (d *deliveryLog) countForCode(code string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, ev := range d.events {
		if ev.Code == code {
			n++
		}
	}
	return n
}

// RecordDelivery appends an audit entry for a completed delivery.
func (s *Store) RecordDelivery(code string, userID int64, messageIDs []int, now time.Time) model.DeliveryEvent {
	ev := model.DeliveryEvent{
		ID:          uuid.NewString(),
		Seq:         s.seq.next("deliveries"),
		Code:        code,
		UserID:      userID,
		MessageIDs:  append([]int(nil), messageIDs...),
		DeliveredAt: now,
	}
	s.deliveries.append(ev)
	return ev
}

func (s *Store) ListDeliveries(after int64, limit int) []model.DeliveryEvent {
	if limit <= 0 {
		limit = 100
	}
	return s.deliveries.getAfter(after, limit)
}

func (s *Store) DeliveryCount(code string) int {
	return s.deliveries.countForCode(code)
}
