package store

import (
	"sort"
	"sync"
	"time"

	"vanish-drop/internal/apperr"
	"vanish-drop/internal/model"
)

// Store owns the user directory, the operator roster and the delivery
// audit log. Nothing here outlives the process.
type Store struct {
	mu sync.RWMutex

	usersByID     map[int64]model.User
	operatorsByID map[int64]model.Operator
	primaryID     int64

	deliveries *deliveryLog
	seq        *seqGenerator
}

type UserFilter string

const (
	FilterAll     UserFilter = "all"
	FilterActive  UserFilter = "active"
	FilterBlocked UserFilter = "blocked"
)

type UserPage struct {
	Users    []model.User `json:"users"`
	Total    int          `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
}

func New(primaryOperatorID int64) *Store {
	return NewWithNow(primaryOperatorID, time.Now())
}

func NewWithNow(primaryOperatorID int64, now time.Time) *Store {
	s := &Store{
		usersByID:     make(map[int64]model.User),
		operatorsByID: make(map[int64]model.Operator),
		primaryID:     primaryOperatorID,
		deliveries:    newDeliveryLog(),
		seq:           newSeqGenerator(),
	}
	if primaryOperatorID != 0 {
		s.operatorsByID[primaryOperatorID] = model.Operator{ID: primaryOperatorID, Primary: true, AddedAt: now}
	}
	return s
}

// TouchUser creates the user on first contact and refreshes profile and
// last-seen afterwards. The blocked flag is left alone.
func (s *Store) TouchUser(id int64, username, firstName string, now time.Time) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[id]
	if !ok {
		u = model.User{ID: id, CreatedAt: now}
	}
	if username != "" {
		u.Username = username
	}
	if firstName != "" {
		u.FirstName = firstName
	}
	u.LastSeen = now
	s.usersByID[id] = u
	return u
}

func (s *Store) GetUser(id int64) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByID[id]
	return u, ok
}

func (s *Store) IsBlocked(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersByID[id].Blocked
}

// BlockUser blocks id, creating a placeholder record for unknown users.
func (s *Store) BlockUser(id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.operatorsByID[id]; ok {
		return apperr.Policy("block user", "operators cannot be blocked")
	}
	s.blockLocked(id, now)
	return nil
}

// MarkUnreachable is the error-detection path: the transport reported
// that the user severed contact.
func (s *Store) MarkUnreachable(id int64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.operatorsByID[id]; ok {
		return
	}
	s.blockLocked(id, now)
}

func (s *Store) blockLocked(id int64, now time.Time) {
	u, ok := s.usersByID[id]
	if !ok {
		u = model.User{ID: id, CreatedAt: now}
	}
	if u.Blocked {
		return
	}
	u.Blocked = true
	u.BlockedAt = now
	s.usersByID[id] = u
}

func (s *Store) UnblockUser(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByID[id]
	if !ok || !u.Blocked {
		return false
	}
	u.Blocked = false
	u.BlockedAt = time.Time{}
	s.usersByID[id] = u
	return true
}

func (s *Store) ListUsers(filter UserFilter, page, pageSize int) UserPage {
	if pageSize <= 0 {
		pageSize = 30
	}
	if page <= 0 {
		page = 1
	}

	s.mu.RLock()
	matched := make([]model.User, 0)
	for _, u := range s.usersByID {
		switch filter {
		case FilterActive:
			if u.Blocked {
				continue
			}
		case FilterBlocked:
			if !u.Blocked {
				continue
			}
		}
		matched = append(matched, u)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastSeen.Equal(matched[j].LastSeen) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].LastSeen.After(matched[j].LastSeen)
	})

	result := UserPage{Total: len(matched), Page: page, PageSize: pageSize}
	start := (page - 1) * pageSize
	if start >= len(matched) {
		result.Users = []model.User{}
		return result
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	result.Users = matched[start:end]
	return result
}

// ActiveUserIDs lists broadcast targets; blocked users and operators are
// skipped.
func (s *Store) ActiveUserIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.usersByID))
	for id, u := range s.usersByID {
		if u.Blocked {
			continue
		}
		if _, op := s.operatorsByID[id]; op {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) IsOperator(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.operatorsByID[id]
	return ok
}

func (s *Store) IsPrimaryOperator(id int64) bool {
	return id != 0 && id == s.primaryID
}

func (s *Store) OperatorIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.operatorsByID))
	for id := range s.operatorsByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) ListOperators() []model.Operator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Operator, 0, len(s.operatorsByID))
	for _, op := range s.operatorsByID {
		result = append(result, op)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// AddOperator grants operator rights. Only the primary operator may do so.
func (s *Store) AddOperator(id, addedBy int64, now time.Time) error {
	if !s.IsPrimaryOperator(addedBy) {
		return apperr.Policy("add operator", "only the primary operator can add operators")
	}
	if id == 0 {
		return apperr.Policy("add operator", "invalid operator id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.operatorsByID[id]; ok {
		return apperr.Policy("add operator", "already an operator")
	}
	s.operatorsByID[id] = model.Operator{ID: id, AddedBy: addedBy, AddedAt: now}
	if u, ok := s.usersByID[id]; ok && u.Blocked {
		u.Blocked = false
		u.BlockedAt = time.Time{}
		s.usersByID[id] = u
	}
	return nil
}

func (s *Store) RemoveOperator(id, removedBy int64) error {
	if !s.IsPrimaryOperator(removedBy) {
		return apperr.Policy("remove operator", "only the primary operator can remove operators")
	}
	if s.IsPrimaryOperator(id) {
		return apperr.Policy("remove operator", "the primary operator cannot be removed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.operatorsByID[id]; !ok {
		return apperr.Policy("remove operator", "not an operator")
	}
	delete(s.operatorsByID, id)
	return nil
}
