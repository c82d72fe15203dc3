// Package content maps opaque access codes to immutable media bundles.
package content

import (
	"crypto/rand"
	"encoding/base64"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/model"
)

const (
	MinTTLSeconds = 5
	MaxTTLSeconds = 30

	// 8 random bytes, 64 bits of entropy, 11 URL-safe characters.
	codeBytes       = 8
	maxCodeAttempts = 8
	defaultPageSize = 20
	maxPageSize     = 100
)

type Page struct {
	Items    []model.BundleSummary `json:"items"`
	Total    int                   `json:"total"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"pageSize"`
}

func (p Page) Pages() int {
	if p.PageSize <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

type Registry struct {
	mu      sync.RWMutex
	byCode  map[string]model.Bundle
	seq     int64
	newCode func() (string, error)
	now     func() time.Time

	revokeHooks []func(code string)
}

func NewRegistry() *Registry {
	return NewRegistryWith(GenerateCode, time.Now)
}

func NewRegistryWith(newCode func() (string, error), now func() time.Time) *Registry {
	return &Registry{
		byCode:  make(map[string]model.Bundle),
		newCode: newCode,
		now:     now,
	}
}

// GenerateCode returns a URL-safe token backed by crypto/rand.
func GenerateCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// OnRevoke registers fn to run after a code is removed.
func (r *Registry) OnRevoke(fn func(code string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revokeHooks = append(r.revokeHooks, fn)
}

func ValidTTL(seconds int) bool {
	return seconds >= MinTTLSeconds && seconds <= MaxTTLSeconds
}

// Publish stores a new bundle under a fresh code. Collisions are retried;
// running out of attempts is an invariant break.
func (r *Registry) Publish(items []model.MediaItem, caption *string, ttlSeconds int, creator int64) (model.Bundle, error) {
	if len(items) == 0 {
		return model.Bundle{}, apperr.Protocol("publish", "bundle has no items")
	}
	if !ValidTTL(ttlSeconds) {
		return model.Bundle{}, apperr.Policy("publish", "ttl out of range")
	}
	for _, it := range items {
		if !it.Kind.Valid() || it.FileID == "" {
			return model.Bundle{}, apperr.Protocol("publish", "invalid media item")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return model.Bundle{}, apperr.Fatal("publish", err)
		}
		if _, taken := r.byCode[code]; taken || code == "" {
			continue
		}

		r.seq++
		b := model.Bundle{
			Code:       code,
			Items:      append([]model.MediaItem(nil), items...),
			TTLSeconds: ttlSeconds,
			CreatedBy:  creator,
			CreatedAt:  r.now(),
			Seq:        r.seq,
		}
		if caption != nil {
			c := *caption
			b.Caption = &c
		}
		r.byCode[code] = b
		return copyBundle(b), nil
	}
	return model.Bundle{}, apperr.Fatal("publish", errors.Errorf("no unique code after %d attempts", maxCodeAttempts))
}

func (r *Registry) Lookup(code string) (model.Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byCode[code]
	if !ok {
		return model.Bundle{}, false
	}
	return copyBundle(b), true
}

// Revoke is idempotent and reports whether a bundle was removed.
func (r *Registry) Revoke(code string) bool {
	r.mu.Lock()
	_, ok := r.byCode[code]
	if ok {
		delete(r.byCode, code)
	}
	hooks := append([]func(string){}, r.revokeHooks...)
	r.mu.Unlock()

	if ok {
		for _, fn := range hooks {
			fn(code)
		}
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCode)
}

// List returns one page of summaries, newest first.
func (r *Registry) List(page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page <= 0 {
		page = 1
	}

	r.mu.RLock()
	all := make([]model.Bundle, 0, len(r.byCode))
	for _, b := range r.byCode {
		all = append(all, b)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })

	result := Page{Total: len(all), Page: page, PageSize: pageSize, Items: []model.BundleSummary{}}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return result
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	for _, b := range all[start:end] {
		result.Items = append(result.Items, model.BundleSummary{
			Code:       b.Code,
			ItemCount:  len(b.Items),
			HasCaption: b.Caption != nil,
			TTLSeconds: b.TTLSeconds,
			CreatedBy:  b.CreatedBy,
			CreatedAt:  b.CreatedAt,
		})
	}
	return result
}

func copyBundle(b model.Bundle) model.Bundle {
	b.Items = append([]model.MediaItem(nil), b.Items...)
	if b.Caption != nil {
		c := *b.Caption
		b.Caption = &c
	}
	return b
}
