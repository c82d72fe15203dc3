package model

import (
	"strconv"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FirstName string    `json:"firstName"`
	Blocked   bool      `json:"blocked"`
	BlockedAt time.Time `json:"blockedAt"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

// DisplayName prefers the first name, then the handle, then the numeric id.
func (u User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

type Operator struct {
	ID      int64     `json:"id"`
	Primary bool      `json:"primary"`
	AddedBy int64     `json:"addedBy"`
	AddedAt time.Time `json:"addedAt"`
}

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaPhoto || k == MediaVideo
}

// MediaItem references content already hosted by the transport.
type MediaItem struct {
	Kind   MediaKind `json:"kind"`
	FileID string    `json:"fileId"`
}

type Bundle struct {
	Code       string      `json:"code"`
	Items      []MediaItem `json:"items"`
	Caption    *string     `json:"caption,omitempty"`
	TTLSeconds int         `json:"ttlSeconds"`
	CreatedBy  int64       `json:"createdBy"`
	CreatedAt  time.Time   `json:"createdAt"`
	Seq        int64       `json:"seq"`
}

func (b Bundle) TTL() time.Duration {
	return time.Duration(b.TTLSeconds) * time.Second
}

type BundleSummary struct {
	Code       string    `json:"code"`
	ItemCount  int       `json:"itemCount"`
	HasCaption bool      `json:"hasCaption"`
	TTLSeconds int       `json:"ttlSeconds"`
	CreatedBy  int64     `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

type VerifyMode string

const (
	// VerifyAuto requirements are re-probed on every evaluation.
	VerifyAuto VerifyMode = "auto"
	// VerifyTrust requirements are satisfied by user assertion only.
	VerifyTrust VerifyMode = "trust"
)

type Requirement struct {
	ChannelID string     `json:"channelId"`
	Target    string     `json:"target"`
	Label     string     `json:"label"`
	Mode      VerifyMode `json:"mode"`
	CreatedAt time.Time  `json:"createdAt"`
	Seq       int64      `json:"seq"`
}

// JoinURL returns a link for handle targets and the raw target otherwise.
func (r Requirement) JoinURL() string {
	if len(r.Target) > 1 && r.Target[0] == '@' {
		return "https://t.me/" + r.Target[1:]
	}
	return r.Target
}

type DeliveryEvent struct {
	ID          string    `json:"id"`
	Seq         int64     `json:"seq"`
	Code        string    `json:"code"`
	UserID      int64     `json:"userId"`
	MessageIDs  []int     `json:"messageIds"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// Button is a transport-neutral inline action. Exactly one of Data and URL is set.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data,omitempty"`
	URL   string `json:"url,omitempty"`
}
