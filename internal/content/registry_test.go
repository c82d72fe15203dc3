package content

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vanish-drop/internal/apperr"
	"vanish-drop/internal/model"
)

var testItems = []model.MediaItem{
	{Kind: model.MediaPhoto, FileID: "f1"},
	{Kind: model.MediaVideo, FileID: "f2"},
}

func fixedNow() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func TestGenerateCode_IsURLSafeAnd64Bits(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 11)
		assert.Regexp(t, `^[A-Za-z0-9_-]+$`, code)
		require.False(t, seen[code])
		seen[code] = true
	}
}

func TestPublishLookupRoundTrip(t *testing.T) {
	r := NewRegistry()
	caption := "hello"

	b, err := r.Publish(testItems, &caption, 15, 1)
	require.NoError(t, err)

	got, ok := r.Lookup(b.Code)
	require.True(t, ok)
	assert.Equal(t, testItems, got.Items)
	require.NotNil(t, got.Caption)
	assert.Equal(t, "hello", *got.Caption)
	assert.Equal(t, 15, got.TTLSeconds)
	assert.Equal(t, int64(1), got.CreatedBy)
}

func TestPublish_BundleIsImmutable(t *testing.T) {
	r := NewRegistry()
	items := append([]model.MediaItem(nil), testItems...)
	caption := "orig"

	b, err := r.Publish(items, &caption, 10, 1)
	require.NoError(t, err)

	items[0].FileID = "mutated"
	caption = "mutated"
	got, _ := r.Lookup(b.Code)
	got.Items[1].FileID = "mutated too"

	again, _ := r.Lookup(b.Code)
	assert.Equal(t, "f1", again.Items[0].FileID)
	assert.Equal(t, "f2", again.Items[1].FileID)
	assert.Equal(t, "orig", *again.Caption)
}

func TestPublish_Validation(t *testing.T) {
	r := NewRegistry()

	_, err := r.Publish(nil, nil, 10, 1)
	assert.True(t, apperr.Is(err, apperr.KindProtocol))

	_, err = r.Publish(testItems, nil, 4, 1)
	assert.True(t, apperr.Is(err, apperr.KindPolicy))
	_, err = r.Publish(testItems, nil, 31, 1)
	assert.True(t, apperr.Is(err, apperr.KindPolicy))

	_, err = r.Publish([]model.MediaItem{{Kind: "audio", FileID: "x"}}, nil, 10, 1)
	assert.True(t, apperr.Is(err, apperr.KindProtocol))
}

func TestPublish_RegeneratesOnCollision(t *testing.T) {
	codes := []string{"dup", "dup", "fresh"}
	i := 0
	gen := func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}
	r := NewRegistryWith(gen, fixedNow)

	first, err := r.Publish(testItems, nil, 10, 1)
	require.NoError(t, err)
	second, err := r.Publish(testItems, nil, 10, 1)
	require.NoError(t, err)

	assert.Equal(t, "dup", first.Code)
	assert.Equal(t, "fresh", second.Code)
}

func TestPublish_ExhaustedCollisionsAreFatal(t *testing.T) {
	r := NewRegistryWith(func() (string, error) { return "same", nil }, fixedNow)
	_, err := r.Publish(testItems, nil, 10, 1)
	require.NoError(t, err)

	_, err = r.Publish(testItems, nil, 10, 1)
	assert.True(t, apperr.Is(err, apperr.KindFatal))
	assert.Equal(t, 1, r.Len())
}

func TestRevoke(t *testing.T) {
	r := NewRegistry()
	var revoked []string
	r.OnRevoke(func(code string) { revoked = append(revoked, code) })

	b, err := r.Publish(testItems, nil, 10, 1)
	require.NoError(t, err)

	assert.True(t, r.Revoke(b.Code))
	_, ok := r.Lookup(b.Code)
	assert.False(t, ok)
	assert.False(t, r.Revoke(b.Code))
	assert.Equal(t, []string{b.Code}, revoked)
}

func TestList_PaginatesNewestFirst(t *testing.T) {
	n := 0
	gen := func() (string, error) {
		n++
		return fmt.Sprintf("c%02d", n), nil
	}
	r := NewRegistryWith(gen, fixedNow)
	for i := 0; i < 25; i++ {
		caption := "x"
		var cp *string
		if i%2 == 0 {
			cp = &caption
		}
		_, err := r.Publish(testItems[:1], cp, 5+i%26, 1)
		require.NoError(t, err)
	}

	p := r.List(1, 10)
	require.Len(t, p.Items, 10)
	assert.Equal(t, 25, p.Total)
	assert.Equal(t, 3, p.Pages())
	assert.Equal(t, "c25", p.Items[0].Code)
	assert.True(t, p.Items[0].HasCaption)
	assert.Equal(t, 1, p.Items[0].ItemCount)

	p = r.List(3, 10)
	require.Len(t, p.Items, 5)
	assert.Equal(t, "c05", p.Items[0].Code)

	p = r.List(9, 10)
	assert.Empty(t, p.Items)

	p = r.List(1, 1000)
	assert.Equal(t, maxPageSize, p.PageSize)
}
