package apperr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(Transient("send", errors.New("timeout"))))
	assert.Equal(t, KindPolicy, KindOf(Policy("access", "rate limited")))
	assert.Equal(t, KindProtocol, KindOf(Protocol("upload", "bad state")))
	assert.Equal(t, KindFatal, KindOf(Fatal("publish", errors.New("dup"))))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindOf_Wrapped(t *testing.T) {
	err := errors.Wrap(Protocol("upload", "finish on empty session"), "handler")
	assert.True(t, Is(err, KindProtocol))
	assert.Equal(t, "finish on empty session", Message(err))
}

func TestIsUnreachable(t *testing.T) {
	err := Transient("send", errors.Wrap(ErrUnreachable, "403"))
	assert.True(t, IsUnreachable(err))
	assert.False(t, IsUnreachable(Transient("send", errors.New("timeout"))))
}
