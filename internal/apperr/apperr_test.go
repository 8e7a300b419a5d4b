package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, Fatal, KindOf(cause))
	assert.Equal(t, Transient, KindOf(New(Transient, "history", cause)))

	wrapped := fmt.Errorf("process: %w", New(AuthExpired, "token", cause))
	assert.Equal(t, AuthExpired, KindOf(wrapped))
	assert.True(t, IsAuth(wrapped))
	assert.False(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}

func TestPredicatesOnNil(t *testing.T) {
	assert.False(t, IsAuth(nil))
	assert.False(t, IsTransient(nil))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "watch: auth_required", New(AuthRequired, "watch", nil).Error())
	assert.Equal(t, "list: transient: boom", New(Transient, "list", errors.New("boom")).Error())
}
