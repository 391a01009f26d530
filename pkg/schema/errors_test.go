package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGraphError_Message(t *testing.T) {
	err := NewError(ErrCodeValidation, "phase id is required")
	assert.Equal(t, "[VALIDATION_ERROR] phase id is required", err.Error())

	err = NewErrorf(ErrCodeNotFound, "template %q not found", "qa").WithPhase("7")
	assert.Equal(t, `[NOT_FOUND] phase 7: template "qa" not found`, err.Error())
}

func TestGraphError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodeStore, "save positions").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, NewError(ErrCodeStore, "other message"))
	assert.NotErrorIs(t, err, NewError(ErrCodeNotFound, ""))
}

func TestCodeOf(t *testing.T) {
	base := NewError(ErrCodePermissionDenied, "built-in workflow")
	wrapped := fmt.Errorf("save layout: %w", base)

	assert.Equal(t, ErrCodePermissionDenied, CodeOf(base))
	assert.Equal(t, ErrCodePermissionDenied, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}
