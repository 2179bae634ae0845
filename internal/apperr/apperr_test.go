package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"ticketing-core/internal/apperr"
)

var errSample = apperr.Conflict("sample_conflict", "sample conflict")

func TestWrappedSentinelStillMatches(t *testing.T) {
	cause := errors.New("row locked")
	err := fmt.Errorf("reserve: %w", apperr.Wrap(errSample, cause))

	assert.True(t, errors.Is(err, errSample))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, "sample_conflict", apperr.CodeOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, "internal_error", apperr.CodeOf(err))
}

func TestDifferentCodesDoNotMatch(t *testing.T) {
	other := apperr.Conflict("other", "other conflict")

	assert.False(t, errors.Is(errSample, other))
}
