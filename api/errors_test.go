package api_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hipiol/api"
)

func TestErrorContextKeepsIdentity(t *testing.T) {
	err := api.ErrCapacityExceeded.WithContext("limit", 10)
	require.ErrorIs(t, err, api.ErrCapacityExceeded)
	assert.NotErrorIs(t, err, api.ErrAlreadySet)
	assert.Contains(t, err.Error(), "limit")

	// the sentinel itself is never mutated
	assert.Empty(t, api.ErrCapacityExceeded.Context)
}

func TestCodeOfWrapped(t *testing.T) {
	wrapped := fmt.Errorf("start: %w", api.ErrNotReady.WithContext("listening", false))
	assert.Equal(t, api.ErrCodeNotReady, api.CodeOf(wrapped))
	assert.Equal(t, api.ErrCodeOK, api.CodeOf(nil))
	assert.Equal(t, api.ErrCodeInternal, api.CodeOf(errors.New("boom")))
}

func TestClientString(t *testing.T) {
	assert.Equal(t, "client#3/7", api.Client{Index: 3, Generation: 7}.String())
	assert.Equal(t, "receiving", api.SlotReceiving.String())
}
