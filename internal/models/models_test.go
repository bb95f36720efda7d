package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringArrayRoundTrip(t *testing.T) {
	arr := StringArray{"reddit", "x", "douyin"}

	value, err := arr.Value()
	require.NoError(t, err)

	var decoded StringArray
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, []string(arr), []string(decoded))
}

func TestStringArrayScanEmpty(t *testing.T) {
	var arr StringArray
	require.NoError(t, arr.Scan("{}"))
	assert.Empty(t, arr)

	require.NoError(t, arr.Scan(nil))
	assert.Empty(t, arr)
}

func TestStringArrayScanBytes(t *testing.T) {
	var arr StringArray
	require.NoError(t, arr.Scan([]byte(`{"a","b"}`)))
	assert.Equal(t, StringArray{"a", "b"}, arr)
}

func TestStringArrayScanUnsupported(t *testing.T) {
	var arr StringArray
	assert.Error(t, arr.Scan(42))
}

func TestStatusTerminal(t *testing.T) {
	for _, status := range TerminalStatuses() {
		assert.True(t, status.Terminal(), status)
	}
	assert.False(t, StatusScheduled.Terminal())
	assert.False(t, StatusRunning.Terminal())
}

func TestStatusValid(t *testing.T) {
	for _, status := range []Status{
		StatusScheduled, StatusRunning, StatusCompleted,
		StatusFailed, StatusPartialFailure, StatusCancelled,
	} {
		assert.True(t, status.Valid(), status)
	}
	assert.False(t, Status("bogus").Valid())
	assert.False(t, Status("").Valid())
}
