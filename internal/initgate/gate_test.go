package initgate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGate(t *testing.T) *Gate {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "state", "initialized"))
}

func TestEnsureInitialized_RunsSetupOnceAndWritesMarker(t *testing.T) {
	gate := testGate(t)
	calls := 0

	result, err := gate.EnsureInitialized(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Initialized, result)
	assert.Equal(t, 1, calls)

	set, err := gate.IsSet()
	require.NoError(t, err)
	assert.True(t, set)

	// Second call: marker present, setup must not run again.
	result, err = gate.EnsureInitialized(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, AlreadyInitialized, result)
	assert.Equal(t, 1, calls)
}

func TestEnsureInitialized_FailureWithholdsMarkerAndRetriesWhole(t *testing.T) {
	gate := testGate(t)
	boom := errors.New("schema creation failed")

	result, err := gate.EnsureInitialized(context.Background(), func(context.Context) error {
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, SetupFailed, result)
	assert.True(t, errors.Is(err, boom))

	set, err := gate.IsSet()
	require.NoError(t, err)
	assert.False(t, set, "marker must stay unset after failed setup")

	// Next startup re-attempts the full setup.
	calls := 0
	result, err = gate.EnsureInitialized(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, Initialized, result)
	assert.Equal(t, 1, calls)
}

func TestEnsureInitialized_CancelledBeforeSetup(t *testing.T) {
	gate := testGate(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result, err := gate.EnsureInitialized(ctx, func(context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, SetupFailed, result)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, calls)

	set, err := gate.IsSet()
	require.NoError(t, err)
	assert.False(t, set)
}

func TestEnsureInitialized_CancelledDuringSetupLeavesMarkerUnset(t *testing.T) {
	gate := testGate(t)
	ctx, cancel := context.WithCancel(context.Background())

	result, err := gate.EnsureInitialized(ctx, func(inner context.Context) error {
		cancel()
		return inner.Err()
	})
	require.Error(t, err)
	assert.Equal(t, SetupFailed, result)

	set, err := gate.IsSet()
	require.NoError(t, err)
	assert.False(t, set)
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "already-initialized", AlreadyInitialized.String())
	assert.Equal(t, "initialized", Initialized.String())
	assert.Equal(t, "setup-failed", SetupFailed.String())
}
