package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDismissalRecordLifecycle(t *testing.T) {
	store := NewMemoryStateStore()
	defer store.Close()

	dismissed, err := store.DismissedVersion()
	require.NoError(t, err)
	assert.Empty(t, dismissed)

	require.NoError(t, store.SetDismissedVersion("2.3.0"))
	dismissed, err = store.DismissedVersion()
	require.NoError(t, err)
	assert.Equal(t, "2.3.0", dismissed)

	// a newer dismissal overwrites the old one
	require.NoError(t, store.SetDismissedVersion("2.4.0"))
	dismissed, err = store.DismissedVersion()
	require.NoError(t, err)
	assert.Equal(t, "2.4.0", dismissed)

	require.NoError(t, store.ClearDismissedVersion())
	dismissed, err = store.DismissedVersion()
	require.NoError(t, err)
	assert.Empty(t, dismissed)

	// clearing an already-clear record is fine
	require.NoError(t, store.ClearDismissedVersion())
}

func TestThemePreference(t *testing.T) {
	store := NewMemoryStateStore()
	defer store.Close()

	theme, err := store.Theme()
	require.NoError(t, err)
	assert.Empty(t, theme)

	require.NoError(t, store.SetTheme("dark"))
	theme, err = store.Theme()
	require.NoError(t, err)
	assert.Equal(t, "dark", theme)
}

func TestStateStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStateStore(dir + "/state")
	require.NoError(t, err)

	require.NoError(t, store.SetDismissedVersion("1.0.7"))
	require.NoError(t, store.Close())

	// the record survives a reopen, like a page reload
	store, err = OpenStateStore(dir + "/state")
	require.NoError(t, err)
	defer store.Close()
	dismissed, err := store.DismissedVersion()
	require.NoError(t, err)
	assert.Equal(t, "1.0.7", dismissed)
}
