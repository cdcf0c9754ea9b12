package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteLogBackendAppendList(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	backend, err := OpenSQLiteLogBackend(dbPath)
	require.NoError(t, err)
	defer backend.Close()

	l := NewLog(backend, nil)
	l.Append("1.2.3.4:5", "http://a.test/", ActionFetched)
	l.Append("1.2.3.4:5", "http://b.test/", ActionBlocked)

	events, err := backend.List(t.Context())
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, ActionFetched, events[0].Action)
}

func TestSQLiteLogBackendClear(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "events.db")
	backend, err := OpenSQLiteLogBackend(dbPath)
	require.NoError(t, err)
	defer backend.Close()

	l := NewLog(backend, nil)
	l.Append("1.2.3.4:5", "http://a.test/", ActionFetched)
	l.Purge()

	events, err := backend.List(t.Context())
	require.NoError(t, err)
	require.Empty(t, events)
}
