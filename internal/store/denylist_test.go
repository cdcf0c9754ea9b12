package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDenylistAddContainsCaseInsensitive(t *testing.T) {
	d := NewDenylist()
	d.Add("Blocked.Test")
	require.True(t, d.Contains("blocked.test"))
	require.True(t, d.Contains("BLOCKED.TEST"))
}

func TestDenylistAddRemoveRoundTrip(t *testing.T) {
	d := NewDenylist()
	before := d.Enumerate()

	d.Add("blocked.test")
	require.True(t, d.Contains("blocked.test"))
	d.Remove("blocked.test")
	require.False(t, d.Contains("blocked.test"))

	require.ElementsMatch(t, before, d.Enumerate())
}

func TestDenylistPurge(t *testing.T) {
	d := NewDenylist()
	d.Add("a.test")
	d.Add("b.test")
	d.Purge()
	require.Equal(t, 0, d.Size())
}

func TestDenylistReplaceAll(t *testing.T) {
	d := NewDenylist()
	d.Add("stale.test")
	d.ReplaceAll([]string{"fresh.test", "Also-Fresh.test"})

	require.False(t, d.Contains("stale.test"))
	require.True(t, d.Contains("fresh.test"))
	require.True(t, d.Contains("also-fresh.test"))
}
