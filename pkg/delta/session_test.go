package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTable_TouchCreatesUnsynced(t *testing.T) {
	table := NewSessionTable(SessionTTL)

	s := table.Touch("w1", "hash1", nil)

	assert.False(t, s.EntitiesSynced)
	assert.Empty(t, s.Entities)
	assert.Equal(t, "hash1", s.ConfigHash)
}

func TestSessionTable_EntitiesSupplied(t *testing.T) {
	table := NewSessionTable(SessionTTL)

	s := table.Touch("w1", "hash1", []string{"light.a", "sensor.x", ""})

	assert.True(t, s.EntitiesSynced)
	assert.Len(t, s.Entities, 2)
	assert.Contains(t, s.Entities, "light.a")
	assert.NotContains(t, s.Entities, "")
}

func TestSessionTable_EmptyListIsStillSynced(t *testing.T) {
	table := NewSessionTable(SessionTTL)

	s := table.Touch("w1", "hash1", []string{})

	assert.True(t, s.EntitiesSynced)
	assert.Empty(t, s.Entities)
}

func TestSessionTable_ConfigHashChangeClearsSubscription(t *testing.T) {
	table := NewSessionTable(SessionTTL)
	table.Touch("w1", "hash1", []string{"light.a"})

	s := table.Touch("w1", "hash2", nil)

	assert.False(t, s.EntitiesSynced)
	assert.Empty(t, s.Entities)
	assert.Equal(t, "hash2", s.ConfigHash)
}

func TestSessionTable_SameHashKeepsSubscription(t *testing.T) {
	table := NewSessionTable(SessionTTL)
	table.Touch("w1", "hash1", []string{"light.a"})

	s := table.Touch("w1", "hash1", nil)

	assert.True(t, s.EntitiesSynced)
	assert.Contains(t, s.Entities, "light.a")
}

func TestSessionTable_Prune(t *testing.T) {
	table := NewSessionTable(time.Minute)
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	table.now = func() time.Time { return current }

	table.Touch("stale", "h", []string{"light.a"})
	current = current.Add(2 * time.Minute)
	table.Touch("fresh", "h", []string{"light.a"})

	dropped := table.Prune()

	assert.Equal(t, 1, dropped)
	assert.Nil(t, table.Subscription("stale"))
	require.NotNil(t, table.Subscription("fresh"))
}

func TestSessionTable_CountExcludesDiagnosticProbes(t *testing.T) {
	table := NewSessionTable(SessionTTL)

	table.Touch("w1", "h", nil)
	table.Touch("__probe__", "h", nil)
	table.Touch("__x__", "h", nil)

	assert.Equal(t, 1, table.Count())
}

func TestSessionTable_ProbeDetection(t *testing.T) {
	assert.True(t, isDiagnosticProbe("__x__"))
	assert.True(t, isDiagnosticProbe("__probe__"))
	assert.False(t, isDiagnosticProbe("__half"))
	assert.False(t, isDiagnosticProbe("half__"))
	assert.False(t, isDiagnosticProbe("plain"))
	assert.False(t, isDiagnosticProbe("___"))
}

func TestSessionTable_SubscriptionIsASnapshot(t *testing.T) {
	table := NewSessionTable(SessionTTL)
	table.Touch("w1", "h", []string{"light.a"})

	sub := table.Subscription("w1")
	sub["light.b"] = struct{}{}

	assert.NotContains(t, table.Subscription("w1"), "light.b")
}

func TestSessionTable_Clear(t *testing.T) {
	table := NewSessionTable(SessionTTL)
	table.Touch("w1", "h", []string{"light.a"})
	table.Touch("w2", "h", []string{"light.a"})

	table.Clear()

	assert.Equal(t, 0, table.Count())
	assert.Nil(t, table.Subscription("w1"))
}
