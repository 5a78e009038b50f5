package delta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(entityID string) map[string]any {
	return map[string]any{"entity_id": entityID}
}

func subscription(ids ...string) map[string]struct{} {
	sub := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		sub[id] = struct{}{}
	}
	return sub
}

func TestLog_AppendAssignsIncreasingCursors(t *testing.T) {
	log := NewLog(10)

	assert.Equal(t, uint64(1), log.Append("light.a", payload("light.a")))
	assert.Equal(t, uint64(2), log.Append("light.b", payload("light.b")))
	assert.Equal(t, uint64(3), log.Append("light.a", payload("light.a")))
	assert.Equal(t, uint64(3), log.Cursor())
}

func TestLog_RingBound(t *testing.T) {
	log := NewLog(5)

	// N+k ingests leave the oldest retained cursor at k+1.
	for i := 0; i < 8; i++ {
		log.Append("light.a", payload("light.a"))
	}

	oldest, ok := log.OldestCursor()
	require.True(t, ok)
	assert.Equal(t, uint64(4), oldest)
	assert.Equal(t, uint64(8), log.Cursor())
}

func TestLog_OldestCursorEmpty(t *testing.T) {
	log := NewLog(5)

	_, ok := log.OldestCursor()
	assert.False(t, ok)
}

func TestLog_CollectFiltersAndOrders(t *testing.T) {
	log := NewLog(10)
	log.Append("light.a", payload("light.a"))
	log.Append("sensor.x", payload("sensor.x"))
	log.Append("light.a", payload("light.a"))
	log.Append("light.b", payload("light.b"))

	events, nextMatched, nextScanned := log.Collect(0, subscription("light.a"), 250)

	require.Len(t, events, 2)
	assert.Equal(t, "light.a", events[0]["entity_id"])
	assert.Equal(t, "light.a", events[1]["entity_id"])
	assert.Equal(t, uint64(3), nextMatched)
	assert.Equal(t, uint64(4), nextScanned)
}

func TestLog_CollectHonorsSince(t *testing.T) {
	log := NewLog(10)
	for i := 0; i < 5; i++ {
		log.Append("light.a", payload("light.a"))
	}

	events, nextMatched, _ := log.Collect(3, subscription("light.a"), 250)

	require.Len(t, events, 2)
	assert.Equal(t, uint64(5), nextMatched)
}

func TestLog_CollectLimitStopsAtLastDelivered(t *testing.T) {
	log := NewLog(10)
	for i := 0; i < 6; i++ {
		log.Append("light.a", payload("light.a"))
	}

	events, nextMatched, nextScanned := log.Collect(0, subscription("light.a"), 4)

	require.Len(t, events, 4)
	assert.Equal(t, uint64(4), nextMatched)
	// The scan stops at the capped event so nothing is skipped next round.
	assert.Equal(t, uint64(4), nextScanned)
}

func TestLog_CollectAdvancesScannedPastSilentBurst(t *testing.T) {
	log := NewLog(10)
	log.Append("sensor.x", payload("sensor.x"))
	log.Append("sensor.y", payload("sensor.y"))

	events, nextMatched, nextScanned := log.Collect(0, subscription("light.a"), 250)

	assert.Empty(t, events)
	assert.Equal(t, uint64(0), nextMatched)
	assert.Equal(t, uint64(2), nextScanned)
}

func TestLog_GenerationWakesOnAppend(t *testing.T) {
	log := NewLog(10)

	gen, wake := log.Generation()
	assert.Equal(t, uint64(0), gen)

	log.Append("light.a", payload("light.a"))

	select {
	case <-wake:
	default:
		t.Fatal("notify channel not closed after append")
	}

	gen, _ = log.Generation()
	assert.Equal(t, uint64(1), gen)
}

func TestLog_EventsPerMinute(t *testing.T) {
	log := NewLog(10)
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return current }

	log.Append("light.a", payload("light.a"))
	log.Append("light.a", payload("light.a"))

	current = current.Add(2 * time.Minute)
	log.Append("light.a", payload("light.a"))

	assert.Equal(t, 1.0, log.EventsPerMinute())
}
