package changefeed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManager_PublishDeliversToMatchingFeed(t *testing.T) {
	m := NewManager()
	var got ChangeEvent
	m.Subscribe("all", "", nil, func(e ChangeEvent) { got = e })

	m.Publish(ChangeEvent{Table: "users", Key: []byte("1"), Operation: OpInsert, NewValue: []byte("a")})

	require.Equal(t, "users", got.Table)
	require.Equal(t, OpInsert, got.Operation)
}

func TestManager_TableFilterExcludesOtherTables(t *testing.T) {
	m := NewManager()
	var calls int
	m.Subscribe("users-only", "users", nil, func(ChangeEvent) { calls++ })

	m.Publish(ChangeEvent{Table: "orders", Operation: OpInsert})
	require.Zero(t, calls)

	m.Publish(ChangeEvent{Table: "users", Operation: OpInsert})
	require.Equal(t, 1, calls)
}

func TestManager_OperationFilterExcludesOtherOps(t *testing.T) {
	m := NewManager()
	var calls int
	m.Subscribe("deletes-only", "", []Operation{OpDelete}, func(ChangeEvent) { calls++ })

	m.Publish(ChangeEvent{Table: "users", Operation: OpInsert})
	require.Zero(t, calls)

	m.Publish(ChangeEvent{Table: "users", Operation: OpDelete})
	require.Equal(t, 1, calls)
}

func TestManager_UnsubscribeStopsDelivery(t *testing.T) {
	m := NewManager()
	var calls int
	m.Subscribe("feed", "", nil, func(ChangeEvent) { calls++ })

	require.True(t, m.Unsubscribe("feed"))
	require.False(t, m.Unsubscribe("feed"), "unsubscribing twice reports the feed no longer exists")

	m.Publish(ChangeEvent{Table: "users", Operation: OpInsert})
	require.Zero(t, calls)
}

func TestManager_ResubscribingReplacesTheFeed(t *testing.T) {
	m := NewManager()
	m.Subscribe("feed", "users", nil, func(ChangeEvent) {})
	m.Subscribe("feed", "orders", nil, func(ChangeEvent) {})

	require.ElementsMatch(t, []string{"feed"}, m.Feeds())

	var calls int
	m.Subscribe("feed", "orders", nil, func(ChangeEvent) { calls++ })
	m.Publish(ChangeEvent{Table: "users", Operation: OpInsert})
	require.Zero(t, calls, "the replaced subscription's old table filter must no longer apply")
}
