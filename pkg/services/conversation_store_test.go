package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

func TestConversationStore_AppendAndGetReturnsCopies(t *testing.T) {
	store := NewConversationStore()
	store.Append("alice", "how many orders?", models.CandidateQuery{SQL: "SELECT count(*) FROM orders", ReferencedTables: []string{"orders"}}, "sales@1")

	got := store.Get("alice")
	require.Len(t, got.PriorQuestions, 1)
	assert.Equal(t, "sales@1", got.LastSchemaSnapshotRef)

	got.PriorQuestions[0] = "mutated"
	got.PriorCandidateQueries[0].ReferencedTables[0] = "mutated"
	again := store.Get("alice")
	assert.Equal(t, "how many orders?", again.PriorQuestions[0])
	assert.Equal(t, []string{"orders"}, again.PriorCandidateQueries[0].ReferencedTables)

	assert.Empty(t, store.Get("bob").PriorQuestions)
	assert.Equal(t, "bob", store.Get("bob").UserID)
}

func TestConversationStore_KeepsFullHistory(t *testing.T) {
	store := NewConversationStore()
	for i := 0; i < 60; i++ {
		store.Append("u", fmt.Sprintf("q%d", i), models.CandidateQuery{SQL: fmt.Sprintf("SELECT %d", i)}, "")
	}
	got := store.Get("u")
	require.Len(t, got.PriorQuestions, 60)
	assert.Equal(t, "q0", got.PriorQuestions[0])
	assert.Equal(t, "SELECT 59", got.PriorCandidateQueries[59].SQL)

	turns := got.LastTurns(3)
	require.Len(t, turns, 3)
	assert.Equal(t, "q57", turns[0].Question)
	assert.Equal(t, "q59", turns[2].Question)
}

func TestConversationStore_LockSerializesPerUser(t *testing.T) {
	store := NewConversationStore()
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := store.Lock(context.Background(), "alice")
			require.NoError(t, err)
			defer unlock()
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestConversationStore_DifferentUsersDoNotBlock(t *testing.T) {
	store := NewConversationStore()
	unlockA, err := store.Lock(context.Background(), "alice")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := store.Lock(ctx, "bob")
	require.NoError(t, err)
	unlockB()
	unlockB()
}

func TestConversationStore_LockHonorsContext(t *testing.T) {
	store := NewConversationStore()
	unlock, err := store.Lock(context.Background(), "alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = store.Lock(ctx, "alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := store.Lock(context.Background(), "alice")
	require.NoError(t, err)
	unlock2()

	cs := store.(*conversationStore)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Empty(t, cs.locks, "lock entries are dropped once unused")
}
