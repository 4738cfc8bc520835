package history

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parley/internal/domain"
)

func record(id string, at time.Time) domain.TurnRecord {
	return domain.TurnRecord{ID: id, RequestedAt: at, RespondedAt: at.Add(time.Millisecond)}
}

func TestAppendPreservesOrder(t *testing.T) {
	s := NewStore()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		s.Append(record(id, base.Add(time.Duration(i)*time.Second)))
	}

	got := s.Records()
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "c", got[2].ID)
	for i := 0; i+1 < len(got); i++ {
		require.False(t, got[i+1].RequestedAt.Before(got[i].RequestedAt))
	}
}

func TestRecordsReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Append(record("a", time.Now()))

	got := s.Records()
	got[0].ID = "mutated"
	require.Equal(t, "a", s.Records()[0].ID)
}

func TestLoadExternalBeforeAppend(t *testing.T) {
	s := NewStore()
	now := time.Now()
	require.NoError(t, s.LoadExternal([]domain.TurnRecord{record("old-1", now), record("old-2", now)}))
	require.Equal(t, 2, s.Len())

	// Replacing again is still allowed while nothing was appended.
	require.NoError(t, s.LoadExternal([]domain.TurnRecord{record("old-3", now)}))
	require.Equal(t, 1, s.Len())

	s.Append(record("live", now))
	require.ErrorIs(t, s.LoadExternal(nil), domain.ErrHistoryAlreadyActive)
	require.Equal(t, 2, s.Len())
}

func TestConcurrentAppendNeverLoses(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(record("x", time.Now()))
		}()
	}
	wg.Wait()
	require.Equal(t, 50, s.Len())
}

func TestLastReplySkipsFailedTurns(t *testing.T) {
	s := NewStore()
	_, ok := s.LastReply()
	require.False(t, ok)

	s.Append(domain.TurnRecord{ID: "a", BotReply: "first", Outcome: domain.Outcome{Kind: domain.OutcomeOK}})
	s.Append(domain.TurnRecord{ID: "b", Outcome: domain.Outcome{Kind: domain.OutcomeCancelled}})

	reply, ok := s.LastReply()
	require.True(t, ok)
	require.Equal(t, "first", reply)
}
