package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecentHistoryWindow(t *testing.T) {
	s := New("sess-1", "book a flight", 10, 1920, 1080)
	for i := 1; i <= 5; i++ {
		s.Append(IterationRecord{Iteration: i, Timestamp: time.Now()})
	}

	recent := s.RecentHistory(2)
	assert.Len(t, recent, 2)
	assert.Equal(t, 4, recent[0].Iteration)
	assert.Equal(t, 5, recent[1].Iteration)
}

func TestRecentHistoryShorterThanWindow(t *testing.T) {
	s := New("sess-1", "goal", 10, 1920, 1080)
	s.Append(IterationRecord{Iteration: 1, Timestamp: time.Now()})

	assert.Len(t, s.RecentHistory(2), 1)
}

func TestTerminalStates(t *testing.T) {
	s := New("sess-1", "goal", 10, 1920, 1080)
	assert.False(t, s.Terminal())

	s.State = StateCompleted
	assert.True(t, s.Terminal())
}
