package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeKiller struct {
	mu     sync.Mutex
	killed bool
}

func (f *fakeKiller) KillAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
}

func (f *fakeKiller) wasKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

func TestRunExecutesHandlersInLIFOOrder(t *testing.T) {
	k := &fakeKiller{}
	m := New(k, nil)

	var order []int
	var mu sync.Mutex
	record := func(n int) Handler {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return nil
		}
	}

	m.Register(record(1))
	m.Register(record(2))
	m.Register(record(3))

	m.Run()

	assert.Equal(t, []int{3, 2, 1}, order)
	assert.False(t, k.wasKilled())
}

func TestRunIsIdempotent(t *testing.T) {
	k := &fakeKiller{}
	m := New(k, nil)

	calls := 0
	m.Register(func(ctx context.Context) error {
		calls++
		return nil
	})

	m.Run()
	m.Run()

	assert.Equal(t, 1, calls)
}

func TestRunFallsBackToEmergencyKillOnPanic(t *testing.T) {
	k := &fakeKiller{}
	m := New(k, nil)

	m.Register(func(ctx context.Context) error {
		panic("boom")
	})

	m.Run()

	assert.True(t, k.wasKilled())
}

func TestRunFallsBackToEmergencyKillOnBudgetExceeded(t *testing.T) {
	k := &fakeKiller{}
	m := New(k, nil).WithBudget(10 * time.Millisecond)

	m.Register(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	m.Run()

	assert.True(t, k.wasKilled())
}

func TestEmergencyKillToleratesNilKiller(t *testing.T) {
	m := New(nil, nil)
	assert.NotPanics(t, func() { m.EmergencyKill() })
}
