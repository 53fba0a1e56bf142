package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sait-ama/guild-pager-bot/internal/messenger"
)

type fakeDeleter struct {
	mu      sync.Mutex
	deleted []int
	fail    map[int]error
}

func (f *fakeDeleter) DeleteMessage(_ context.Context, _ int64, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[id]; ok {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type timer struct {
	delay time.Duration
	fn    func()
}

type fakeClock struct {
	mu     sync.Mutex
	timers []timer
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) {
	c.mu.Lock()
	c.timers = append(c.timers, timer{d, f})
	c.mu.Unlock()
}

func (c *fakeClock) fireAll() {
	c.mu.Lock()
	ts := c.timers
	c.timers = nil
	c.mu.Unlock()
	for _, t := range ts {
		t.fn()
	}
}

func newTestScheduler(del messenger.Deleter) (*Scheduler, *fakeClock) {
	s := New(del, nil, zerolog.Nop())
	clock := &fakeClock{}
	s.afterFunc = clock.afterFunc
	return s, clock
}

func TestSchedule_DeletesAfterDelay(t *testing.T) {
	del := &fakeDeleter{}
	s, clock := newTestScheduler(del)

	ids := []int{1, 2, 3}
	s.Schedule(10, ids, 300*time.Second)
	ids[0] = 99

	require.Len(t, clock.timers, 1)
	assert.Equal(t, 300*time.Second, clock.timers[0].delay)
	assert.Equal(t, 1, s.Pending())
	assert.Empty(t, del.deleted)

	clock.fireAll()
	assert.Equal(t, []int{1, 2, 3}, del.deleted)
	assert.Equal(t, 0, s.Pending())
}

func TestSchedule_FailuresDoNotStopBatch(t *testing.T) {
	del := &fakeDeleter{fail: map[int]error{
		1: fmt.Errorf("delete 1: %w", messenger.ErrMessageGone),
		2: errors.New("not enough rights"),
	}}
	s, clock := newTestScheduler(del)

	s.Schedule(10, []int{1, 2, 3}, time.Second)
	clock.fireAll()
	assert.Equal(t, []int{3}, del.deleted)
}

func TestSchedule_OverlappingIDs(t *testing.T) {
	del := &fakeDeleter{}
	s, clock := newTestScheduler(del)

	s.Schedule(10, []int{5, 6}, time.Second)
	s.Schedule(10, []int{5, 6}, 300*time.Second)
	assert.Equal(t, 2, s.Pending())
	clock.fireAll()
	assert.Equal(t, []int{5, 6, 5, 6}, del.deleted)
}

func TestSchedule_EmptyIsNoop(t *testing.T) {
	s, clock := newTestScheduler(&fakeDeleter{})
	s.Schedule(10, nil, time.Second)
	assert.Empty(t, clock.timers)
	assert.Equal(t, 0, s.Pending())
}

func TestStop_DropsLaterTimers(t *testing.T) {
	del := &fakeDeleter{}
	s, clock := newTestScheduler(del)

	s.Schedule(10, []int{1}, time.Second)
	s.Stop()
	clock.fireAll()
	s.Schedule(10, []int{2}, time.Second)

	assert.Empty(t, del.deleted)
	assert.Empty(t, clock.timers)
}

func TestSchedule_RealTimer(t *testing.T) {
	del := &fakeDeleter{}
	s := New(del, nil, zerolog.Nop())
	s.Schedule(1, []int{7}, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		del.mu.Lock()
		defer del.mu.Unlock()
		return len(del.deleted) == 1
	}, time.Second, 5*time.Millisecond)
}
