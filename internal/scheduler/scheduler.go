package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sait-ama/guild-pager-bot/internal/messenger"
	"github.com/sait-ama/guild-pager-bot/internal/metrics"
)

// deleteTimeout bounds one batch of deletes once its timer fires.
const deleteTimeout = 30 * time.Second

// Scheduler expires messages after a delay. Every Schedule call arms its own
// one-shot timer; there is no cancellation.
type Scheduler struct {
	del     messenger.Deleter
	metrics metrics.Recorder
	log     zerolog.Logger

	afterFunc func(time.Duration, func())

	mu      sync.Mutex
	closed  bool
	pending int
	wg      sync.WaitGroup
}

func New(del messenger.Deleter, m metrics.Recorder, log zerolog.Logger) *Scheduler {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Scheduler{
		del:     del,
		metrics: m,
		log:     log,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Schedule deletes ids from chatID after delay. Overlapping schedules for the
// same id are allowed; the second delete simply finds nothing.
func (s *Scheduler) Schedule(chatID int64, ids []int, delay time.Duration) {
	if len(ids) == 0 {
		return
	}
	batch := append([]int(nil), ids...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending++
	s.mu.Unlock()

	s.afterFunc(delay, func() { s.fire(chatID, batch) })
}

func (s *Scheduler) fire(chatID int64, ids []int) {
	s.mu.Lock()
	s.pending--
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	for _, id := range ids {
		err := s.del.DeleteMessage(ctx, chatID, id)
		switch {
		case err == nil:
			s.metrics.IncDeleted(true)
		case errors.Is(err, messenger.ErrMessageGone):
			s.metrics.IncDeleted(true)
			s.log.Debug().Int64("chat_id", chatID).Int("message_id", id).Msg("message already gone")
		default:
			s.metrics.IncDeleted(false)
			s.log.Warn().Err(err).Int64("chat_id", chatID).Int("message_id", id).Msg("delete failed")
		}
	}
}

// Pending reports armed timers that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stop drops timers that fire from now on and waits for deletions already
// in progress.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
