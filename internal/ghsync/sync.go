package ghsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sait-ama/guild-pager-bot/internal/db"
	"github.com/sait-ama/guild-pager-bot/internal/metrics"
	"github.com/sait-ama/guild-pager-bot/internal/utils"
)

const (
	DisabledText = "GITHUB_TOKEN не задан — выгрузка пропущена."
	reportHeader = "Синхронизация с GitHub:"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrDisabled       = errors.New("github sync is not configured")
)

type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
)

type Outcome string

const (
	OutcomePushed      Outcome = "pushed"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeFailedRead  Outcome = "failed-read"
	OutcomeFailedWrite Outcome = "failed-write"
	OutcomeConflict    Outcome = "conflict"
)

func (o Outcome) OK() bool {
	return o == OutcomePushed || o == OutcomeUnchanged
}

// SnapshotFile is a local JSON file mirrored at RemotePath.
type SnapshotFile struct {
	Name       string
	LocalPath  string
	RemotePath string
}

// RemotePath joins name onto a slash separated prefix.
func RemotePath(prefix, name string) string {
	prefix = strings.Trim(strings.ReplaceAll(strings.TrimSpace(prefix), "\\", "/"), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

type FileResult struct {
	File    SnapshotFile
	Outcome Outcome
	Err     error
}

type Run struct {
	ID         string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []FileResult
}

type Ledger interface {
	RecordSyncRun(ctx context.Context, run db.SyncRun) (string, error)
}

type Options struct {
	Repo         string
	Branch       string
	Files        []SnapshotFile
	Interval     time.Duration
	InitialDelay time.Duration
	// Enabled is false when no token is configured.
	Enabled bool
}

// Synchronizer pushes snapshot files to a Remote. Runs never overlap.
type Synchronizer struct {
	remote  Remote
	ledger  Ledger
	metrics metrics.Recorder
	log     zerolog.Logger
	opts    Options

	running atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Synchronizer. ledger may be nil.
func New(remote Remote, ledger Ledger, m metrics.Recorder, log zerolog.Logger, opts Options) *Synchronizer {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Synchronizer{
		remote:  remote,
		ledger:  ledger,
		metrics: m,
		log:     log,
		opts:    opts,
		stopCh:  make(chan struct{}),
	}
}

// Run pushes every configured file once. It returns ErrSyncInProgress without
// touching any file when another run is active.
func (s *Synchronizer) Run(ctx context.Context, trigger Trigger) (*Run, error) {
	if !s.opts.Enabled {
		s.log.Warn().Str("trigger", string(trigger)).Msg(DisabledText)
		return nil, ErrDisabled
	}
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.IncSyncRun(string(trigger), true)
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)
	s.metrics.IncSyncRun(string(trigger), false)

	run := &Run{ID: uuid.NewString(), Trigger: trigger, StartedAt: utils.NowUTC()}
	for _, f := range s.opts.Files {
		res := s.syncFile(ctx, f)
		s.metrics.IncSyncFile(string(res.Outcome))
		if res.Err != nil {
			s.log.Warn().Err(res.Err).Str("file", f.Name).Str("outcome", string(res.Outcome)).Msg("snapshot not pushed")
		}
		run.Results = append(run.Results, res)
	}
	run.FinishedAt = utils.NowUTC()
	s.metrics.ObserveSyncDuration(run.FinishedAt.Sub(run.StartedAt))

	s.log.Info().Str("run_id", run.ID).Str("trigger", string(trigger)).Msg(s.Report(run))
	s.record(ctx, run)
	return run, nil
}

func (s *Synchronizer) syncFile(ctx context.Context, f SnapshotFile) FileResult {
	res := FileResult{File: f}
	content, err := os.ReadFile(f.LocalPath)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailedRead, err
		return res
	}

	sha, err := s.remote.GetSHA(ctx, f.RemotePath)
	switch {
	case errors.Is(err, ErrNotFound):
		sha = ""
	case err != nil:
		res.Outcome, res.Err = OutcomeFailedWrite, err
		return res
	}
	if sha != "" && sha == BlobSHA(content) {
		res.Outcome = OutcomeUnchanged
		return res
	}

	msg := fmt.Sprintf("auto: update %s at %s", f.Name, utils.ISOTimestamp(utils.NowUTC()))
	err = s.remote.Put(ctx, f.RemotePath, content, msg, sha)
	switch {
	case err == nil:
		res.Outcome = OutcomePushed
	case errors.Is(err, ErrConflict):
		res.Outcome, res.Err = OutcomeConflict, err
	default:
		res.Outcome, res.Err = OutcomeFailedWrite, err
	}
	return res
}

func (s *Synchronizer) record(ctx context.Context, run *Run) {
	if s.ledger == nil {
		return
	}
	entry := db.SyncRun{
		ID:         run.ID,
		Trigger:    string(run.Trigger),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	for _, r := range run.Results {
		f := db.SyncFile{Name: r.File.Name, RemotePath: r.File.RemotePath, Outcome: string(r.Outcome)}
		if r.Err != nil {
			f.Error = r.Err.Error()
		}
		entry.Files = append(entry.Files, f)
	}
	if _, err := s.ledger.RecordSyncRun(ctx, entry); err != nil {
		s.log.Error().Err(err).Str("run_id", run.ID).Msg("record sync run")
	}
}

// Report renders one line per file under a fixed header.
func (s *Synchronizer) Report(run *Run) string {
	lines := []string{reportHeader}
	for _, r := range run.Results {
		lines = append(lines, s.resultLine(r))
	}
	return strings.Join(lines, "\n")
}

func (s *Synchronizer) resultLine(r FileResult) string {
	dst := fmt.Sprintf("%s -> %s:%s/%s", r.File.Name, s.opts.Repo, s.opts.Branch, r.File.RemotePath)
	switch r.Outcome {
	case OutcomePushed:
		return "✅ " + dst
	case OutcomeUnchanged:
		return "✅ " + dst + " (без изменений)"
	case OutcomeFailedRead:
		return fmt.Sprintf("❌ %s: не прочитан %s", r.File.Name, r.File.LocalPath)
	case OutcomeConflict:
		return "❌ " + dst + " (конфликт версий)"
	default:
		return "❌ " + dst
	}
}

// Start runs the periodic loop: once after the initial delay, then every
// interval until Stop.
func (s *Synchronizer) Start() {
	if !s.opts.Enabled {
		s.log.Warn().Msg(DisabledText)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}

func (s *Synchronizer) loop(ctx context.Context) {
	wait := s.opts.InitialDelay
	for {
		select {
		case <-time.After(wait):
		case <-s.stopCh:
			return
		}
		if _, err := s.Run(ctx, TriggerPeriodic); err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				s.log.Debug().Msg("periodic sync skipped, previous run still active")
			} else {
				s.log.Error().Err(err).Msg("periodic sync failed")
			}
		}
		wait = s.opts.Interval
	}
}
