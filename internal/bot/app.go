package bot

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sait-ama/guild-pager-bot/internal/config"
	"github.com/sait-ama/guild-pager-bot/internal/db"
	"github.com/sait-ama/guild-pager-bot/internal/ghsync"
	"github.com/sait-ama/guild-pager-bot/internal/imaging"
	"github.com/sait-ama/guild-pager-bot/internal/links"
	"github.com/sait-ama/guild-pager-bot/internal/logging"
	"github.com/sait-ama/guild-pager-bot/internal/messenger"
	"github.com/sait-ama/guild-pager-bot/internal/metrics"
	"github.com/sait-ama/guild-pager-bot/internal/pager"
	"github.com/sait-ama/guild-pager-bot/internal/records"
	"github.com/sait-ama/guild-pager-bot/internal/scheduler"
)

const (
	pollTimeout = 30
	// keepSyncRuns bounds the ledger; older runs are pruned at startup.
	keepSyncRuns = 500

	avatarCacheMB  = 32
	avatarCacheTTL = 600
)

type pages interface {
	RenderPage(ctx context.Context, req pager.Request)
	HandleCallback(ctx context.Context, conv messenger.ConversationKey, messageID int, data string) bool
}

type syncer interface {
	Run(ctx context.Context, trigger ghsync.Trigger) (*ghsync.Run, error)
	Report(run *ghsync.Run) string
}

type runLedger interface {
	LastSyncRun(ctx context.Context) (db.SyncRun, bool, error)
}

type profiles interface {
	FindProfile(profileURL string) (records.Record, string, bool)
	MissingProfileFiles() []string
}

type imageFiles interface {
	File(path string) ([]byte, error)
}

type App struct {
	cfg *config.Config
	log zerolog.Logger

	db    *db.DB
	tg    *messenger.Telegram
	sched *scheduler.Scheduler
	syn   *ghsync.Synchronizer

	// Handlers only see these.
	client   messenger.Client
	pages    pages
	expirer  pager.Expirer
	syncer   syncer
	ledger   runLedger
	profiles profiles
	images   imageFiles
	links    *links.Links
	saves    *links.Saves
	username string
	pick     func(n int) int

	closeOnce sync.Once
}

// NewSynchronizer builds the snapshot synchronizer for the three dataset
// files. ledger may be nil.
func NewSynchronizer(cfg *config.Config, ledger ghsync.Ledger, m metrics.Recorder, log zerolog.Logger) *ghsync.Synchronizer {
	var files []ghsync.SnapshotFile
	for _, p := range []string{cfg.Data.HistoryEW, cfg.Data.HistoryED, cfg.Data.Top10} {
		name := filepath.Base(p)
		files = append(files, ghsync.SnapshotFile{
			Name:       name,
			LocalPath:  p,
			RemotePath: ghsync.RemotePath(cfg.GitHub.PathPrefix, name),
		})
	}
	remote := ghsync.NewGitHub(cfg.GitHub.APIURL, cfg.GitHub.Repo, cfg.GitHub.Branch, cfg.GitHub.Token,
		&http.Client{Timeout: 30 * time.Second})
	return ghsync.New(remote, ledger, m, logging.Component(log, "ghsync"), ghsync.Options{
		Repo:         cfg.GitHub.Repo,
		Branch:       cfg.GitHub.Branch,
		Files:        files,
		Interval:     cfg.GitHub.Interval,
		InitialDelay: cfg.GitHub.InitialDelay,
		Enabled:      cfg.SyncEnabled(),
	})
}

func New(cfg *config.Config, log zerolog.Logger, m metrics.Recorder) (*App, error) {
	if m == nil {
		m = metrics.Noop{}
	}
	if err := os.MkdirAll(cfg.Data.Dir, 0o750); err != nil {
		return nil, err
	}
	created, err := imaging.EnsurePlaceholder(cfg.Data.Placeholder)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Data.Placeholder).Msg("cannot write placeholder avatar")
	} else if created {
		log.Info().Str("path", cfg.Data.Placeholder).Msg("placeholder avatar created")
	}

	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	api.Debug = cfg.Telegram.Debug

	var limiter *rate.Limiter
	if cfg.Telegram.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Telegram.SendRate), cfg.Telegram.SendBurst)
	}
	tg := messenger.NewTelegram(api, limiter, m, logging.Component(log, "telegram"))
	sched := scheduler.New(tg, m, logging.Component(log, "scheduler"))
	store := imaging.NewStore(avatarCacheMB, avatarCacheTTL, logging.Component(log, "imaging"))
	loader := records.NewLoader(map[records.DatasetKey]string{
		records.DatasetEW:    cfg.Data.HistoryEW,
		records.DatasetED:    cfg.Data.HistoryED,
		records.DatasetTop10: cfg.Data.Top10,
	}, cfg.Data.ProfileFiles, logging.Component(log, "records"))
	pg := pager.New(tg, loader, store, sched, m, logging.Component(log, "pager"), pager.Options{
		PageSize:    cfg.Pager.PageSize,
		LongDelay:   cfg.Pager.LongDeleteDelay,
		ShortDelay:  cfg.Pager.ShortDeleteDelay,
		BaseDir:     cfg.Data.Dir,
		Placeholder: cfg.Data.Placeholder,
	})
	syn := NewSynchronizer(cfg, database, m, log)

	return &App{
		cfg:      cfg,
		log:      log,
		db:       database,
		tg:       tg,
		sched:    sched,
		syn:      syn,
		client:   tg,
		pages:    pg,
		expirer:  sched,
		syncer:   syn,
		ledger:   database,
		profiles: loader,
		images:   store,
		links:    links.NewLinks(cfg.Data.Links),
		saves:    links.NewSaves(cfg.Data.Saves),
		username: api.Self.UserName,
		pick:     randomIndex,
	}, nil
}

func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.syn != nil {
			a.syn.Stop()
		}
		if a.sched != nil {
			a.sched.Stop()
		}
		if a.db != nil {
			_ = a.db.Close()
		}
	})
}

// Run polls updates until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.log.Info().Str("username", a.username).Msg("bot authorized")

	if n, err := a.db.PruneSyncRuns(ctx, keepSyncRuns); err != nil {
		a.log.Warn().Err(err).Msg("prune sync ledger")
	} else if n > 0 {
		a.log.Info().Int64("removed", n).Msg("pruned sync ledger")
	}
	for _, p := range a.profiles.MissingProfileFiles() {
		a.log.Warn().Str("path", p).Msg("profile data file missing")
	}

	a.syn.Start()

	a.dispatch(ctx, a.tg.Updates(ctx, pollTimeout))
	return nil
}

// dispatch handles updates one at a time in arrival order until updates is
// closed.
func (a *App) dispatch(ctx context.Context, updates <-chan messenger.Update) {
	for upd := range updates {
		a.handleUpdate(ctx, upd)
	}
}

func (a *App) handleUpdate(ctx context.Context, upd messenger.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Int("update_id", upd.UpdateID).Msg("update handler panicked")
		}
	}()
	switch {
	case upd.CallbackQuery != nil:
		a.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		a.handleMessage(ctx, upd.Message)
	}
}

// handleCallback acknowledges the press before routing it.
func (a *App) handleCallback(ctx context.Context, q *messenger.Callback) {
	if err := a.client.AnswerCallback(ctx, q.ID); err != nil {
		a.log.Warn().Err(err).Str("callback_id", q.ID).Msg("answer callback")
	}
	if q.Message == nil {
		return
	}
	a.pages.HandleCallback(ctx, q.Message.Conv(), q.Message.MessageID, q.Data)
}

func (a *App) handleMessage(ctx context.Context, msg *messenger.Message) {
	if msg.Chat == nil {
		return
	}
	if msg.WebAppData != nil {
		if msg.Chat.IsPrivate() {
			a.handleWebAppData(ctx, msg)
		}
		return
	}

	if cmd, args, ok := parseCommand(msg.Text, a.username); ok {
		if !privateCommands[cmd] {
			return
		}
		if !msg.Chat.IsPrivate() {
			a.reply(ctx, msg, messenger.Text{Body: notPrivateText})
			return
		}
		a.handlePrivateCommand(ctx, msg, cmd, args)
		return
	}

	if key, ok := pagingCommand(msg.Text); ok {
		a.pages.RenderPage(ctx, pager.Request{
			Conv:            msg.Conv(),
			Dataset:         key,
			Page:            0,
			Trigger:         pager.Fresh,
			OriginMessageID: msg.MessageID,
		})
		return
	}

	a.handleStaticReply(ctx, msg)
}

// reply answers msg in its conversation. Failures are logged and reported as
// a zero id.
func (a *App) reply(ctx context.Context, msg *messenger.Message, text messenger.Text) int {
	text.ReplyTo = msg.MessageID
	id, err := a.client.SendText(ctx, msg.Conv(), text)
	if err != nil {
		a.log.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("reply failed")
		return 0
	}
	return id
}
