package pager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sait-ama/guild-pager-bot/internal/messenger"
	"github.com/sait-ama/guild-pager-bot/internal/metrics"
	"github.com/sait-ama/guild-pager-bot/internal/records"
	"github.com/sait-ama/guild-pager-bot/internal/render"
)

// MaxGroupSize is the platform limit for one media group.
const MaxGroupSize = 10

type Trigger int

const (
	// Fresh is an explicit paging command typed by a user.
	Fresh Trigger = iota
	// Navigate is a press on a navigation button of an existing page.
	Navigate
)

func (t Trigger) String() string {
	if t == Navigate {
		return "navigate"
	}
	return "fresh"
}

type Request struct {
	Conv    messenger.ConversationKey
	Dataset records.DatasetKey
	Page    int
	Trigger Trigger
	// OriginMessageID is the command message for Fresh and the message
	// carrying the pressed button for Navigate.
	OriginMessageID int
}

type Datasets interface {
	Load(key records.DatasetKey) []records.Record
}

type Avatars interface {
	Avatar(path, placeholder string) []byte
}

type Expirer interface {
	Schedule(chatID int64, ids []int, delay time.Duration)
}

type Options struct {
	PageSize    int
	LongDelay   time.Duration
	ShortDelay  time.Duration
	BaseDir     string
	Placeholder string
}

// Controller owns the messages currently shown per conversation.
type Controller struct {
	client  messenger.Client
	data    Datasets
	avatars Avatars
	expirer Expirer
	metrics metrics.Recorder
	log     zerolog.Logger
	opts    Options

	mu     sync.Mutex
	locks  map[messenger.ConversationKey]*convLock
	states map[messenger.ConversationKey][]int
}

func New(client messenger.Client, data Datasets, avatars Avatars, expirer Expirer, m metrics.Recorder, log zerolog.Logger, opts Options) *Controller {
	if opts.PageSize < 1 {
		opts.PageSize = 1
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Controller{
		client:  client,
		data:    data,
		avatars: avatars,
		expirer: expirer,
		metrics: m,
		log:     log,
		opts:    opts,
		locks:   map[messenger.ConversationKey]*convLock{},
		states:  map[messenger.ConversationKey][]int{},
	}
}

// TotalPages is ceil(n/size) and never less than one.
func TotalPages(n, size int) int {
	if size < 1 {
		size = 1
	}
	return max((n+size-1)/size, 1)
}

// NormalizePage maps any page index into [0, total) with floored modulo.
func NormalizePage(page, total int) int {
	if total < 1 {
		return 0
	}
	p := page % total
	if p < 0 {
		p += total
	}
	return p
}

// convLock serializes renders of one conversation. refs counts holders and
// waiters; the entry is dropped from the map when it reaches zero.
type convLock struct {
	mu   sync.Mutex
	refs int
}

func (c *Controller) lock(conv messenger.ConversationKey) *convLock {
	c.mu.Lock()
	l, ok := c.locks[conv]
	if !ok {
		l = &convLock{}
		c.locks[conv] = l
	}
	l.refs++
	c.mu.Unlock()
	l.mu.Lock()
	return l
}

func (c *Controller) unlock(conv messenger.ConversationKey, l *convLock) {
	l.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, conv)
	}
}

// State returns a copy of the message ids currently shown for conv.
func (c *Controller) State(conv messenger.ConversationKey) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.states[conv]...)
}

func (c *Controller) takeState(conv messenger.ConversationKey) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.states[conv]
	delete(c.states, conv)
	return old
}

func (c *Controller) setState(conv messenger.ConversationKey, ids []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[conv] = append([]int(nil), ids...)
}

// try logs a failed platform call and reports whether it succeeded.
func (c *Controller) try(req Request, op string, err error) bool {
	if err == nil {
		return true
	}
	c.log.Warn().Err(err).
		Int64("chat_id", req.Conv.ChatID).
		Int("thread_id", req.Conv.ThreadID).
		Str("dataset", string(req.Dataset)).
		Str("op", op).
		Msg("delivery failed")
	return false
}

// RenderPage shows one page of a dataset in req.Conv. Delivery failures are
// logged, never returned.
func (c *Controller) RenderPage(ctx context.Context, req Request) {
	lk := c.lock(req.Conv)
	defer c.unlock(req.Conv, lk)

	recs := c.data.Load(req.Dataset)
	if len(recs) == 0 {
		c.noData(ctx, req)
		return
	}

	if old := c.takeState(req.Conv); len(old) > 0 {
		c.expirer.Schedule(req.Conv.ChatID, old, c.opts.ShortDelay)
	}

	var ids []int
	if req.Dataset.Paged() {
		ids = c.sendPage(ctx, req, recs)
	} else {
		ids = c.sendTop(ctx, req, recs)
	}

	c.setState(req.Conv, ids)
	c.expirer.Schedule(req.Conv.ChatID, ids, c.opts.LongDelay)
	if req.Trigger == Fresh && req.OriginMessageID != 0 {
		c.expirer.Schedule(req.Conv.ChatID, []int{req.OriginMessageID}, c.opts.LongDelay)
	}
	c.metrics.IncPageRendered(string(req.Dataset), req.Trigger.String())
}

func (c *Controller) noData(ctx context.Context, req Request) {
	if req.Trigger == Navigate && req.OriginMessageID != 0 {
		err := c.client.EditMessage(ctx, req.Conv.ChatID, req.OriginMessageID, render.NoDataText)
		c.try(req, "edit_no_data", err)
		return
	}
	_, err := c.client.SendText(ctx, req.Conv, messenger.Text{Body: render.NoDataText, ReplyTo: req.OriginMessageID})
	c.try(req, "send_no_data", err)
}

func (c *Controller) sendPage(ctx context.Context, req Request, recs []records.Record) []int {
	total := TotalPages(len(recs), c.opts.PageSize)
	page := NormalizePage(req.Page, total)
	start := page * c.opts.PageSize
	end := min(start+c.opts.PageSize, len(recs))
	window := recs[start:end]

	photos := make([]messenger.Photo, 0, len(window))
	for i, rec := range window {
		src := render.AvatarSource(rec, c.opts.BaseDir, c.opts.Placeholder)
		photos = append(photos, messenger.Photo{
			Name:  fmt.Sprintf("ava_%d.jpg", start+i+1),
			Bytes: c.avatars.Avatar(src, c.opts.Placeholder),
		})
	}
	ids := c.sendPhotos(ctx, req, photos)

	nav := render.Navigation(req.Dataset, page)
	id, err := c.client.SendText(ctx, req.Conv, messenger.Text{
		Body: render.PageText(window, start+1),
		HTML: true,
		Inline: []messenger.Button{
			{Text: render.LabelPrev, Data: nav.Prev},
			{Text: render.LabelRefresh, Data: nav.Refresh},
			{Text: render.LabelNext, Data: nav.Next},
		},
	})
	if c.try(req, "send_navigation", err) {
		ids = append(ids, id)
	}
	return ids
}

// sendPhotos sends two or more photos as one group of at most MaxGroupSize.
// If the group is rejected every photo is sent on its own.
func (c *Controller) sendPhotos(ctx context.Context, req Request, photos []messenger.Photo) []int {
	if len(photos) >= 2 {
		batch := photos[:min(len(photos), MaxGroupSize)]
		ids, err := c.client.SendPhotoGroup(ctx, req.Conv, batch)
		if c.try(req, "send_photo_group", err) {
			return ids
		}
	}
	var ids []int
	for _, p := range photos {
		id, err := c.client.SendSinglePhoto(ctx, req.Conv, p)
		if c.try(req, "send_photo", err) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Controller) sendTop(ctx context.Context, req Request, recs []records.Record) []int {
	id, err := c.client.SendText(ctx, req.Conv, messenger.Text{Body: render.TopList(recs), HTML: true})
	if !c.try(req, "send_top", err) {
		return nil
	}
	return []int{id}
}
