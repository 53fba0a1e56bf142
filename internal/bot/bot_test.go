package bot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sait-ama/guild-pager-bot/internal/config"
	"github.com/sait-ama/guild-pager-bot/internal/db"
	"github.com/sait-ama/guild-pager-bot/internal/ghsync"
	"github.com/sait-ama/guild-pager-bot/internal/links"
	"github.com/sait-ama/guild-pager-bot/internal/messenger"
	"github.com/sait-ama/guild-pager-bot/internal/pager"
	"github.com/sait-ama/guild-pager-bot/internal/records"
)

const longDelay = 300 * time.Second

type sent struct {
	kind string
	conv messenger.ConversationKey
	text messenger.Text
	name string
}

type fakeClient struct {
	mu       sync.Mutex
	next     int
	calls    []sent
	answered []string
}

func (f *fakeClient) record(s sent) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.calls = append(f.calls, s)
	return 100 + f.next
}

func (f *fakeClient) SendText(_ context.Context, conv messenger.ConversationKey, msg messenger.Text) (int, error) {
	return f.record(sent{kind: "text", conv: conv, text: msg}), nil
}

func (f *fakeClient) SendPhotoGroup(_ context.Context, conv messenger.ConversationKey, photos []messenger.Photo) ([]int, error) {
	return []int{f.record(sent{kind: "group", conv: conv})}, nil
}

func (f *fakeClient) SendSinglePhoto(_ context.Context, conv messenger.ConversationKey, p messenger.Photo) (int, error) {
	return f.record(sent{kind: "photo", conv: conv, name: p.Name}), nil
}

func (f *fakeClient) DeleteMessage(context.Context, int64, int) error { return nil }

func (f *fakeClient) EditMessage(context.Context, int64, int, string) error { return nil }

func (f *fakeClient) AnswerCallback(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeClient) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.kind == "text" {
			out = append(out, c.text.Body)
		}
	}
	return out
}

type fakePages struct {
	requests  []pager.Request
	callbacks []string
}

func (p *fakePages) RenderPage(_ context.Context, req pager.Request) {
	p.requests = append(p.requests, req)
}

func (p *fakePages) HandleCallback(_ context.Context, conv messenger.ConversationKey, id int, data string) bool {
	p.callbacks = append(p.callbacks, data)
	return true
}

type scheduled struct {
	chatID int64
	ids    []int
	delay  time.Duration
}

type fakeExpirer struct{ calls []scheduled }

func (e *fakeExpirer) Schedule(chatID int64, ids []int, delay time.Duration) {
	e.calls = append(e.calls, scheduled{chatID, ids, delay})
}

type fakeSyncer struct {
	run *ghsync.Run
	err error
}

func (s *fakeSyncer) Run(context.Context, ghsync.Trigger) (*ghsync.Run, error) { return s.run, s.err }

func (s *fakeSyncer) Report(run *ghsync.Run) string { return "report:" + run.ID }

type fakeLedger struct {
	run db.SyncRun
	ok  bool
}

func (l fakeLedger) LastSyncRun(context.Context) (db.SyncRun, bool, error) { return l.run, l.ok, nil }

type fakeProfiles struct {
	recs    map[string]records.Record
	missing []string
}

func (p fakeProfiles) FindProfile(u string) (records.Record, string, bool) {
	r, ok := p.recs[u]
	return r, "/data/history_ew.json", ok
}

func (p fakeProfiles) MissingProfileFiles() []string { return p.missing }

type fakeImages struct{}

func (fakeImages) File(path string) ([]byte, error) { return os.ReadFile(path) }

type harness struct {
	app     *App
	client  *fakeClient
	pages   *fakePages
	expirer *fakeExpirer
	syncer  *fakeSyncer
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.WebApp.URL = "https://game.example/index.html"
	cfg.Pager.LongDeleteDelay = longDelay
	cfg.Data.BenyaDir = filepath.Join(dir, "33")
	cfg.Data.KryaDir = filepath.Join(dir, "44")

	h := &harness{
		client:  &fakeClient{},
		pages:   &fakePages{},
		expirer: &fakeExpirer{},
		syncer:  &fakeSyncer{},
		dir:     dir,
	}
	h.app = &App{
		cfg:     cfg,
		log:     zerolog.Nop(),
		client:  h.client,
		pages:   h.pages,
		expirer: h.expirer,
		syncer:  h.syncer,
		ledger:  fakeLedger{},
		profiles: fakeProfiles{recs: map[string]records.Record{
			"https://remanga.org/user/1/about": {DisplayName: "Ann", ProfileRef: "https://remanga.org/user/1/about", Delta: 10},
		}, missing: []string{"/data/history_e.json"}},
		images:   fakeImages{},
		links:    links.NewLinks(filepath.Join(dir, "user_links.json")),
		saves:    links.NewSaves(filepath.Join(dir, "tap_saves.json")),
		username: "guild_bot",
		pick:     func(int) int { return 0 },
	}
	return h
}

func privateMsg(text string) *messenger.Message {
	return &messenger.Message{Message: tgbotapi.Message{
		MessageID: 5,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: 7, Type: "private"},
		From:      &tgbotapi.User{ID: 7, FirstName: "Ann", LastName: "Lee", UserName: "ann"},
	}}
}

func groupMsg(text string) *messenger.Message {
	m := privateMsg(text)
	m.Chat = &tgbotapi.Chat{ID: -100, Type: "supergroup"}
	m.ThreadID = 12
	m.IsTopicMessage = true
	return m
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in, name, args string
		ok             bool
	}{
		{"/start", "start", "", true},
		{"/register https://remanga.org/user/1/about", "register", "https://remanga.org/user/1/about", true},
		{"/Register@Guild_Bot  x ", "register", "x", true},
		{"/регистрация\nhttps://x", "регистрация", "https://x", true},
		{"/start@other_bot", "", "", false},
		{"start", "", "", false},
		{"/", "", "", false},
	}
	for _, c := range cases {
		name, args, ok := parseCommand(c.in, "guild_bot")
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.name, name, c.in)
		assert.Equal(t, c.args, args, c.in)
	}
}

func TestPagingCommand(t *testing.T) {
	for in, want := range map[string]records.DatasetKey{"!ЕВ": records.DatasetEW, " !ed ": records.DatasetED, "!ТОП10": records.DatasetTop10} {
		got, ok := pagingCommand(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"ЕВ", "!XX", "!"} {
		_, ok := pagingCommand(in)
		assert.False(t, ok, in)
	}
}

func TestHandleMessage_PagingCommandStartsFreshPage(t *testing.T) {
	h := newHarness(t)
	h.app.handleMessage(context.Background(), groupMsg("!ЕД"))

	require.Len(t, h.pages.requests, 1)
	assert.Equal(t, pager.Request{
		Conv:            messenger.ConversationKey{ChatID: -100, ThreadID: 12},
		Dataset:         records.DatasetED,
		Page:            0,
		Trigger:         pager.Fresh,
		OriginMessageID: 5,
	}, h.pages.requests[0])
}

func TestHandleMessage_PrivateCommandInGroup(t *testing.T) {
	h := newHarness(t)
	h.app.handleMessage(context.Background(), groupMsg("/register https://remanga.org/user/1/about"))

	assert.Equal(t, []string{notPrivateText}, h.client.texts())
	_, ok, err := h.app.links.Get(7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStartShowsWebAppKeyboard(t *testing.T) {
	h := newHarness(t)
	h.app.handleMessage(context.Background(), privateMsg("/tap"))

	require.Len(t, h.client.calls, 1)
	kb := h.client.calls[0].text.Keyboard
	require.Len(t, kb, 1)
	assert.Equal(t, "https://game.example/index.html", kb[0].WebAppURL)
	assert.Equal(t, 5, h.client.calls[0].text.ReplyTo)
}

func TestRegisterFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.app.handleMessage(ctx, privateMsg("/register"))
	h.app.handleMessage(ctx, privateMsg("/register https://example.com/u/1"))
	assert.Equal(t, []string{helpRegisterText, badProfileText}, h.client.texts())

	h.client.calls = nil
	h.app.handleMessage(ctx, privateMsg("/link http://www.remanga.org/user/1/"))
	require.Len(t, h.client.calls, 2)
	card := h.client.calls[0].text
	assert.True(t, card.HTML)
	assert.Contains(t, card.Body, linkedPrefix+"👤 <b>Ann</b>")
	play := h.client.calls[1].text.Inline
	require.Len(t, play, 1)
	assert.Equal(t, "https://game.example/index.html?profile=https%3A%2F%2Fremanga.org%2Fuser%2F1%2Fabout", play[0].WebAppURL)

	u, ok, err := h.app.links.Get(7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://remanga.org/user/1/about", u)

	h.client.calls = nil
	h.app.handleMessage(ctx, privateMsg("/mylink"))
	h.app.handleMessage(ctx, privateMsg("/where"))
	h.app.handleMessage(ctx, privateMsg("/unlink"))
	h.app.handleMessage(ctx, privateMsg("/unlink"))
	h.app.handleMessage(ctx, privateMsg("/remanga"))
	assert.Equal(t, []string{
		"Твоя привязка: https://remanga.org/user/1/about",
		"Источник данных: /data/history_ew.json",
		"Привязка удалена.",
		"У тебя не было привязки.",
		"Сначала привяжи профиль: /register <url>",
	}, h.client.texts())
}

func TestRegisterUnknownProfileListsMissingFiles(t *testing.T) {
	h := newHarness(t)
	h.app.handleMessage(context.Background(), privateMsg("/привязка https://remanga.org/user/9/about"))

	texts := h.client.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "✅ Профиль привязан: https://remanga.org/user/9/about")
	assert.Contains(t, texts[0], "⚠ Отсутствуют файлы: /data/history_e.json")
}

func TestSyncNow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.syncer.err = ghsync.ErrDisabled
	h.app.handleMessage(ctx, privateMsg("/sync_now"))
	h.syncer.err = ghsync.ErrSyncInProgress
	h.app.handleMessage(ctx, privateMsg("/sync_now"))
	h.syncer.err, h.syncer.run = nil, &ghsync.Run{ID: "r1"}
	h.app.handleMessage(ctx, privateMsg("/sync_now"))

	assert.Equal(t, []string{ghsync.DisabledText, syncBusyText, "report:r1"}, h.client.texts())
}

func TestSyncLast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.app.handleMessage(ctx, privateMsg("/sync_last"))
	h.app.ledger = fakeLedger{ok: true, run: db.SyncRun{
		Trigger:    "periodic",
		FinishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Files: []db.SyncFile{
			{Name: "top10.json", RemotePath: "data/top10.json", Outcome: "unchanged"},
			{Name: "history_ew.json", RemotePath: "data/history_ew.json", Outcome: "conflict", Error: "409"},
		},
	}}
	h.app.handleMessage(ctx, privateMsg("/sync_last"))

	texts := h.client.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, syncNoRunText, texts[0])
	assert.Equal(t, "Последняя выгрузка (periodic): 2026-01-02T03:04:05Z\n"+
		"✅ top10.json -> data/top10.json (unchanged)\n"+
		"❌ history_ew.json -> data/history_ew.json (conflict): 409", texts[1])
}

func TestWebAppData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	send := func(data string) {
		m := privateMsg("")
		m.WebAppData = &messenger.WebAppData{Data: data}
		h.app.handleMessage(ctx, m)
	}
	send("not json")
	send(`{"type":"ping"}`)
	send(`{"type":"sync","state":{"coins":3}}`)

	assert.Equal(t, []string{webAppBadText, webAppReceivedText, webAppSavedText}, h.client.texts())
	save, ok, err := h.app.saves.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"coins":3}`, string(save.State))
	assert.Equal(t, "Ann Lee", save.Name)
	assert.Equal(t, "ann", save.Username)
}

func TestWebAppDataIgnoredOutsidePrivateChats(t *testing.T) {
	h := newHarness(t)
	m := groupMsg("")
	m.WebAppData = &messenger.WebAppData{Data: `{"type":"sync"}`}
	h.app.handleMessage(context.Background(), m)
	assert.Empty(t, h.client.calls)
}

func TestStaticTextReplyExpiresBothMessages(t *testing.T) {
	h := newHarness(t)
	h.app.handleMessage(context.Background(), groupMsg(" бан "))

	assert.Equal(t, []string{"-1"}, h.client.texts())
	require.Len(t, h.expirer.calls, 1)
	assert.Equal(t, scheduled{chatID: -100, ids: []int{5, 101}, delay: longDelay}, h.expirer.calls[0])

	h.app.handleMessage(context.Background(), groupMsg("hello"))
	assert.Len(t, h.expirer.calls, 1)
}

func TestPictureReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.app.handleMessage(ctx, groupMsg("беня"))
	assert.Equal(t, []string{"Папка 33 пуста или картинки не найдены."}, h.client.texts())

	require.NoError(t, os.MkdirAll(h.app.cfg.Data.KryaDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(h.app.cfg.Data.KryaDir, "b.jpg"), []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(h.app.cfg.Data.KryaDir, "a.jpg"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(h.app.cfg.Data.KryaDir, "c.png"), []byte("c"), 0o600))
	h.app.handleMessage(ctx, groupMsg("КРЯ"))

	last := h.client.calls[len(h.client.calls)-1]
	assert.Equal(t, "photo", last.kind)
	assert.Equal(t, "a.jpg", last.name)
	assert.Equal(t, messenger.ConversationKey{ChatID: -100, ThreadID: 12}, last.conv)
	require.Len(t, h.expirer.calls, 2)
	assert.Equal(t, []int{5, 102}, h.expirer.calls[1].ids)
}

func TestHandleCallbackAnswersFirst(t *testing.T) {
	h := newHarness(t)
	q := &messenger.Callback{
		CallbackQuery: tgbotapi.CallbackQuery{ID: "q1", Data: "EW|2"},
		Message:       groupMsg(""),
	}
	h.app.handleUpdate(context.Background(), messenger.Update{CallbackQuery: q})

	assert.Equal(t, []string{"q1"}, h.client.answered)
	assert.Equal(t, []string{"EW|2"}, h.pages.callbacks)

	h.app.handleUpdate(context.Background(), messenger.Update{CallbackQuery: &messenger.Callback{
		CallbackQuery: tgbotapi.CallbackQuery{ID: "q2", Data: "EW|3"},
	}})
	assert.Equal(t, []string{"q1", "q2"}, h.client.answered)
	assert.Len(t, h.pages.callbacks, 1)
}

func TestDispatchKeepsArrivalOrder(t *testing.T) {
	h := newHarness(t)
	updates := make(chan messenger.Update, 4)
	for i, data := range []string{"EW|1", "EW|2", "EW|3"} {
		updates <- messenger.Update{UpdateID: i, CallbackQuery: &messenger.Callback{
			CallbackQuery: tgbotapi.CallbackQuery{ID: data, Data: data},
			Message:       groupMsg(""),
		}}
	}
	updates <- messenger.Update{UpdateID: 3, Message: groupMsg("!ЕД")}
	close(updates)

	h.app.dispatch(context.Background(), updates)

	assert.Equal(t, []string{"EW|1", "EW|2", "EW|3"}, h.pages.callbacks)
	assert.Equal(t, []string{"EW|1", "EW|2", "EW|3"}, h.client.answered)
	require.Len(t, h.pages.requests, 1)
	assert.Equal(t, records.DatasetED, h.pages.requests[0].Dataset)
}

func TestStaticTextReplies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.app.handleMessage(ctx, groupMsg("Иди нахуй"))
	h.app.handleMessage(ctx, groupMsg("пингвин"))

	texts := h.client.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "Сам иди нахуй", texts[0])
	assert.Equal(t, textReplies["ПИНГВИН"], texts[1])
	assert.Len(t, h.expirer.calls, 2)
}
