package bot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/sait-ama/guild-pager-bot/internal/ghsync"
	"github.com/sait-ama/guild-pager-bot/internal/messenger"
	"github.com/sait-ama/guild-pager-bot/internal/records"
	"github.com/sait-ama/guild-pager-bot/internal/render"
	"github.com/sait-ama/guild-pager-bot/internal/utils"
)

const (
	playButtonText = "Запустить игру (WebApp)"
	playPromptText = "Открой игру кнопкой ниже ⤵️"

	notPrivateText = "Эта мини-игра и привязка ReManga доступны только в ЛИЧНОМ чате. " +
		"Открой диалог с ботом и отправь /start."

	helpRegisterText = "Регистрация профиля ReManga:\n" +
		"/register https://remanga.org/user/123456/about\n\n" +
		"После привязки используй /remanga — бот найдёт запись в подключённых JSON и покажет diff и другие поля."
	badProfileText    = "Ссылка не похожа на профиль ReManga. Пример: https://remanga.org/user/2384260/about"
	linkSaveErrorText = "Не удалось сохранить привязку, попробуй позже."
	linkedPrefix      = "✅ Профиль привязан.\n"
	linkedPlayText    = "Открой игру с привязанным профилем:"

	syncBusyText  = "Выгрузка уже идёт, попробуй позже."
	syncNoRunText = "Выгрузок ещё не было."
)

var privateCommands = map[string]bool{
	"start":        true,
	"tap":          true,
	"register":     true,
	"link":         true,
	"registraciya": true,
	"регистрация":  true,
	"привязка":     true,
	"mylink":       true,
	"unlink":       true,
	"remanga":      true,
	"where":        true,
	"sync_now":     true,
	"sync_last":    true,
}

// parseCommand splits "/name@bot args" into a lower-cased name and the
// trimmed argument string. Commands addressed to another bot are rejected.
func parseCommand(text, botName string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, args := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, args = text[:i], strings.TrimSpace(text[i:])
	}
	name := head[1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if botName != "" && !strings.EqualFold(name[at+1:], botName) {
			return "", "", false
		}
		name = name[:at]
	}
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), args, true
}

// pagingCommand recognizes "!ЕВ", "!ED", "!ТОП10" and friends.
func pagingCommand(text string) (records.DatasetKey, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return "", false
	}
	return records.ParseDatasetKey(text[1:])
}

func (a *App) handlePrivateCommand(ctx context.Context, msg *messenger.Message, cmd, args string) {
	if msg.From == nil {
		return
	}
	switch cmd {
	case "start", "tap":
		a.reply(ctx, msg, messenger.Text{
			Body:     playPromptText,
			Keyboard: []messenger.Button{{Text: playButtonText, WebAppURL: a.cfg.WebApp.URL}},
		})
	case "register", "link", "registraciya", "регистрация", "привязка":
		a.register(ctx, msg, args)
	case "mylink":
		a.myLink(ctx, msg)
	case "unlink":
		a.unlink(ctx, msg)
	case "remanga":
		a.showProfile(ctx, msg)
	case "where":
		a.where(ctx, msg)
	case "sync_now":
		a.syncNow(ctx, msg)
	case "sync_last":
		a.syncLast(ctx, msg)
	}
}

func (a *App) register(ctx context.Context, msg *messenger.Message, args string) {
	if args == "" {
		a.reply(ctx, msg, messenger.Text{Body: helpRegisterText})
		return
	}
	norm, ok := records.NormalizeProfileURL(args)
	if !ok {
		a.reply(ctx, msg, messenger.Text{Body: badProfileText})
		return
	}
	if err := a.links.Set(msg.From.ID, norm); err != nil {
		a.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("save profile link")
		a.reply(ctx, msg, messenger.Text{Body: linkSaveErrorText})
		return
	}

	play := []messenger.Button{{Text: playButtonText, WebAppURL: a.cfg.WebApp.URL + "?profile=" + url.QueryEscape(norm)}}
	if rec, src, found := a.profiles.FindProfile(norm); found {
		a.reply(ctx, msg, messenger.Text{
			Body:           render.ProfileCard(rec, src, linkedPrefix),
			HTML:           true,
			DisablePreview: true,
		})
		a.reply(ctx, msg, messenger.Text{Body: linkedPlayText, Inline: play})
		return
	}

	body := fmt.Sprintf("✅ Профиль привязан: %s\nПока записи в JSON не найдено. Обнови данные и используй /remanga.", norm)
	if missing := a.profiles.MissingProfileFiles(); len(missing) > 0 {
		body += "\n\n⚠ Отсутствуют файлы: " + strings.Join(missing, ", ")
	}
	a.reply(ctx, msg, messenger.Text{Body: body, Inline: play})
}

// linkedProfile returns the caller's stored link, replying with notLinked
// when there is none.
func (a *App) linkedProfile(ctx context.Context, msg *messenger.Message, notLinked string) (string, bool) {
	u, ok, err := a.links.Get(msg.From.ID)
	if err != nil {
		a.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("read profile links")
	}
	if !ok {
		a.reply(ctx, msg, messenger.Text{Body: notLinked})
		return "", false
	}
	return u, true
}

func (a *App) myLink(ctx context.Context, msg *messenger.Message) {
	if u, ok := a.linkedProfile(ctx, msg, "Привязка не найдена. Используй /register <url>."); ok {
		a.reply(ctx, msg, messenger.Text{Body: "Твоя привязка: " + u})
	}
}

func (a *App) unlink(ctx context.Context, msg *messenger.Message) {
	removed, err := a.links.Remove(msg.From.ID)
	if err != nil {
		a.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("remove profile link")
		a.reply(ctx, msg, messenger.Text{Body: linkSaveErrorText})
		return
	}
	if removed {
		a.reply(ctx, msg, messenger.Text{Body: "Привязка удалена."})
		return
	}
	a.reply(ctx, msg, messenger.Text{Body: "У тебя не было привязки."})
}

func (a *App) showProfile(ctx context.Context, msg *messenger.Message) {
	u, ok := a.linkedProfile(ctx, msg, "Сначала привяжи профиль: /register <url>")
	if !ok {
		return
	}
	rec, src, found := a.profiles.FindProfile(u)
	if !found {
		a.reply(ctx, msg, messenger.Text{Body: "В подключённых JSON не найден твой профиль. Проверь поле profile."})
		return
	}
	a.reply(ctx, msg, messenger.Text{Body: render.ProfileCard(rec, src, ""), HTML: true, DisablePreview: true})
}

func (a *App) where(ctx context.Context, msg *messenger.Message) {
	u, ok := a.linkedProfile(ctx, msg, "Сначала /register <url>")
	if !ok {
		return
	}
	_, src, found := a.profiles.FindProfile(u)
	if !found {
		a.reply(ctx, msg, messenger.Text{Body: "Запись не найдена ни в одном файле."})
		return
	}
	a.reply(ctx, msg, messenger.Text{Body: "Источник данных: " + src})
}

func (a *App) syncNow(ctx context.Context, msg *messenger.Message) {
	run, err := a.syncer.Run(ctx, ghsync.TriggerManual)
	switch {
	case errors.Is(err, ghsync.ErrDisabled):
		a.reply(ctx, msg, messenger.Text{Body: ghsync.DisabledText})
	case errors.Is(err, ghsync.ErrSyncInProgress):
		a.reply(ctx, msg, messenger.Text{Body: syncBusyText})
	case err != nil:
		a.log.Error().Err(err).Msg("manual sync")
	default:
		a.reply(ctx, msg, messenger.Text{Body: a.syncer.Report(run)})
	}
}

func (a *App) syncLast(ctx context.Context, msg *messenger.Message) {
	run, ok, err := a.ledger.LastSyncRun(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("read sync ledger")
	}
	if !ok {
		a.reply(ctx, msg, messenger.Text{Body: syncNoRunText})
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Последняя выгрузка (%s): %s", run.Trigger, utils.ISOTimestamp(run.FinishedAt))
	for _, f := range run.Files {
		mark := "✅"
		if !ghsync.Outcome(f.Outcome).OK() {
			mark = "❌"
		}
		fmt.Fprintf(&b, "\n%s %s -> %s (%s)", mark, f.Name, f.RemotePath, f.Outcome)
		if f.Error != "" {
			b.WriteString(": " + utils.Truncate(f.Error, 120))
		}
	}
	a.reply(ctx, msg, messenger.Text{Body: b.String()})
}
