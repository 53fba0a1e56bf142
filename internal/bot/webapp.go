package bot

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/sait-ama/guild-pager-bot/internal/messenger"
	"github.com/sait-ama/guild-pager-bot/internal/utils"
)

const (
	webAppSavedText    = "Состояние сохранено на сервере ✅"
	webAppBadText      = "Получены данные WebApp, но парсинг не удался."
	webAppReceivedText = "WebApp: данные получены."
	webAppSaveFailText = "Не удалось сохранить состояние, попробуй позже."
)

type webAppPayload struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

func fullName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}

// handleWebAppData stores {"type":"sync","state":...} payloads sent by the
// game. Anything else is only acknowledged.
func (a *App) handleWebAppData(ctx context.Context, msg *messenger.Message) {
	raw := msg.WebAppData.Data
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	a.log.Info().Int64("user_id", userID).Str("data", utils.Truncate(raw, 200)).Msg("web app data")

	var probe any
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		a.reply(ctx, msg, messenger.Text{Body: webAppBadText})
		return
	}
	obj, ok := probe.(map[string]any)
	if !ok || obj["type"] != "sync" || msg.From == nil {
		a.reply(ctx, msg, messenger.Text{Body: webAppReceivedText})
		return
	}

	var p webAppPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		a.reply(ctx, msg, messenger.Text{Body: webAppBadText})
		return
	}
	if _, err := a.saves.Put(userID, p.State, fullName(msg.From.FirstName, msg.From.LastName), msg.From.UserName); err != nil {
		a.log.Error().Err(err).Int64("user_id", userID).Msg("save web app state")
		a.reply(ctx, msg, messenger.Text{Body: webAppSaveFailText})
		return
	}
	a.reply(ctx, msg, messenger.Text{Body: webAppSavedText})
}
