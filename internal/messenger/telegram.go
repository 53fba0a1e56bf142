package messenger

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sait-ama/guild-pager-bot/internal/metrics"
)

// Telegram implements Client on top of go-telegram-bot-api. Sends carrying a
// thread id or raw uploads go through MakeRequest/UploadFiles because the
// library config types predate forum topics.
type Telegram struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
	metrics metrics.Recorder
	log     zerolog.Logger
}

// NewTelegram wraps api. A nil limiter disables throttling.
func NewTelegram(api *tgbotapi.BotAPI, limiter *rate.Limiter, m metrics.Recorder, log zerolog.Logger) *Telegram {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Telegram{api: api, limiter: limiter, metrics: m, log: log}
}

func (t *Telegram) Self() tgbotapi.User { return t.api.Self }

func (t *Telegram) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

type inlineButton struct {
	Text         string      `json:"text"`
	CallbackData string      `json:"callback_data,omitempty"`
	WebApp       *webAppInfo `json:"web_app,omitempty"`
}

type keyboardButton struct {
	Text   string      `json:"text"`
	WebApp *webAppInfo `json:"web_app,omitempty"`
}

type webAppInfo struct {
	URL string `json:"url"`
}

func webApp(url string) *webAppInfo {
	if url == "" {
		return nil
	}
	return &webAppInfo{URL: url}
}

func replyMarkup(msg Text) any {
	switch {
	case len(msg.Inline) > 0:
		row := make([]inlineButton, 0, len(msg.Inline))
		for _, b := range msg.Inline {
			row = append(row, inlineButton{Text: b.Text, CallbackData: b.Data, WebApp: webApp(b.WebAppURL)})
		}
		return map[string]any{"inline_keyboard": [][]inlineButton{row}}
	case len(msg.Keyboard) > 0:
		row := make([]keyboardButton, 0, len(msg.Keyboard))
		for _, b := range msg.Keyboard {
			row = append(row, keyboardButton{Text: b.Text, WebApp: webApp(b.WebAppURL)})
		}
		return map[string]any{"keyboard": [][]keyboardButton{row}, "resize_keyboard": true}
	}
	return nil
}

func decodeMessage(resp *tgbotapi.APIResponse) (int, error) {
	var m tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &m); err != nil {
		return 0, fmt.Errorf("decode message: %w", err)
	}
	if m.MessageID == 0 {
		return 0, ErrNoResult
	}
	return m.MessageID, nil
}

func (t *Telegram) SendText(ctx context.Context, conv ConversationKey, msg Text) (int, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	params := chatParams(conv)
	params["text"] = msg.Body
	if msg.HTML {
		params["parse_mode"] = tgbotapi.ModeHTML
	}
	params.AddNonZero("reply_to_message_id", msg.ReplyTo)
	params.AddBool("disable_web_page_preview", msg.DisablePreview)
	if markup := replyMarkup(msg); markup != nil {
		if err := params.AddInterface("reply_markup", markup); err != nil {
			return 0, err
		}
	}

	resp, err := t.api.MakeRequest("sendMessage", params)
	t.metrics.IncSent("text", err == nil)
	if err != nil {
		return 0, fmt.Errorf("sendMessage: %w", err)
	}
	return decodeMessage(resp)
}

type inputMediaPhoto struct {
	Type  string `json:"type"`
	Media string `json:"media"`
}

func (t *Telegram) SendPhotoGroup(ctx context.Context, conv ConversationKey, photos []Photo) ([]int, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	media := make([]inputMediaPhoto, 0, len(photos))
	files := make([]tgbotapi.RequestFile, 0, len(photos))
	for i, p := range photos {
		field := "file-" + strconv.Itoa(i)
		media = append(media, inputMediaPhoto{Type: "photo", Media: "attach://" + field})
		files = append(files, tgbotapi.RequestFile{
			Name: field,
			Data: tgbotapi.FileBytes{Name: p.Name, Bytes: p.Bytes},
		})
	}
	params := chatParams(conv)
	if err := params.AddInterface("media", media); err != nil {
		return nil, err
	}

	resp, err := t.api.UploadFiles("sendMediaGroup", params, files)
	t.metrics.IncSent("media_group", err == nil)
	if err != nil {
		return nil, fmt.Errorf("sendMediaGroup: %w", err)
	}
	var msgs []tgbotapi.Message
	if err := json.Unmarshal(resp.Result, &msgs); err != nil {
		return nil, fmt.Errorf("decode media group: %w", err)
	}
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.MessageID)
	}
	return ids, nil
}

func (t *Telegram) SendSinglePhoto(ctx context.Context, conv ConversationKey, photo Photo) (int, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	files := []tgbotapi.RequestFile{{
		Name: "photo",
		Data: tgbotapi.FileBytes{Name: photo.Name, Bytes: photo.Bytes},
	}}
	resp, err := t.api.UploadFiles("sendPhoto", chatParams(conv), files)
	t.metrics.IncSent("photo", err == nil)
	if err != nil {
		return 0, fmt.Errorf("sendPhoto: %w", err)
	}
	return decodeMessage(resp)
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	_, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	if isGone(err) {
		return fmt.Errorf("delete %d: %w", messageID, ErrMessageGone)
	}
	if err != nil {
		return fmt.Errorf("delete %d: %w", messageID, err)
	}
	return nil
}

func (t *Telegram) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	_, err := t.api.Request(tgbotapi.NewEditMessageText(chatID, messageID, text))
	t.metrics.IncSent("edit", err == nil)
	if isGone(err) {
		return fmt.Errorf("edit %d: %w", messageID, ErrMessageGone)
	}
	if err != nil {
		return fmt.Errorf("edit %d: %w", messageID, err)
	}
	return nil
}

// AnswerCallback clears the loading state of a pressed button. It is not
// throttled so the acknowledgement is never queued behind page sends.
func (t *Telegram) AnswerCallback(_ context.Context, callbackID string) error {
	if _, err := t.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}
