package messenger

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	json "github.com/goccy/go-json"
)

// Message extends the library message with fields newer Bot API versions
// deliver.
type Message struct {
	tgbotapi.Message
	ThreadID       int         `json:"message_thread_id,omitempty"`
	IsTopicMessage bool        `json:"is_topic_message,omitempty"`
	WebAppData     *WebAppData `json:"web_app_data,omitempty"`
}

type WebAppData struct {
	Data       string `json:"data"`
	ButtonText string `json:"button_text"`
}

// Conv returns the paging session the message belongs to. Reply chains in
// ordinary groups also carry a thread id, so it is only honoured for forum
// topics.
func (m *Message) Conv() ConversationKey {
	k := ConversationKey{ChatID: m.Chat.ID}
	if m.IsTopicMessage {
		k.ThreadID = m.ThreadID
	}
	return k
}

type Callback struct {
	tgbotapi.CallbackQuery
	Message *Message `json:"message,omitempty"`
}

type Update struct {
	UpdateID      int       `json:"update_id"`
	Message       *Message  `json:"message,omitempty"`
	CallbackQuery *Callback `json:"callback_query,omitempty"`
}

var allowedUpdates = []string{"message", "callback_query"}

// Updates long-polls getUpdates until ctx is done. The returned channel is
// closed on exit.
func (t *Telegram) Updates(ctx context.Context, timeout int) <-chan Update {
	ch := make(chan Update, t.api.Buffer)
	go func() {
		defer close(ch)
		offset := 0
		for ctx.Err() == nil {
			params := tgbotapi.Params{}
			params.AddNonZero("offset", offset)
			params.AddNonZero("timeout", timeout)
			_ = params.AddInterface("allowed_updates", allowedUpdates)

			resp, err := t.api.MakeRequest("getUpdates", params)
			if err != nil {
				t.log.Warn().Err(err).Msg("getUpdates failed, retrying in 3 seconds")
				select {
				case <-ctx.Done():
					return
				case <-time.After(3 * time.Second):
				}
				continue
			}
			var batch []json.RawMessage
			if err := json.Unmarshal(resp.Result, &batch); err != nil {
				t.log.Error().Err(err).Msg("decode updates, retrying in 3 seconds")
				select {
				case <-ctx.Done():
					return
				case <-time.After(3 * time.Second):
				}
				continue
			}
			for _, raw := range batch {
				var head struct {
					UpdateID int `json:"update_id"`
				}
				if err := json.Unmarshal(raw, &head); err != nil {
					t.log.Error().Err(err).Msg("update without id dropped")
					continue
				}
				if head.UpdateID >= offset {
					offset = head.UpdateID + 1
				}
				var u Update
				if err := json.Unmarshal(raw, &u); err != nil {
					t.log.Warn().Err(err).Int("update_id", head.UpdateID).Msg("skipping undecodable update")
					continue
				}
				select {
				case ch <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

func chatParams(conv ConversationKey) tgbotapi.Params {
	p := tgbotapi.Params{"chat_id": strconv.FormatInt(conv.ChatID, 10)}
	p.AddNonZero("message_thread_id", conv.ThreadID)
	return p
}
