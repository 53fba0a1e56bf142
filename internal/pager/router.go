package pager

import (
	"context"
	"strconv"
	"strings"

	"github.com/sait-ama/guild-pager-bot/internal/messenger"
	"github.com/sait-ama/guild-pager-bot/internal/records"
	"github.com/sait-ama/guild-pager-bot/internal/render"
)

// Nav is a decoded navigation button payload.
type Nav struct {
	Dataset records.DatasetKey
	Page    int
	Refresh bool
}

// ParsePayload decodes "K|p" and "K|refresh|p".
func ParsePayload(data string) (Nav, bool) {
	parts := strings.Split(data, "|")
	var n Nav
	var pageStr string
	switch {
	case len(parts) == 2:
		pageStr = parts[1]
	case len(parts) == 3 && parts[1] == render.RefreshMarker:
		n.Refresh = true
		pageStr = parts[2]
	default:
		return Nav{}, false
	}
	key, ok := records.ParseDatasetKey(parts[0])
	if !ok {
		return Nav{}, false
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		return Nav{}, false
	}
	n.Dataset = key
	n.Page = page
	return n, true
}

// HandleCallback routes a navigation payload pressed on messageID. Unknown
// payloads are ignored and reported as not handled.
func (c *Controller) HandleCallback(ctx context.Context, conv messenger.ConversationKey, messageID int, data string) bool {
	nav, ok := ParsePayload(data)
	if !ok {
		c.log.Debug().Str("data", data).Msg("ignoring callback payload")
		return false
	}
	c.RenderPage(ctx, Request{
		Conv:            conv,
		Dataset:         nav.Dataset,
		Page:            nav.Page,
		Trigger:         Navigate,
		OriginMessageID: messageID,
	})
	return true
}
