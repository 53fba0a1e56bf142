package render

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sait-ama/guild-pager-bot/internal/records"
	"github.com/sait-ama/guild-pager-bot/internal/utils"
)

const (
	LabelPrev    = "⬅"
	LabelRefresh = "🔄"
	LabelNext    = "➡"

	RefreshMarker = "refresh"

	NoDataText = "Данные не найдены."

	topHeader = "🏆 <b>Топ 10 по вкладу</b> 🏆\n\n"
)

var avatarExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Caption renders one member card line pair:
//
//	<b>3.</b> <a href='https://...'>Name</a>
//	<b>Прирост:</b> 12 345 ⚡
func Caption(rec records.Record, rank int) string {
	return fmt.Sprintf("<b>%d.</b> <a href='%s'>%s</a>\n<b>Прирост:</b> %s ⚡",
		rank,
		html.EscapeString(rec.ProfileRef),
		html.EscapeString(rec.DisplayName),
		utils.FormatThousands(rec.Delta),
	)
}

// PageText joins the captions of a page window. firstRank is the 1-based
// rank of recs[0].
func PageText(recs []records.Record, firstRank int) string {
	parts := make([]string, 0, len(recs))
	for i, rec := range recs {
		parts = append(parts, Caption(rec, firstRank+i))
	}
	return strings.Join(parts, "\n\n")
}

// TopList renders the flat TOP10 message.
func TopList(recs []records.Record) string {
	var b strings.Builder
	b.WriteString(topHeader)
	for i, rec := range recs {
		fmt.Fprintf(&b, "%d. <a href='%s'>%s</a> — %s ⚡\n",
			i+1,
			html.EscapeString(rec.ProfileRef),
			html.EscapeString(rec.DisplayName),
			utils.FormatThousands(rec.Delta),
		)
	}
	return b.String()
}

// AvatarSource resolves rec.AvatarRef against baseDir. The result is the
// resolved path when it names a non-empty regular file with an accepted
// image extension, and placeholder otherwise.
func AvatarSource(rec records.Record, baseDir, placeholder string) string {
	ref := strings.TrimSpace(rec.AvatarRef)
	if ref == "" {
		return placeholder
	}
	p := ref
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	if !avatarExts[strings.ToLower(filepath.Ext(p))] {
		return placeholder
	}
	st, err := os.Stat(p)
	if err != nil || !st.Mode().IsRegular() || st.Size() == 0 {
		return placeholder
	}
	return p
}

type Nav struct {
	Prev    string
	Refresh string
	Next    string
}

// Navigation builds the three callback payloads for a page.
func Navigation(dataset records.DatasetKey, page int) Nav {
	k := string(dataset)
	return Nav{
		Prev:    k + "|" + strconv.Itoa(page-1),
		Refresh: k + "|" + RefreshMarker + "|" + strconv.Itoa(page),
		Next:    k + "|" + strconv.Itoa(page+1),
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return html.EscapeString(s)
}

// ProfileCard renders the member summary shown by /remanga and /register.
// source is the dataset file the record was found in.
func ProfileCard(rec records.Record, source, prefix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	fmt.Fprintf(&b, "👤 <b>%s</b>\n", orDash(rec.DisplayName))
	fmt.Fprintf(&b, "🔗 <a href=\"%s\">Профиль ReManga</a>\n", html.EscapeString(rec.ProfileRef))
	fmt.Fprintf(&b, "🏰 Гильдия: <b>%s</b>\n", orDash(rec.GuildLabel))
	fmt.Fprintf(&b, "🕒 Активность: %s\n", orDash(rec.LastActiveLabel))
	fmt.Fprintf(&b, "💾 initial: <code>%s</code>\n", orDash(rec.Initial))
	fmt.Fprintf(&b, "📈 current: <code>%s</code>\n", orDash(rec.Current))
	fmt.Fprintf(&b, "⚖️ diff: <b>%s</b>\n", utils.FormatThousands(rec.Delta))
	fmt.Fprintf(&b, "📁 Источник: <code>%s</code>", orDash(source))
	return b.String()
}
