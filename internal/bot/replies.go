package bot

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"

	"github.com/sait-ama/guild-pager-bot/internal/messenger"
)

var textReplies = map[string]string{
	"БАН":  "-1",
	"КИК":  "-1",
	"БУБА": "Не призывай сатану!",
	"BUBA": "Не призывай сатану!",

	"ИДИ НАХУЙ": "Сам иди нахуй",

	"КОТИК": "⣴⡿⠶⠀⠀⠀⣦⣀⣴⠀⠀⠀⠀\n⣿⡄⠀⠀⣠⣾⠛⣿⠛⣷⠀⠿⣦ \n⠙⣷⣦⣾⣿⣿⣿⣿⣿⠟⠀⣴⣿\n⠀⣸⣿⣿⣿⣿⣿⣿⣿⣾⠿⠋⠁\n" +
		"⠀⣿⣿⣿⠿⡿⣿⣿⡿⠀⠀⠀⠀\n⢸⣿⡋⠀⠀⠀⢹⣿⡇⠀⠀⠀⠀\n⣿⡟⠀⠀⠀⠀⠀⢿⡇",
	"УТКА": "Утка\n┈┈┈╱╱\n┈┈╱╱╱▔\n┈╱╭┈▔▔╲\n▕▏┊╱╲┈╱▏\n▕▏▕╮▕▕╮▏\n▕▏▕▋▕▕▋▏\n╱▔▔╲╱▔▔╲╮┈┈╱▔▔╲\n" +
		"▏▔▏┈┈▔┈┈▔▔▔╱▔▔╱\n╲┈╲┈┈┈┈┈┈┈╱▔▔╔\n┈▔╲╲▂▂▂▂▂╱\n┈┈▕━━▏\n┈┈▕━━▏\n╱▔▔┈┈▔▔╲",
	"ПИНГВИН": "．　　＿.＿\n．　/######\\\n． (##### @ ######\\\n． /‘　\\######’ーー乛\n．/　　\\####(\n- /##　　'乛’ ＼\n-/####\\　　　　\\\n’/######\\\n|#######　　　;\n|########　　丿\n|### '####　　/\n|###　'###　 ;\n|### 　##/　;\n|###　''　　/\n####　　／ \n/###　　乀\n‘#/_______,)),）",
	"СОБАКА":  "╱▔▔╲▂▂▂╱▔▔╲\n╲╱╳╱▔╲╱▔╲╱▔\n┈┈┃▏▕▍▏▕▍▏\n┈┈┃╲▂╱╲▂▱╲┈╭━╮\n┈┈┃┊┳┊┊┊┊┊▔╰┳╯\n┈┈┃┊╰━━━┳━━━╯\n┈┈┃┊┊┊┊╭╯",
}

func randomIndex(n int) int { return rand.IntN(n) }

// pictureDir maps a trigger word to the folder its pictures come from.
func (a *App) pictureDir(word string) (string, bool) {
	switch word {
	case "БЕНЯ":
		return a.cfg.Data.BenyaDir, true
	case "КРЯ":
		return a.cfg.Data.KryaDir, true
	}
	return "", false
}

// listPictures returns the .jpg files of dir in lexical order.
func listPictures(dir string) []string {
	if dir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.jpg"))
	if err != nil {
		return nil
	}
	return matches
}

func emptyFolderText(dir string) string {
	if dir == "" {
		return "Папка пуста или картинки не найдены."
	}
	return "Папка " + filepath.Base(dir) + " пуста или картинки не найдены."
}

// handleStaticReply answers trigger words. The trigger and the answer both
// expire after the long delay.
func (a *App) handleStaticReply(ctx context.Context, msg *messenger.Message) {
	word := strings.ToUpper(strings.TrimSpace(msg.Text))
	if word == "" {
		return
	}

	var id int
	if body, ok := textReplies[word]; ok {
		id = a.reply(ctx, msg, messenger.Text{Body: body})
	} else if dir, ok := a.pictureDir(word); ok {
		id = a.sendPicture(ctx, msg, dir)
	} else {
		return
	}

	ids := []int{msg.MessageID}
	if id != 0 {
		ids = append(ids, id)
	}
	a.expirer.Schedule(msg.Chat.ID, ids, a.cfg.Pager.LongDeleteDelay)
}

func (a *App) sendPicture(ctx context.Context, msg *messenger.Message, dir string) int {
	pics := listPictures(dir)
	if len(pics) == 0 {
		return a.reply(ctx, msg, messenger.Text{Body: emptyFolderText(dir)})
	}
	path := pics[a.pick(len(pics))]
	b, err := a.images.File(path)
	if err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("picture unreadable")
		return 0
	}
	id, err := a.client.SendSinglePhoto(ctx, msg.Conv(), messenger.Photo{Name: filepath.Base(path), Bytes: b})
	if err != nil {
		a.log.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("send picture")
		return 0
	}
	return id
}
