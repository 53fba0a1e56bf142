package links

import (
	"strconv"
	"sync"

	"github.com/sait-ama/guild-pager-bot/internal/utils"
)

// Links maps Telegram user ids to their registered profile URL. The file is
// a JSON object keyed by the decimal user id.
type Links struct {
	path string
	mu   sync.Mutex
}

func NewLinks(path string) *Links {
	return &Links{path: path}
}

func (l *Links) load() (map[string]string, error) {
	m := map[string]string{}
	if _, err := utils.ReadJSON(l.path, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (l *Links) Get(userID int64) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.load()
	if err != nil {
		return "", false, err
	}
	u, ok := m[strconv.FormatInt(userID, 10)]
	return u, ok, nil
}

func (l *Links) Set(userID int64, profileURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.load()
	if err != nil {
		return err
	}
	m[strconv.FormatInt(userID, 10)] = profileURL
	return utils.WriteJSONAtomic(l.path, m)
}

// Remove deletes the link and reports whether one existed.
func (l *Links) Remove(userID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, err := l.load()
	if err != nil {
		return false, err
	}
	key := strconv.FormatInt(userID, 10)
	if _, ok := m[key]; !ok {
		return false, nil
	}
	delete(m, key)
	return true, utils.WriteJSONAtomic(l.path, m)
}
