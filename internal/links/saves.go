package links

import (
	"strconv"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/sait-ama/guild-pager-bot/internal/utils"
)

// Save is the last game state a user synced from the WebApp.
type Save struct {
	State     json.RawMessage `json:"state"`
	UpdatedAt string          `json:"updated_at"`
	Name      string          `json:"name"`
	Username  string          `json:"username"`
}

type Saves struct {
	path string
	mu   sync.Mutex
}

func NewSaves(path string) *Saves {
	return &Saves{path: path}
}

// Put replaces the save of userID, stamping it with the current UTC time.
// Other users' entries are preserved verbatim.
func (s *Saves) Put(userID int64, state json.RawMessage, name, username string) (Save, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := map[string]json.RawMessage{}
	if _, err := utils.ReadJSON(s.path, &all); err != nil {
		return Save{}, err
	}
	if len(state) == 0 {
		state = json.RawMessage("{}")
	}
	save := Save{
		State:     state,
		UpdatedAt: utils.ISOTimestamp(utils.NowUTC()),
		Name:      name,
		Username:  username,
	}
	b, err := json.Marshal(save)
	if err != nil {
		return Save{}, err
	}
	all[strconv.FormatInt(userID, 10)] = b
	return save, utils.WriteJSONAtomic(s.path, all)
}

func (s *Saves) Get(userID int64) (Save, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := map[string]Save{}
	if _, err := utils.ReadJSON(s.path, &all); err != nil {
		return Save{}, false, err
	}
	v, ok := all[strconv.FormatInt(userID, 10)]
	return v, ok, nil
}
