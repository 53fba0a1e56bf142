package records

import (
	"errors"
	"os"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Loader reads datasets fresh from disk on every call.
type Loader struct {
	files        map[DatasetKey]string
	profileFiles []string
	log          zerolog.Logger
}

func NewLoader(files map[DatasetKey]string, profileFiles []string, log zerolog.Logger) *Loader {
	return &Loader{files: files, profileFiles: profileFiles, log: log}
}

// Path returns the file backing key.
func (l *Loader) Path(key DatasetKey) (string, bool) {
	p, ok := l.files[key]
	return p, ok
}

// Load returns the ordered records of a dataset. Missing, unreadable or
// malformed files yield an empty dataset.
func (l *Loader) Load(key DatasetKey) []Record {
	path, ok := l.files[key]
	if !ok {
		return nil
	}
	return l.loadFile(path)
}

func (l *Loader) loadFile(path string) []Record {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.log.Warn().Str("path", path).Msg("dataset not found")
		} else {
			l.log.Warn().Err(err).Str("path", path).Msg("dataset read failed")
		}
		return nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(b, &rows); err != nil {
		l.log.Warn().Err(err).Str("path", path).Msg("dataset is not a JSON array")
		return nil
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		var rec Record
		if err := json.Unmarshal(row, &rec); err != nil {
			// non-object rows are skipped
			continue
		}
		out = append(out, rec)
	}
	return out
}

var profileURLRe = regexp.MustCompile(`(?i)^https?://(?:www\.)?remanga\.org/user/(\d+)/(?:about/?)?$`)

// NormalizeProfileURL canonicalizes a ReManga profile link to
// https://remanga.org/user/<id>/about.
func NormalizeProfileURL(s string) (string, bool) {
	m := profileURLRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return "https://remanga.org/user/" + m[1] + "/about", true
}

// FindProfile scans the profile files in order and returns the first record
// whose profile link normalizes to the same URL, with the file it came from.
func (l *Loader) FindProfile(profileURL string) (Record, string, bool) {
	norm, ok := NormalizeProfileURL(profileURL)
	if !ok {
		return Record{}, "", false
	}
	for _, path := range l.profileFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		for _, rec := range l.loadFile(path) {
			if rec.ProfileRef == "" {
				continue
			}
			if n, ok := NormalizeProfileURL(rec.ProfileRef); ok && n == norm {
				return rec, path, true
			}
		}
	}
	return Record{}, "", false
}

// MissingProfileFiles lists configured profile files that do not exist.
func (l *Loader) MissingProfileFiles() []string {
	var missing []string
	for _, p := range l.profileFiles {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	return missing
}
