package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"

	// registered decoders
	_ "image/gif"
	_ "image/png"

	"github.com/coocood/freecache"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	MaxWidth    = 2048
	MaxHeight   = 2048
	JPEGQuality = 82

	placeholderSide = 256
)

var ErrEmptyImage = errors.New("imaging: empty image")

// Normalize decodes jpeg, png, gif or webp bytes and re-encodes them as a
// JPEG no larger than MaxWidth x MaxHeight. Transparent areas become white.
func Normalize(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrEmptyImage
	}
	src, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	sb := src.Bounds()
	w, h := fit(sb.Dx(), sb.Dy(), MaxWidth, MaxHeight)
	if w < 1 || h < 1 {
		return nil, ErrEmptyImage
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales (w, h) down to the bounding box keeping the aspect ratio.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(int(float64(w)*scale), 1)
	nh := max(int(float64(h)*scale), 1)
	return nw, nh
}

// Placeholder returns a plain grey JPEG. The output is identical across calls.
func Placeholder() []byte {
	img := image.NewGray(image.Rect(0, 0, placeholderSide, placeholderSide))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 0xC8}), image.Point{}, draw.Src)
	var buf bytes.Buffer
	// encoding an in-memory gray image cannot fail
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	return buf.Bytes()
}

// EnsurePlaceholder writes Placeholder() to path unless a file already exists.
func EnsurePlaceholder(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return false, fmt.Errorf("create placeholder dir: %w", err)
	}
	if err := os.WriteFile(path, Placeholder(), 0o644); err != nil {
		return false, fmt.Errorf("write placeholder: %w", err)
	}
	return true, nil
}

// Store serves normalized avatars and keeps recent results in memory,
// keyed by path, size and modification time.
type Store struct {
	cache *freecache.Cache
	ttl   int
	log   zerolog.Logger
}

// NewStore creates a Store with a cache of sizeMB megabytes. A non-positive
// size disables caching.
func NewStore(sizeMB, ttlSeconds int, log zerolog.Logger) *Store {
	s := &Store{ttl: ttlSeconds, log: log}
	if sizeMB > 0 {
		s.cache = freecache.NewCache(sizeMB * 1024 * 1024)
	}
	return s
}

func cacheKey(path string, st os.FileInfo) []byte {
	return []byte(path + "|" + strconv.FormatInt(st.Size(), 10) + "|" + strconv.FormatInt(st.ModTime().UnixNano(), 10))
}

// File normalizes the image at path.
func (s *Store) File(path string) ([]byte, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := cacheKey(path, st)
	if s.cache != nil {
		if b, err := s.cache.Get(key); err == nil {
			return b, nil
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out, err := Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.cache != nil {
		if err := s.cache.Set(key, out, s.ttl); err != nil {
			s.log.Debug().Err(err).Str("path", path).Msg("avatar not cached")
		}
	}
	return out, nil
}

// Avatar normalizes path, falling back to the placeholder file and then to
// the built-in placeholder image. It never fails.
func (s *Store) Avatar(path, placeholder string) []byte {
	b, err := s.File(path)
	if err == nil {
		return b
	}
	s.log.Warn().Err(err).Str("path", path).Msg("avatar unusable, using placeholder")
	if path != placeholder {
		if b, err := s.File(placeholder); err == nil {
			return b
		}
	}
	return Placeholder()
}
