// Package style supplies the content templates fed to the generator: a
// reload-throttled file cache plus a line sampler that randomizes the
// template between ambient posts.
package style

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// MaxChars caps how much of a style file is read.
const MaxChars = 20000

// Cache reads one style file at most once per reload interval. A missing
// file is empty content, not an error.
type Cache struct {
	path   string
	reload time.Duration
	now    func() time.Time
	logger zerolog.Logger

	lastLoad time.Time
	cached   string
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a style cache for the file at dir/filename. Only the base
// name of filename is honored, so configuration cannot escape the style dir.
func NewCache(dir, filename string, reload time.Duration, logger zerolog.Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		path:   filepath.Join(dir, filepath.Base(filename)),
		reload: reload,
		now:    time.Now,
		logger: logger.With().Str("component", "style.cache").Str("file", filepath.Base(filename)).Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the cached template, re-reading the file when the reload
// interval has elapsed.
func (c *Cache) Get() string {
	now := c.now()
	if now.Sub(c.lastLoad) < c.reload && !c.lastLoad.IsZero() {
		return c.cached
	}
	c.lastLoad = now

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Warn().Msg("style file missing")
			c.cached = ""
		} else {
			c.logger.Error().Err(err).Msg("style file read failed")
			// keep the previous cached content
		}
		return c.cached
	}

	s := string(data)
	if len(s) > MaxChars {
		s = truncateAtRune(s, MaxChars)
	}
	c.cached = s
	return c.cached
}

// truncateAtRune cuts s to at most max bytes without splitting a rune.
func truncateAtRune(s string, max int) string {
	for max > 0 && max < len(s) {
		if (s[max] & 0xC0) != 0x80 {
			break
		}
		max--
	}
	if max >= len(s) {
		return s
	}
	return s[:max]
}
