package style

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_MissingFileIsEmpty(t *testing.T) {
	c := NewCache(t.TempDir(), "style_post.md", time.Minute, zerolog.Nop())
	assert.Equal(t, "", c.Get())
}

func TestCache_ReloadThrottle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "style_post.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	now := time.Unix(1000, 0)
	c := NewCache(dir, "style_post.md", time.Minute, zerolog.Nop(), WithClock(func() time.Time { return now }))

	assert.Equal(t, "v1", c.Get())

	// Changed on disk but within the reload interval: cached copy wins.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	now = now.Add(30 * time.Second)
	assert.Equal(t, "v1", c.Get())

	// After the interval the new content is picked up.
	now = now.Add(31 * time.Second)
	assert.Equal(t, "v2", c.Get())
}

func TestCache_ReadCap(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.md"), []byte(strings.Repeat("x", MaxChars+100)), 0o644))

	c := NewCache(dir, "big.md", time.Minute, zerolog.Nop())
	assert.Len(t, c.Get(), MaxChars)
}

func TestCache_StripsDirectoryComponents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.md"), []byte("ok"), 0o644))

	c := NewCache(dir, "../../../etc/style.md", time.Minute, zerolog.Nop())
	assert.Equal(t, "ok", c.Get())
}

func TestSampleLines_WithoutReplacement(t *testing.T) {
	pool := "alpha\nbravo\ncharlie\ndelta\necho"
	rng := rand.New(rand.NewSource(1))

	got := SampleLines(pool, 3, rng)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)

	seen := map[string]bool{}
	for _, l := range lines {
		assert.Contains(t, []string{"alpha", "bravo", "charlie", "delta", "echo"}, l)
		assert.False(t, seen[l], "no duplicates when pool >= k")
		seen[l] = true
	}
}

func TestSampleLines_WithReplacementWhenPoolSmall(t *testing.T) {
	pool := "only\ntwo"
	rng := rand.New(rand.NewSource(7))

	got := SampleLines(pool, 5, rng)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 5)
	for _, l := range lines {
		assert.Contains(t, []string{"only", "two"}, l)
	}
}

func TestSampleLines_Passthrough(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.Equal(t, "template", SampleLines("template", 0, rng))
	assert.Equal(t, "\n\n", SampleLines("\n\n", 3, rng), "blank pool stays untouched")
}
