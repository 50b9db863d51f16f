package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FileCache keeps one JSON file per entry. The file's modification time is
// the entry's write time.
type FileCache struct {
	dir     string
	nowFunc func() time.Time
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if dir == "" {
		dir = "cache"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create dir %s", dir)
	}
	return &FileCache{dir: dir, nowFunc: time.Now}, nil
}

// Path returns the file backing key.
func (c *FileCache) Path(key Key) string {
	return filepath.Join(c.dir, slug(key.Subject)+"_"+key.Provider+".json")
}

func (c *FileCache) Get(ctx context.Context, key Key, ttl time.Duration) (map[string]any, bool) {
	payload, written, ok := c.GetStale(ctx, key)
	if !ok || !fresh(c.nowFunc(), written, ttl) {
		return nil, false
	}
	return payload, true
}

func (c *FileCache) GetStale(_ context.Context, key Key) (map[string]any, time.Time, bool) {
	path := c.Path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		zap.L().Debug("cache: unreadable entry", zap.String("path", path), zap.Error(err))
		return nil, time.Time{}, false
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		zap.L().Debug("cache: corrupt entry", zap.String("path", path), zap.Error(err))
		return nil, time.Time{}, false
	}
	return payload, info.ModTime(), true
}

// Put writes the payload to a temporary file and renames it into place, so
// readers see either the old entry or the new one.
func (c *FileCache) Put(_ context.Context, key Key, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "cache: marshal payload")
	}

	path := c.Path(key)
	tmp := filepath.Join(c.dir, "."+filepath.Base(path)+".tmp."+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "cache: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "cache: rename to %s", path)
	}
	return nil
}

func (c *FileCache) Prune(_ context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, eris.Wrapf(err, "cache: read dir %s", c.dir)
	}

	now := c.nowFunc()
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil || fresh(now, info.ModTime(), maxAge) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return removed, eris.Wrapf(err, "cache: remove %s", e.Name())
		}
		removed++
	}
	return removed, nil
}
