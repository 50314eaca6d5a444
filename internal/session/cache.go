package session

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/campwars/client-go/pkg/types"
)

const cacheFileName = "identity.json"

// identityCache is the best-effort local copy of the last-known identity.
// Every operation degrades to a no-op on error; it is never the
// authoritative session source.
type identityCache struct {
	path string
	log  *zap.Logger
}

func newIdentityCache(dir string, log *zap.Logger) *identityCache {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			log.Debug("no user cache dir, identity cache disabled", zap.Error(err))
			return &identityCache{log: log}
		}
		dir = filepath.Join(base, "campwars")
	}
	return &identityCache{path: filepath.Join(dir, cacheFileName), log: log}
}

func (c *identityCache) load() *types.Session {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}
	var s types.Session
	if err := json.Unmarshal(data, &s); err != nil {
		c.log.Debug("discarding unreadable identity cache", zap.Error(err))
		return nil
	}
	if err := s.Validate(); err != nil {
		return nil
	}
	return &s
}

func (c *identityCache) save(s *types.Session) {
	if c.path == "" || s == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		c.log.Debug("identity cache dir", zap.Error(err))
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		c.log.Debug("identity cache write", zap.Error(err))
	}
}

func (c *identityCache) clear() {
	if c.path == "" {
		return
	}
	_ = os.Remove(c.path)
}
