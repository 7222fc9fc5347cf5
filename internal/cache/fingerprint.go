package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/sync/singleflight"

	"github.com/relaygw/gateway/providers"
)

// Fingerprint derives a stable cache key from the fields the orchestrator
// fingerprints a request by: function, variant-or-weighting, resolved input,
// tool config, sampling params, and json mode. Callers pass already-
// serializable values (typically the canonical JSON the orchestrator built
// for the provider request) rather than Go structs with unexported fields,
// so the hash is stable across process restarts.
func Fingerprint(parts ...any) (string, error) {
	b, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Build produces a fresh response for a cache miss.
type Build func() (*providers.Response, error)

// SingleFlightCache wraps a Cache with golang.org/x/sync/singleflight so
// concurrent requests sharing a fingerprint trigger at most one in-flight
// Build call; the rest wait for and share its result, matching the "at-most-
// one concurrent build per fingerprint" requirement on the response cache.
type SingleFlightCache struct {
	Cache
	group singleflight.Group
}

// NewSingleFlightCache wraps an existing Cache (typically *Memory).
func NewSingleFlightCache(c Cache) *SingleFlightCache {
	return &SingleFlightCache{Cache: c}
}

// GetOrBuild returns the cached response for key if present; otherwise it
// calls build, sharing the in-flight call across concurrent callers with the
// same key, and populates the cache with the result before returning it.
func (c *SingleFlightCache) GetOrBuild(key string, build Build) (*providers.Response, bool, error) {
	if resp, ok := c.Cache.Get(key); ok {
		return resp, true, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		resp, buildErr := build()
		if buildErr != nil {
			return nil, buildErr
		}
		c.Cache.Set(key, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	_ = shared
	return v.(*providers.Response), false, nil
}
