// Package cache provides the Cache interface for response caching. The
// default in-process implementation is Memory.
package cache

import "github.com/relaygw/gateway/providers"

// Cache defines the interface for response caching.
type Cache interface {
	Get(key string) (*providers.Response, bool)
	Set(key string, resp *providers.Response)
	Delete(key string)
	Len() int
	Clear()
}
