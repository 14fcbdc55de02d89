package cache

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// KeyRegistry remembers every key template pre-resolved at wrap time and the
// function that claimed it. It only feeds conflict warnings.
type KeyRegistry struct {
	keys *xsync.MapOf[string, string]
}

// NewKeyRegistry returns an empty registry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: xsync.NewMapOf[string, string]()}
}

// Claim records key for owner. When the key was already claimed it returns
// the previous owner and true.
func (r *KeyRegistry) Claim(key, owner string) (string, bool) {
	return r.keys.LoadOrStore(key, owner)
}

// Owner returns the function that first claimed key.
func (r *KeyRegistry) Owner(key string) (string, bool) {
	return r.keys.Load(key)
}

// Len returns the number of claimed keys.
func (r *KeyRegistry) Len() int {
	return r.keys.Size()
}

// Keys lists the claimed keys in sorted order.
func (r *KeyRegistry) Keys() []string {
	keys := make([]string, 0, r.keys.Size())
	r.keys.Range(func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	sort.Strings(keys)
	return keys
}
