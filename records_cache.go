package main

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

const defaultRecordCacheTTL = 30 * time.Second

// recordKey scopes a cached list to the credentials it was read with, since the
// remote applies row permissions per caller.
type recordKey struct {
	formID    string
	principal string
}

type recordEntry struct {
	subs    []FormSubmission
	expires time.Time
}

// recordCache keeps recently built submission lists per form and caller.
// Entries expire after ttl so writes made by other clients show up. The gate
// drops every caller's entry for a form after a transition.
type recordCache struct {
	mu     sync.Mutex
	cache  *lru.Cache
	byForm map[string]map[recordKey]struct{}
	ttl    time.Duration
	now    func() time.Time
}

func newRecordCache(maxEntries int, ttl time.Duration) *recordCache {
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if ttl <= 0 {
		ttl = defaultRecordCacheTTL
	}
	c := &recordCache{
		cache:  lru.New(maxEntries),
		byForm: make(map[string]map[recordKey]struct{}),
		ttl:    ttl,
		now:    time.Now,
	}
	c.cache.OnEvicted = func(key lru.Key, _ interface{}) {
		k := key.(recordKey)
		keys := c.byForm[k.formID]
		delete(keys, k)
		if len(keys) == 0 {
			delete(c.byForm, k.formID)
		}
	}
	return c
}

func (c *recordCache) Get(formID, principal string) ([]FormSubmission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := recordKey{formID: formID, principal: principal}
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	entry := v.(recordEntry)
	if !c.now().Before(entry.expires) {
		c.cache.Remove(key)
		return nil, false
	}
	return entry.subs, true
}

func (c *recordCache) Put(formID, principal string, subs []FormSubmission) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := recordKey{formID: formID, principal: principal}
	c.cache.Add(key, recordEntry{subs: subs, expires: c.now().Add(c.ttl)})
	keys, ok := c.byForm[formID]
	if !ok {
		keys = make(map[recordKey]struct{})
		c.byForm[formID] = keys
	}
	keys[key] = struct{}{}
}

// Invalidate drops the form's lists for every caller.
func (c *recordCache) Invalidate(formID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.byForm[formID] {
		c.cache.Remove(key)
	}
	delete(c.byForm, formID)
}

func (c *recordCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
