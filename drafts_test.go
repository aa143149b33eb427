package main

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftStoreIsolatesSessionsAndForms(t *testing.T) {
	d := NewDraftStore()
	d.Set("s1", "form-1", "f1", TextValue("mine"))
	d.Set("s2", "form-1", "f1", TextValue("theirs"))
	d.Set("s1", "form-2", "f1", NumberValue(3))

	v, ok := d.Value("s1", "form-1", "f1")
	require.True(t, ok)
	assert.Equal(t, TextValue("mine"), v)

	_, ok = d.Value("s1", "form-1", "f2")
	assert.False(t, ok)

	draft := d.Get("s1", "form-1")
	draft["f1"] = TextValue("mutated")
	v, _ = d.Value("s1", "form-1", "f1")
	assert.Equal(t, TextValue("mine"), v, "Get returns a copy")

	d.Clear("s1", "form-1")
	assert.Empty(t, d.Get("s1", "form-1"))
	v, _ = d.Value("s2", "form-1", "f1")
	assert.Equal(t, TextValue("theirs"), v)
	v, _ = d.Value("s1", "form-2", "f1")
	assert.Equal(t, NumberValue(3), v)
}

func TestDraftStoreConcurrentWriters(t *testing.T) {
	d := NewDraftStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Set("s", "form", fmt.Sprintf("f%d", i%4), NumberValue(float64(i)))
		}(i)
	}
	wg.Wait()
	assert.Len(t, d.Get("s", "form"), 4)
}

func TestRecordCacheEvictsAndInvalidates(t *testing.T) {
	c := newRecordCache(2, time.Minute)
	c.Put("a", "", []FormSubmission{{ID: "1"}})
	c.Put("b", "", nil)
	c.Put("c", "", nil)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("a", "")
	assert.False(t, ok, "least recently used entry is evicted")

	c.Invalidate("b")
	_, ok = c.Get("b", "")
	assert.False(t, ok)
	_, ok = c.Get("c", "")
	assert.True(t, ok)
}

func TestRecordCacheScopesByCaller(t *testing.T) {
	c := newRecordCache(8, time.Minute)
	c.Put("form-1", "Bearer alice", []FormSubmission{{ID: "alice-row"}})

	_, ok := c.Get("form-1", "Bearer bob")
	assert.False(t, ok, "another caller never sees a cached list")

	c.Put("form-1", "Bearer bob", []FormSubmission{{ID: "bob-row"}})
	c.Put("form-2", "Bearer bob", nil)
	c.Invalidate("form-1")
	_, ok = c.Get("form-1", "Bearer alice")
	assert.False(t, ok)
	_, ok = c.Get("form-1", "Bearer bob")
	assert.False(t, ok)
	_, ok = c.Get("form-2", "Bearer bob")
	assert.True(t, ok, "other forms survive")
}

func TestRecordCacheExpires(t *testing.T) {
	c := newRecordCache(8, 10*time.Second)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("form-1", "", []FormSubmission{{ID: "1"}})
	now = now.Add(9 * time.Second)
	subs, ok := c.Get("form-1", "")
	require.True(t, ok)
	assert.Len(t, subs, 1)

	now = now.Add(time.Second)
	_, ok = c.Get("form-1", "")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLoadRecordsUsesCache(t *testing.T) {
	remote := newFakeRemote()
	remote.addForm(Form{ID: "form-1"})
	s := newTestService(t, remote)

	_, err := s.loadRecords(t.Context(), "form-1")
	require.NoError(t, err)
	_, err = s.loadRecords(t.Context(), "form-1")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.fetchListCalls)

	s.records.Invalidate("form-1")
	_, err = s.loadRecords(t.Context(), "form-1")
	require.NoError(t, err)
	assert.Equal(t, 2, remote.fetchListCalls)

	_, err = s.loadRecords(withBearer(t.Context(), "Bearer other"), "form-1")
	require.NoError(t, err)
	assert.Equal(t, 3, remote.fetchListCalls, "a different bearer reads through")
}
