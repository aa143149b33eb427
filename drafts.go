package main

import "sync"

// DraftStore holds in-progress form values per session and form. Concurrent
// edits of the same draft are last-write-wins.
type DraftStore struct {
	mu     sync.Mutex
	drafts map[draftKey]map[string]FieldValue
}

type draftKey struct {
	session string
	formID  string
}

func NewDraftStore() *DraftStore {
	return &DraftStore{drafts: make(map[draftKey]map[string]FieldValue)}
}

// Get returns a copy of the draft. Fields the user never touched are absent.
func (d *DraftStore) Get(session, formID string) map[string]FieldValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	src := d.drafts[draftKey{session, formID}]
	out := make(map[string]FieldValue, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Value returns one draft value and whether the user has set it.
func (d *DraftStore) Value(session, formID, fieldID string) (FieldValue, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.drafts[draftKey{session, formID}][fieldID]
	return v, ok
}

func (d *DraftStore) Set(session, formID, fieldID string, v FieldValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := draftKey{session, formID}
	if d.drafts[key] == nil {
		d.drafts[key] = make(map[string]FieldValue)
	}
	d.drafts[key][fieldID] = v
}

func (d *DraftStore) Clear(session, formID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.drafts, draftKey{session, formID})
}
