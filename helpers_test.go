package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRemote is an in-memory Remote. Submission data is kept as raw JSON so
// byte-level behaviour of edits can be checked.
type fakeRemote struct {
	mu          sync.Mutex
	forms       map[string]Form
	menus       map[string][]string
	fields      map[string][]Field
	subs        map[string]*FormSubmission
	stored      map[string]json.RawMessage
	order       []string
	transitions map[string][]WorkflowTransition
	options     map[string][]Option

	inserted       []FormSubmission
	deleted        []string
	updated        map[string]int
	fetchListCalls int
	nextID         int

	failInsert error
	failApply  error
	failLookup error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		forms:       map[string]Form{},
		menus:       map[string][]string{},
		fields:      map[string][]Field{},
		subs:        map[string]*FormSubmission{},
		stored:      map[string]json.RawMessage{},
		transitions: map[string][]WorkflowTransition{},
		options:     map[string][]Option{},
		updated:     map[string]int{},
	}
}

func (f *fakeRemote) addForm(form Form, fields ...Field) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms[form.ID] = form
	f.fields[form.ID] = fields
}

// addSubmission stores raw data exactly as given.
func (f *fakeRemote) addSubmission(t *testing.T, sub FormSubmission, raw string) {
	t.Helper()
	var data map[string]FieldSubmission
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	sub.Data = data
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.ID] = &sub
	f.stored[sub.ID] = json.RawMessage(raw)
	f.order = append(f.order, sub.ID)
}

func (f *fakeRemote) FetchForms(ctx context.Context) ([]Form, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Form{}
	for _, form := range f.forms {
		out = append(out, form)
	}
	return out, nil
}

func (f *fakeRemote) FetchMenuForms(ctx context.Context, menuID string) ([]Form, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Form{}
	for _, id := range f.menus[menuID] {
		out = append(out, f.forms[id])
	}
	return out, nil
}

func (f *fakeRemote) FetchForm(ctx context.Context, formID string) (*Form, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[formID]
	if !ok {
		return nil, NotFoundError("form " + formID + " not found")
	}
	return &form, nil
}

func (f *fakeRemote) FetchFormFields(ctx context.Context, formID string) ([]Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Field(nil), f.fields[formID]...), nil
}

func (f *fakeRemote) FetchSubmissions(ctx context.Context, formID string) ([]FormSubmission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchListCalls++
	out := []FormSubmission{}
	for _, id := range f.order {
		if sub := f.subs[id]; sub.FormID == formID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRemote) FetchSubmission(ctx context.Context, submissionID string) (*FormSubmission, json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[submissionID]
	if !ok {
		return nil, nil, NotFoundError("submission " + submissionID + " not found")
	}
	cp := *sub
	cp.Data = make(map[string]FieldSubmission, len(sub.Data))
	for k, v := range sub.Data {
		cp.Data[k] = v
	}
	return &cp, append(json.RawMessage(nil), f.stored[submissionID]...), nil
}

func (f *fakeRemote) InsertSubmission(ctx context.Context, sub FormSubmission) (string, error) {
	if f.failInsert != nil {
		return "", f.failInsert
	}
	raw, err := json.Marshal(sub.Data)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub.ID = fmt.Sprintf("sub-%d", f.nextID)
	f.inserted = append(f.inserted, sub)
	f.subs[sub.ID] = &sub
	f.stored[sub.ID] = raw
	f.order = append(f.order, sub.ID)
	return sub.ID, nil
}

func (f *fakeRemote) UpdateSubmissionData(ctx context.Context, submissionID string, data json.RawMessage) error {
	var decoded map[string]FieldSubmission
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[submissionID]
	if !ok {
		return NotFoundError("submission " + submissionID + " not found")
	}
	sub.Data = decoded
	f.stored[submissionID] = append(json.RawMessage(nil), data...)
	f.updated[submissionID]++
	return nil
}

func (f *fakeRemote) DeleteSubmission(ctx context.Context, submissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[submissionID]; !ok {
		return NotFoundError("submission " + submissionID + " not found")
	}
	delete(f.subs, submissionID)
	delete(f.stored, submissionID)
	for i, id := range f.order {
		if id == submissionID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, submissionID)
	return nil
}

func (f *fakeRemote) FetchTransitions(ctx context.Context, workflowID string) ([]WorkflowTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WorkflowTransition{}, f.transitions[workflowID]...), nil
}

func (f *fakeRemote) ApplyTransition(ctx context.Context, submissionID string, t WorkflowTransition) (*Status, error) {
	if f.failApply != nil {
		return nil, f.failApply
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[submissionID]
	if !ok {
		return nil, NotFoundError("submission " + submissionID + " not found")
	}
	if t.ToStatusID == nil {
		sub.WorkflowID = nil
		return sub.Status, nil
	}
	status := &Status{ID: *t.ToStatusID}
	if t.ToStatus != nil {
		status.Name = t.ToStatus.Name
	}
	sub.Status = status
	return status, nil
}

func (f *fakeRemote) LookupOptions(ctx context.Context, optionID string) ([]Option, error) {
	if f.failLookup != nil {
		return nil, f.failLookup
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.options[optionID], nil
}

func strPtr(s string) *string { return &s }

func testConfig(t *testing.T) *Config {
	t.Helper()
	config := defaultConfig()
	config.DBEngine = "sqlite-pure"
	config.DBPath = filepath.Join(t.TempDir(), "dynaform.db")
	config.GeocoderURL = ""
	config.QRScanTimeout = time.Second
	return config
}

// newTestService wires a Service over remote with a fresh modernc SQLite file.
func newTestService(t *testing.T, remote Remote) *Service {
	t.Helper()
	config := testConfig(t)
	logger := zaptest.NewLogger(t)

	db, err := connectDB(config, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := newService(db, config, remote, nil, defaultCapabilities(config, remote), logger)
	require.NoError(t, s.migrate())
	return s
}

func testLocalizer() *Localizer {
	return NewLocalizers("en", time.UTC).For("en")
}
