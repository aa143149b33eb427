package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearWorkflow() []WorkflowTransition {
	return []WorkflowTransition{
		{ID: "t0", Name: "Open", WorkflowID: "wf", ToStatusID: strPtr("S1"), ToStatus: &Status{ID: "S1", Name: "New"}},
		{ID: "t1", Name: "Review", WorkflowID: "wf", FromStatusID: strPtr("S1"), ToStatusID: strPtr("S2"),
			FromStatus: &Status{ID: "S1", Name: "New"}, ToStatus: &Status{ID: "S2", Name: "In review"}},
		{ID: "t2", Name: "Approve", WorkflowID: "wf", FromStatusID: strPtr("S2"), ToStatusID: strPtr("S3"),
			FromStatus: &Status{ID: "S2", Name: "In review"}, ToStatus: &Status{ID: "S3", Name: "Approved"}},
		{ID: "t3", Name: "Archive", WorkflowID: "wf", FromStatusID: strPtr("S3")},
	}
}

func transitionIDs(ts []WorkflowTransition) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func newTestGate(remote *fakeRemote) (*Gate, *recordCache) {
	codec, _ := newTestCodec()
	records := newRecordCache(8, time.Minute)
	return NewGate(remote, NewAssembler(codec, remote, nil), records, nil), records
}

func TestAvailableTransitions(t *testing.T) {
	all := linearWorkflow()

	assert.Equal(t, []string{"t0"}, transitionIDs(AvailableTransitions(all, nil)))
	assert.Equal(t, []string{"t0"}, transitionIDs(AvailableTransitions(all, &Status{})))
	assert.Equal(t, []string{"t1"}, transitionIDs(AvailableTransitions(all, &Status{ID: "S1"})))
	assert.Equal(t, []string{"t3"}, transitionIDs(AvailableTransitions(all, &Status{ID: "S3"})))

	none := AvailableTransitions(all, &Status{ID: "unknown"})
	require.NotNil(t, none)
	assert.Empty(t, none)
}

func TestFireMovesRecordToNextStatus(t *testing.T) {
	remote := newFakeRemote()
	remote.transitions["wf"] = linearWorkflow()
	remote.addSubmission(t, FormSubmission{ID: "s1", FormID: "form-1", WorkflowID: strPtr("wf"), Status: &Status{ID: "S1"}}, `{}`)
	gate, _ := newTestGate(remote)
	ctx := context.Background()

	before, err := gate.Available(ctx, "wf", &Status{ID: "S1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, transitionIDs(before))

	res, err := gate.Fire(ctx, FireRequest{WorkflowID: "wf", TransitionID: "t1", SubmissionID: "s1", FormID: "form-1"})
	require.NoError(t, err)
	assert.Equal(t, "Review", res.TransitionName)
	assert.Equal(t, "s1", res.SubmissionID)
	require.NotNil(t, res.Status)
	assert.Equal(t, "S2", res.Status.ID)

	after, err := gate.Available(ctx, "wf", res.Status)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, transitionIDs(after))
}

func TestFireInvalidatesCachedRecords(t *testing.T) {
	remote := newFakeRemote()
	remote.transitions["wf"] = linearWorkflow()
	remote.addSubmission(t, FormSubmission{ID: "s1", FormID: "form-1", Status: &Status{ID: "S1"}}, `{}`)
	gate, records := newTestGate(remote)
	records.Put("form-1", "Bearer alice", []FormSubmission{{ID: "s1"}})
	records.Put("form-1", "Bearer bob", []FormSubmission{{ID: "s1"}})

	_, err := gate.Fire(context.Background(), FireRequest{WorkflowID: "wf", TransitionID: "t1", SubmissionID: "s1"})
	require.NoError(t, err)
	_, ok := records.Get("form-1", "Bearer alice")
	assert.False(t, ok, "the record's own form is resolved without form_id")
	_, ok = records.Get("form-1", "Bearer bob")
	assert.False(t, ok)
}

func TestFireUnknownRecordWritesNothing(t *testing.T) {
	remote := newFakeRemote()
	wf := linearWorkflow()
	wf[1].FormID = strPtr("review")
	remote.transitions["wf"] = wf
	remote.addForm(Form{ID: "review"}, Field{ID: "note", Name: "Note", FieldType: FieldText})
	gate, _ := newTestGate(remote)

	_, err := gate.Fire(context.Background(), FireRequest{
		WorkflowID: "wf", TransitionID: "t1", SubmissionID: "missing",
		Values: map[string]any{"note": "ok"},
	})
	require.Error(t, err)
	assert.Equal(t, ErrNotFound, KindOf(err))
	assert.Empty(t, remote.inserted)
}

func TestFireRejectedMoveRemovesTransitionForm(t *testing.T) {
	remote := newFakeRemote()
	wf := linearWorkflow()
	wf[1].FormID = strPtr("review")
	remote.transitions["wf"] = wf
	remote.addForm(Form{ID: "review"}, Field{ID: "note", Name: "Note", FieldType: FieldText})
	remote.addSubmission(t, FormSubmission{ID: "s1", FormID: "form-1", WorkflowID: strPtr("wf"), Status: &Status{ID: "S1"}}, `{}`)
	remote.failApply = NewError(ErrRemoteQuery, "transition not allowed")
	gate, _ := newTestGate(remote)

	_, err := gate.Fire(context.Background(), FireRequest{
		WorkflowID: "wf", TransitionID: "t1", SubmissionID: "s1",
		Values: map[string]any{"note": "looks fine"},
	})
	require.Error(t, err)
	assert.Equal(t, ErrRemoteQuery, KindOf(err))

	require.Len(t, remote.inserted, 1)
	assert.Equal(t, []string{remote.inserted[0].ID}, remote.deleted)
	subs, err := remote.FetchSubmissions(context.Background(), "review")
	require.NoError(t, err)
	assert.Empty(t, subs, "no transition form record survives a rejected move")
	assert.Equal(t, "S1", remote.subs["s1"].Status.ID)
}

func TestFireRejectedStartTransitionRemovesNewRecord(t *testing.T) {
	remote := newFakeRemote()
	wf := linearWorkflow()
	wf[0].FormID = strPtr("intake")
	remote.transitions["wf"] = wf
	remote.addForm(Form{ID: "intake"}, Field{ID: "who", Name: "Who", FieldType: FieldText})
	remote.failApply = NewError(ErrRemoteQuery, "workflow closed")
	gate, _ := newTestGate(remote)

	_, err := gate.Fire(context.Background(), FireRequest{
		WorkflowID: "wf", TransitionID: "t0", Values: map[string]any{"who": "Ada"},
	})
	require.Error(t, err)
	assert.Equal(t, []string{"sub-1"}, remote.deleted)
	assert.Empty(t, remote.subs)
}

func TestFireSubmitsTransitionForm(t *testing.T) {
	remote := newFakeRemote()
	wf := linearWorkflow()
	wf[0].FormID = strPtr("intake")
	remote.transitions["wf"] = wf
	remote.addForm(Form{ID: "intake", Name: "Intake"},
		Field{ID: "who", Name: "Who", FieldType: FieldText, IsRequired: true},
		Field{ID: "qty", Name: "Qty", FieldType: FieldNumber},
	)
	gate, records := newTestGate(remote)
	records.Put("intake", "", nil)

	res, err := gate.Fire(context.Background(), FireRequest{
		WorkflowID: "wf", TransitionID: "t0",
		Values: map[string]any{"who": "Ada", "qty": "3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", res.FormSubmissionID)
	assert.Equal(t, "sub-1", res.SubmissionID, "start transition targets the new record")
	assert.Equal(t, "S1", res.Status.ID)

	require.Len(t, remote.inserted, 1)
	stored := remote.inserted[0]
	assert.Equal(t, "intake", stored.FormID)
	assert.Equal(t, strPtr("wf"), stored.WorkflowID)
	assert.Equal(t, TextValue("Ada"), stored.Data["who"].Value)
	assert.Equal(t, NumberValue(3), stored.Data["qty"].Value)

	_, ok := records.Get("intake", "")
	assert.False(t, ok)
}

func TestFireTransitionFormValidation(t *testing.T) {
	remote := newFakeRemote()
	wf := linearWorkflow()
	wf[0].FormID = strPtr("intake")
	remote.transitions["wf"] = wf
	remote.addForm(Form{ID: "intake"}, Field{ID: "who", Name: "Who", FieldType: FieldText, IsRequired: true})
	gate, _ := newTestGate(remote)

	_, err := gate.Fire(context.Background(), FireRequest{WorkflowID: "wf", TransitionID: "t0"})
	require.Error(t, err)
	assert.Equal(t, ErrValidation, KindOf(err))
	assert.Empty(t, remote.inserted)
}

func TestFireErrors(t *testing.T) {
	remote := newFakeRemote()
	remote.transitions["wf"] = linearWorkflow()
	gate, _ := newTestGate(remote)
	ctx := context.Background()

	_, err := gate.Fire(ctx, FireRequest{WorkflowID: "wf", TransitionID: "nope", SubmissionID: "s1"})
	require.Error(t, err)
	assert.Equal(t, ErrNotFound, KindOf(err))

	_, err = gate.Fire(ctx, FireRequest{WorkflowID: "wf", TransitionID: "t1"})
	require.Error(t, err)
	verr, ok := asValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "submission_id", verr.Violations[0].FieldID)

	remote.addSubmission(t, FormSubmission{ID: "s1", FormID: "form-1"}, `{}`)
	remote.failApply = NewError(ErrRemoteQuery, "transition not allowed from current status")
	_, err = gate.Fire(ctx, FireRequest{WorkflowID: "wf", TransitionID: "t2", SubmissionID: "s1"})
	require.Error(t, err)
	assert.Equal(t, ErrRemoteQuery, KindOf(err))
}

func TestDiagram(t *testing.T) {
	got := Diagram(linearWorkflow())
	want := "stateDiagram-v2\n" +
		"    state \"New\" as s_S1\n" +
		"    state \"In review\" as s_S2\n" +
		"    state \"Approved\" as s_S3\n" +
		"    [*] --> s_S1: Open\n" +
		"    s_S1 --> s_S2: Review\n" +
		"    s_S2 --> s_S3: Approve\n" +
		"    s_S3 --> [*]: Archive\n"
	assert.Equal(t, want, got)
}

func TestDiagramSanitizesLabels(t *testing.T) {
	got := Diagram([]WorkflowTransition{{
		ID: "x", Name: "Send: \"now\"", FromStatusID: strPtr("a-1"), ToStatusID: strPtr("b 2"),
	}})
	assert.Contains(t, got, "state \"a-1\" as s_a_1\n")
	assert.Contains(t, got, "state \"b 2\" as s_b_2\n")
	assert.Contains(t, got, "s_a_1 --> s_b_2: Send - 'now'\n")
}
