package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// TransitionStore is the part of the remote store the gate needs.
type TransitionStore interface {
	FetchTransitions(ctx context.Context, workflowID string) ([]WorkflowTransition, error)
	ApplyTransition(ctx context.Context, submissionID string, t WorkflowTransition) (*Status, error)
	FetchFormFields(ctx context.Context, formID string) ([]Field, error)
	FetchSubmission(ctx context.Context, submissionID string) (*FormSubmission, json.RawMessage, error)
	DeleteSubmission(ctx context.Context, submissionID string) error
}

// AvailableTransitions keeps the transitions that leave the current status, or
// the start transitions when the record has no status yet.
func AvailableTransitions(all []WorkflowTransition, current *Status) []WorkflowTransition {
	out := []WorkflowTransition{}
	for _, t := range all {
		if current == nil || current.ID == "" {
			if t.FromStatusID == nil {
				out = append(out, t)
			}
			continue
		}
		if t.FromStatusID != nil && *t.FromStatusID == current.ID {
			out = append(out, t)
		}
	}
	return out
}

// FireRequest asks the gate to run one transition. Values are raw widget inputs
// for the transition's own form.
type FireRequest struct {
	WorkflowID   string         `json:"-"`
	TransitionID string         `json:"-"`
	SubmissionID string         `json:"submission_id,omitempty"`
	FormID       string         `json:"form_id"`
	Values       map[string]any `json:"values"`
}

type FireResult struct {
	TransitionID     string  `json:"transition_id"`
	TransitionName   string  `json:"transition_name"`
	SubmissionID     string  `json:"submission_id"`
	FormSubmissionID string  `json:"form_submission_id,omitempty"`
	Status           *Status `json:"status,omitempty"`
}

// Gate dispatches workflow transitions. Legality is decided by the remote
// workflow engine.
type Gate struct {
	store     TransitionStore
	assembler *Assembler
	records   *recordCache
	logger    *zap.Logger
}

func NewGate(store TransitionStore, assembler *Assembler, records *recordCache, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if records == nil {
		records = newRecordCache(0, 0)
	}
	return &Gate{store: store, assembler: assembler, records: records, logger: logger}
}

func (g *Gate) Available(ctx context.Context, workflowID string, current *Status) ([]WorkflowTransition, error) {
	all, err := g.store.FetchTransitions(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return AvailableTransitions(all, current), nil
}

// Fire submits the transition's form, if it has one, then moves the record. A
// request without a submission id applies the transition to the record the
// transition form just created. When the move is rejected the transition form
// record is removed again, so a failed fire leaves nothing behind.
func (g *Gate) Fire(ctx context.Context, req FireRequest) (*FireResult, error) {
	all, err := g.store.FetchTransitions(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	var t *WorkflowTransition
	for i := range all {
		if all[i].ID == req.TransitionID {
			t = &all[i]
			break
		}
	}
	if t == nil {
		return nil, NotFoundError(fmt.Sprintf("transition %s not found in workflow %s", req.TransitionID, req.WorkflowID))
	}
	hasForm := t.FormID != nil && *t.FormID != ""

	// Forms whose cached lists go stale once the record moves.
	var touched []string
	if req.FormID != "" {
		touched = append(touched, req.FormID)
	}
	target := req.SubmissionID
	if target != "" {
		sub, _, err := g.store.FetchSubmission(ctx, target)
		if err != nil {
			return nil, err
		}
		touched = append(touched, sub.FormID)
	} else if !hasForm {
		return nil, &ValidationError{Violations: []FieldViolation{{
			FieldID: "submission_id", FieldName: "submission_id", Code: ViolationRequired,
		}}}
	}

	result := &FireResult{TransitionID: t.ID, TransitionName: t.Name}
	if hasForm {
		id, err := g.submitTransitionForm(ctx, req, *t.FormID)
		if err != nil {
			return nil, err
		}
		result.FormSubmissionID = id
		touched = append(touched, *t.FormID)
		if target == "" {
			target = id
		}
	}

	status, err := g.store.ApplyTransition(ctx, target, *t)
	if err != nil {
		g.logger.Warn("Transition rejected",
			zap.String("transition_id", t.ID), zap.String("submission_id", target), zap.Error(err))
		if result.FormSubmissionID != "" {
			g.discard(ctx, result.FormSubmissionID)
		}
		return nil, err
	}
	result.SubmissionID = target
	result.Status = status

	for _, formID := range touched {
		g.records.Invalidate(formID)
	}
	g.logger.Info("Transition fired",
		zap.String("workflow_id", req.WorkflowID),
		zap.String("transition_id", t.ID),
		zap.String("submission_id", target))
	return result, nil
}

// discard removes a transition form record whose transition did not happen.
func (g *Gate) discard(ctx context.Context, submissionID string) {
	if err := g.store.DeleteSubmission(context.WithoutCancel(ctx), submissionID); err != nil {
		g.logger.Error("Transition form record could not be removed",
			zap.String("submission_id", submissionID), zap.Error(err))
		return
	}
	g.logger.Info("Transition form record removed", zap.String("submission_id", submissionID))
}

func (g *Gate) submitTransitionForm(ctx context.Context, req FireRequest, formID string) (string, error) {
	fields, err := g.store.FetchFormFields(ctx, formID)
	if err != nil {
		return "", err
	}
	values := make(map[string]FieldValue, len(req.Values))
	var violations []FieldViolation
	for _, f := range fields {
		input, ok := req.Values[f.ID]
		if !ok {
			continue
		}
		v, err := g.assembler.codec.CoerceOnEdit(ctx, f, nil, input)
		if err != nil {
			if verr, ok := asValidationError(err); ok {
				violations = append(violations, verr.Violations...)
				continue
			}
			return "", err
		}
		values[f.ID] = v
	}
	if len(violations) > 0 {
		return "", &ValidationError{Violations: violations}
	}
	workflowID := req.WorkflowID
	return g.assembler.Submit(ctx, formID, &workflowID, fields, values)
}

// Diagram renders the workflow as Mermaid stateDiagram-v2 source.
func Diagram(transitions []WorkflowTransition) string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")

	labels := map[string]string{}
	var order []string
	remember := func(id *string, st *Status) {
		if id == nil {
			return
		}
		if _, seen := labels[*id]; !seen {
			order = append(order, *id)
			labels[*id] = *id
		}
		if st != nil && st.Name != "" {
			labels[*id] = st.Name
		}
	}
	for _, t := range transitions {
		remember(t.FromStatusID, t.FromStatus)
		remember(t.ToStatusID, t.ToStatus)
	}
	for _, id := range order {
		fmt.Fprintf(&b, "    state \"%s\" as %s\n", diagramText(labels[id]), stateID(id))
	}

	node := func(id *string) string {
		if id == nil {
			return "[*]"
		}
		return stateID(*id)
	}
	for _, t := range transitions {
		line := fmt.Sprintf("    %s --> %s", node(t.FromStatusID), node(t.ToStatusID))
		if name := diagramText(t.Name); name != "" {
			line += ": " + name
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func stateID(id string) string {
	var b strings.Builder
	b.WriteString("s_")
	for _, r := range id {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func diagramText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.NewReplacer(`"`, "'", ":", " -").Replace(s)
}
