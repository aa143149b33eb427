package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Remote is the form, submission and workflow store behind the GraphQL service.
type Remote interface {
	FetchForms(ctx context.Context) ([]Form, error)
	FetchMenuForms(ctx context.Context, menuID string) ([]Form, error)
	FetchForm(ctx context.Context, formID string) (*Form, error)
	FetchFormFields(ctx context.Context, formID string) ([]Field, error)
	FetchSubmissions(ctx context.Context, formID string) ([]FormSubmission, error)
	// FetchSubmission also returns the stored data document exactly as the store holds it.
	FetchSubmission(ctx context.Context, submissionID string) (*FormSubmission, json.RawMessage, error)
	InsertSubmission(ctx context.Context, sub FormSubmission) (string, error)
	UpdateSubmissionData(ctx context.Context, submissionID string, data json.RawMessage) error
	DeleteSubmission(ctx context.Context, submissionID string) error
	FetchTransitions(ctx context.Context, workflowID string) ([]WorkflowTransition, error)
	ApplyTransition(ctx context.Context, submissionID string, t WorkflowTransition) (*Status, error)
	LookupOptions(ctx context.Context, optionID string) ([]Option, error)
}

const formColumns = `id name description workflow_id`

const fieldColumns = `id name description field_type option_values option_id position is_required`

const submissionColumns = `id form_id workflow_id data created_at updated_at core_dynamic_status { id name }`

const transitionColumns = `id name workflow_id from_status_id to_status_id form_id
	from_status { id name }
	to_status { id name }`

var (
	queryForms = `query Forms {
	core_dynamic_form(order_by: {name: asc}) { ` + formColumns + ` }
}`

	queryMenuForms = `query MenuForms($menuId: uuid!) {
	core_dynamic_menu_form(where: {menu_id: {_eq: $menuId}}, order_by: {position: asc}) {
		core_dynamic_form { ` + formColumns + ` }
	}
}`

	queryForm = `query Form($id: uuid!) {
	core_dynamic_form_by_pk(id: $id) { ` + formColumns + ` }
}`

	queryFormFields = `query FormFields($formId: uuid!) {
	core_dynamic_field(where: {form_id: {_eq: $formId}}, order_by: {position: asc}) { ` + fieldColumns + ` }
}`

	querySubmissions = `query Submissions($formId: uuid!) {
	core_dynamic_form_submission(where: {form_id: {_eq: $formId}}, order_by: {created_at: desc}) { ` + submissionColumns + ` }
}`

	querySubmission = `query Submission($id: uuid!) {
	core_dynamic_form_submission_by_pk(id: $id) { ` + submissionColumns + ` }
}`

	mutationInsertSubmission = `mutation InsertSubmission($object: core_dynamic_form_submission_insert_input!) {
	insert_core_dynamic_form_submission_one(object: $object) { id }
}`

	mutationUpdateSubmissionData = `mutation UpdateSubmissionData($id: uuid!, $data: jsonb!) {
	update_core_dynamic_form_submission_by_pk(pk_columns: {id: $id}, _set: {data: $data}) { id }
}`

	mutationDeleteSubmission = `mutation DeleteSubmission($id: uuid!) {
	delete_core_dynamic_form_submission_by_pk(id: $id) { id }
}`

	queryTransitions = `query Transitions($workflowId: uuid!) {
	core_dynamic_workflow_transition(where: {workflow_id: {_eq: $workflowId}}, order_by: {name: asc}) { ` + transitionColumns + ` }
}`

	mutationMoveStatus = `mutation MoveStatus($id: uuid!, $statusId: uuid!) {
	update_core_dynamic_form_submission_by_pk(pk_columns: {id: $id}, _set: {status_id: $statusId}) {
		id core_dynamic_status { id name }
	}
}`

	mutationLeaveWorkflow = `mutation LeaveWorkflow($id: uuid!) {
	update_core_dynamic_form_submission_by_pk(pk_columns: {id: $id}, _set: {workflow_id: null}) {
		id core_dynamic_status { id name }
	}
}`

	queryOptions = `query Options($id: uuid!) {
	core_dynamic_option_by_pk(id: $id) { id option_values }
}`
)

// HasuraRemote implements Remote with Hasura-style GraphQL operations.
type HasuraRemote struct {
	client *GraphQLClient
	logger *zap.Logger
}

func NewHasuraRemote(client *GraphQLClient, logger *zap.Logger) *HasuraRemote {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HasuraRemote{client: client, logger: logger}
}

func (h *HasuraRemote) FetchForms(ctx context.Context) ([]Form, error) {
	var out struct {
		Forms []Form `json:"core_dynamic_form"`
	}
	if err := h.client.Execute(ctx, queryForms, nil, &out); err != nil {
		return nil, err
	}
	if out.Forms == nil {
		return []Form{}, nil
	}
	return out.Forms, nil
}

func (h *HasuraRemote) FetchMenuForms(ctx context.Context, menuID string) ([]Form, error) {
	var out struct {
		Links []struct {
			Form *Form `json:"core_dynamic_form"`
		} `json:"core_dynamic_menu_form"`
	}
	if err := h.client.Execute(ctx, queryMenuForms, map[string]any{"menuId": menuID}, &out); err != nil {
		return nil, err
	}
	forms := make([]Form, 0, len(out.Links))
	for _, link := range out.Links {
		if link.Form != nil {
			forms = append(forms, *link.Form)
		}
	}
	return forms, nil
}

func (h *HasuraRemote) FetchForm(ctx context.Context, formID string) (*Form, error) {
	var out struct {
		Form *Form `json:"core_dynamic_form_by_pk"`
	}
	if err := h.client.Execute(ctx, queryForm, map[string]any{"id": formID}, &out); err != nil {
		return nil, err
	}
	if out.Form == nil {
		return nil, NotFoundError(fmt.Sprintf("form %s not found", formID))
	}
	return out.Form, nil
}

func (h *HasuraRemote) FetchFormFields(ctx context.Context, formID string) ([]Field, error) {
	var out struct {
		Fields []Field `json:"core_dynamic_field"`
	}
	if err := h.client.Execute(ctx, queryFormFields, map[string]any{"formId": formID}, &out); err != nil {
		return nil, err
	}
	fields := make([]Field, 0, len(out.Fields))
	for _, f := range out.Fields {
		if t, err := ParseFieldType(string(f.FieldType)); err == nil {
			f.FieldType = t
		} else {
			h.logger.Warn("Field has an unknown type, rendering it as text",
				zap.String("field_id", f.ID), zap.String("field_type", string(f.FieldType)))
			f.FieldType = FieldText
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (h *HasuraRemote) FetchSubmissions(ctx context.Context, formID string) ([]FormSubmission, error) {
	var out struct {
		Submissions []FormSubmission `json:"core_dynamic_form_submission"`
	}
	if err := h.client.Execute(ctx, querySubmissions, map[string]any{"formId": formID}, &out); err != nil {
		return nil, err
	}
	if out.Submissions == nil {
		return []FormSubmission{}, nil
	}
	return out.Submissions, nil
}

func (h *HasuraRemote) FetchSubmission(ctx context.Context, submissionID string) (*FormSubmission, json.RawMessage, error) {
	var out struct {
		Submission json.RawMessage `json:"core_dynamic_form_submission_by_pk"`
	}
	if err := h.client.Execute(ctx, querySubmission, map[string]any{"id": submissionID}, &out); err != nil {
		return nil, nil, err
	}
	if len(out.Submission) == 0 || string(out.Submission) == "null" {
		return nil, nil, NotFoundError(fmt.Sprintf("submission %s not found", submissionID))
	}

	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	if err := sonic.Unmarshal(out.Submission, &raw); err != nil {
		return nil, nil, WrapError(ErrRemoteQuery, "failed to decode submission", err)
	}
	var sub FormSubmission
	if err := sonic.Unmarshal(out.Submission, &sub); err != nil {
		return nil, nil, WrapError(ErrRemoteQuery, "failed to decode submission", err)
	}
	data := raw.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	return &sub, data, nil
}

func (h *HasuraRemote) InsertSubmission(ctx context.Context, sub FormSubmission) (string, error) {
	object := map[string]any{
		"form_id": sub.FormID,
		"data":    sub.Data,
	}
	if sub.WorkflowID != nil && *sub.WorkflowID != "" {
		object["workflow_id"] = *sub.WorkflowID
	}
	var out struct {
		Inserted *struct {
			ID string `json:"id"`
		} `json:"insert_core_dynamic_form_submission_one"`
	}
	if err := h.client.Execute(ctx, mutationInsertSubmission, map[string]any{"object": object}, &out); err != nil {
		return "", err
	}
	if out.Inserted == nil || out.Inserted.ID == "" {
		return "", NewError(ErrRemoteQuery, "insert returned no submission id")
	}
	return out.Inserted.ID, nil
}

func (h *HasuraRemote) UpdateSubmissionData(ctx context.Context, submissionID string, data json.RawMessage) error {
	var out struct {
		Updated *struct {
			ID string `json:"id"`
		} `json:"update_core_dynamic_form_submission_by_pk"`
	}
	vars := map[string]any{"id": submissionID, "data": data}
	if err := h.client.Execute(ctx, mutationUpdateSubmissionData, vars, &out); err != nil {
		return err
	}
	if out.Updated == nil {
		return NotFoundError(fmt.Sprintf("submission %s not found", submissionID))
	}
	return nil
}

func (h *HasuraRemote) DeleteSubmission(ctx context.Context, submissionID string) error {
	var out struct {
		Deleted *struct {
			ID string `json:"id"`
		} `json:"delete_core_dynamic_form_submission_by_pk"`
	}
	if err := h.client.Execute(ctx, mutationDeleteSubmission, map[string]any{"id": submissionID}, &out); err != nil {
		return err
	}
	if out.Deleted == nil {
		return NotFoundError(fmt.Sprintf("submission %s not found", submissionID))
	}
	return nil
}

func (h *HasuraRemote) FetchTransitions(ctx context.Context, workflowID string) ([]WorkflowTransition, error) {
	var out struct {
		Transitions []WorkflowTransition `json:"core_dynamic_workflow_transition"`
	}
	if err := h.client.Execute(ctx, queryTransitions, map[string]any{"workflowId": workflowID}, &out); err != nil {
		return nil, err
	}
	if out.Transitions == nil {
		return []WorkflowTransition{}, nil
	}
	return out.Transitions, nil
}

// ApplyTransition moves the record to the transition's target status. A terminal
// transition takes the record out of its workflow and keeps its last status.
func (h *HasuraRemote) ApplyTransition(ctx context.Context, submissionID string, t WorkflowTransition) (*Status, error) {
	query := mutationLeaveWorkflow
	vars := map[string]any{"id": submissionID}
	if t.ToStatusID != nil {
		query = mutationMoveStatus
		vars["statusId"] = *t.ToStatusID
	}
	var out struct {
		Updated *struct {
			ID     string  `json:"id"`
			Status *Status `json:"core_dynamic_status"`
		} `json:"update_core_dynamic_form_submission_by_pk"`
	}
	if err := h.client.Execute(ctx, query, vars, &out); err != nil {
		return nil, err
	}
	if out.Updated == nil {
		return nil, NotFoundError(fmt.Sprintf("submission %s not found", submissionID))
	}
	return out.Updated.Status, nil
}

// LookupOptions resolves a SEARCH field's option_id to its option list.
func (h *HasuraRemote) LookupOptions(ctx context.Context, optionID string) ([]Option, error) {
	if strings.TrimSpace(optionID) == "" {
		return []Option{}, nil
	}
	var out struct {
		Option *struct {
			ID           string          `json:"id"`
			OptionValues json.RawMessage `json:"option_values"`
		} `json:"core_dynamic_option_by_pk"`
	}
	if err := h.client.Execute(ctx, queryOptions, map[string]any{"id": optionID}, &out); err != nil {
		return nil, err
	}
	if out.Option == nil {
		return []Option{}, nil
	}
	return ParseOptionValues(out.Option.OptionValues), nil
}
