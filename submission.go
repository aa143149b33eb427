package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"go.uber.org/zap"
)

// SubmissionStore is the part of the remote store the assembler writes through.
type SubmissionStore interface {
	InsertSubmission(ctx context.Context, sub FormSubmission) (string, error)
	FetchSubmission(ctx context.Context, submissionID string) (*FormSubmission, json.RawMessage, error)
	UpdateSubmissionData(ctx context.Context, submissionID string, data json.RawMessage) error
}

// Assembler builds complete submission payloads from per-field values.
type Assembler struct {
	codec  *Codec
	store  SubmissionStore
	logger *zap.Logger
}

func NewAssembler(codec *Codec, store SubmissionStore, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{codec: codec, store: store, logger: logger}
}

// Assemble returns one entry per field. Fields missing from values get their
// default value.
func (a *Assembler) Assemble(ctx context.Context, fields []Field, values map[string]FieldValue) (map[string]FieldSubmission, error) {
	data := make(map[string]FieldSubmission, len(fields))
	for _, f := range fields {
		v, ok := values[f.ID]
		if !ok {
			v = a.codec.DefaultValue(ctx, f)
		}
		if err := CheckShape(f.FieldType, v); err != nil {
			return nil, ShapeError(f.ID, err.Error())
		}
		data[f.ID] = FieldSubmission{Name: f.Name, Value: v, FieldType: f.FieldType}
	}
	return data, nil
}

// Validate reports every required field without a value in one error.
func (a *Assembler) Validate(fields []Field, data map[string]FieldSubmission) error {
	var violations []FieldViolation
	for _, f := range fields {
		if !f.IsRequired {
			continue
		}
		entry, ok := data[f.ID]
		if ok && !isEmptyValue(entry.Value) {
			continue
		}
		violations = append(violations, FieldViolation{
			FieldID:   f.ID,
			FieldName: f.Name,
			Code:      ViolationRequired,
		})
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

// Submit assembles, validates and stores a new submission. Nothing is written
// when validation fails.
func (a *Assembler) Submit(ctx context.Context, formID string, workflowID *string, fields []Field, values map[string]FieldValue) (string, error) {
	data, err := a.Assemble(ctx, fields, values)
	if err != nil {
		return "", err
	}
	if err := a.Validate(fields, data); err != nil {
		return "", err
	}
	id, err := a.store.InsertSubmission(ctx, FormSubmission{FormID: formID, WorkflowID: workflowID, Data: data})
	if err != nil {
		a.logger.Warn("Submission was not stored", zap.String("form_id", formID), zap.Error(err))
		return "", err
	}
	a.logger.Info("Submission stored",
		zap.String("form_id", formID), zap.String("submission_id", id), zap.Int("fields", len(data)))
	return id, nil
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// EditField replaces one field of a stored submission and writes the whole
// record back. Other entries are carried over from the stored document as-is.
func (a *Assembler) EditField(ctx context.Context, submissionID string, f Field, v FieldValue) (*FormSubmission, json.RawMessage, error) {
	if err := CheckShape(f.FieldType, v); err != nil {
		return nil, nil, ShapeError(f.ID, err.Error())
	}
	if f.IsRequired && isEmptyValue(v) {
		return nil, nil, &ValidationError{Violations: []FieldViolation{{
			FieldID: f.ID, FieldName: f.Name, Code: ViolationRequired,
		}}}
	}

	sub, stored, err := a.store.FetchSubmission(ctx, submissionID)
	if err != nil {
		return nil, nil, err
	}

	entry := FieldSubmission{Name: f.Name, Value: v, FieldType: f.FieldType}
	merged, err := mergeField(stored, f.ID, entry)
	if err != nil {
		return nil, nil, err
	}
	if err := a.store.UpdateSubmissionData(ctx, submissionID, merged); err != nil {
		a.logger.Warn("Field edit was not stored",
			zap.String("submission_id", submissionID), zap.String("field_id", f.ID), zap.Error(err))
		return nil, nil, err
	}

	if sub.Data == nil {
		sub.Data = make(map[string]FieldSubmission)
	}
	sub.Data[f.ID] = entry
	a.logger.Info("Submission field updated",
		zap.String("submission_id", submissionID), zap.String("field_id", f.ID))
	return sub, merged, nil
}

// mergeField applies a single JSON Patch add of entry at /fieldID to the stored
// data document.
func mergeField(stored json.RawMessage, fieldID string, entry FieldSubmission) (json.RawMessage, error) {
	if len(stored) == 0 {
		stored = json.RawMessage("{}")
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return nil, WrapError(ErrInternal, "failed to encode field entry", err)
	}
	ops, err := json.Marshal([]map[string]any{{
		"op":    "add",
		"path":  "/" + pointerEscaper.Replace(fieldID),
		"value": json.RawMessage(value),
	}})
	if err != nil {
		return nil, WrapError(ErrInternal, "failed to encode patch", err)
	}
	patch, err := jsonpatch.DecodePatch(ops)
	if err != nil {
		return nil, WrapError(ErrInternal, "failed to decode patch", err)
	}
	opts := jsonpatch.NewApplyOptions()
	opts.EscapeHTML = false
	merged, err := patch.ApplyWithOptions(stored, opts)
	if err != nil {
		return nil, WrapError(ErrShapeMismatch, fmt.Sprintf("stored data cannot take field %s", fieldID), err)
	}
	return merged, nil
}
