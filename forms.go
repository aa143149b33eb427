package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Service) handleListForms(w http.ResponseWriter, r *http.Request) {
	forms, err := s.remote.FetchForms(r.Context())
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, forms)
}

func (s *Service) handleListMenuForms(w http.ResponseWriter, r *http.Request) {
	forms, err := s.remote.FetchMenuForms(r.Context(), mux.Vars(r)["menuId"])
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, forms)
}

// handleGetForm returns the form with one widget per field showing the draft.
func (s *Service) handleGetForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lz := s.localizers.ForRequest(r)

	form, subs, err := s.loadForm(ctx, mux.Vars(r)["formId"])
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	widgets := make([]Widget, 0, len(form.Fields))
	for _, f := range form.Fields {
		widgets = append(widgets, s.renderer.Render(ctx, lz, f, form, s.draftValue(ctx, form.ID, f), subs))
	}
	respondJSON(w, http.StatusOK, FormResponse{Form: *form, Widgets: widgets})
}

// handleSetDraftValue applies one widget edit to the session's draft.
func (s *Service) handleSetDraftValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lz := s.localizers.ForRequest(r)
	vars := mux.Vars(r)
	formID := vars["formId"]

	var body struct {
		Value any `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	fields, f, err := s.formField(ctx, formID, vars["fieldId"])
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	v, err := s.codec.CoerceOnEdit(ctx, *f, s.draftValue(ctx, formID, *f), body.Value)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	s.drafts.Set(sessionFromContext(ctx), formID, f.ID, v)

	subs, err := s.loadRecords(ctx, formID)
	if err != nil {
		s.logger.Debug("Rendering without loaded submissions", zap.String("form_id", formID), zap.Error(err))
	}
	form := &Form{ID: formID, Fields: fields}
	respondJSON(w, http.StatusOK, WidgetResponse{Widget: s.renderer.Render(ctx, lz, *f, form, v, subs)})
}

// handleCapture runs a capture field's capability with what the browser sent.
// A failed capture answers 409 and leaves the draft value as it was.
func (s *Service) handleCapture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lz := s.localizers.ForRequest(r)
	vars := mux.Vars(r)
	formID := vars["formId"]

	fields, f, err := s.formField(ctx, formID, vars["fieldId"])
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	req, err := s.readCaptureRequest(w, r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		respondError(w, status, "Invalid capture: "+err.Error())
		return
	}

	session := sessionFromContext(ctx)
	if f.FieldType == FieldExport && req.Export == nil {
		exported := make([]Field, 0, len(fields))
		for _, other := range fields {
			if other.FieldType != FieldExport {
				exported = append(exported, other)
			}
		}
		if data, err := s.assembler.Assemble(ctx, exported, s.drafts.Get(session, formID)); err == nil {
			req.Export = data
		}
	}

	notes := &notificationList{}
	res := s.renderer.Capture(ctx, lz, *f, s.draftValue(ctx, formID, *f), req, func(v FieldValue) {
		s.drafts.Set(session, formID, f.ID, v)
	}, notes)
	res.Message = lz.Text(res.Message)

	form := &Form{ID: formID, Fields: fields}
	widget := s.renderer.Render(ctx, lz, *f, form, s.draftValue(ctx, formID, *f), nil)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	respondJSON(w, status, WidgetResponse{Widget: widget, Result: &res, Notifications: notes.Items()})
}

// readCaptureRequest accepts a JSON body, or a multipart form with a "file"
// part and any number of "frames" parts. The whole body is capped at twice the
// capture limit, which leaves room for base64 and the envelope.
func (s *Service) readCaptureRequest(w http.ResponseWriter, r *http.Request) (CaptureRequest, error) {
	maxBytes := int64(s.config.MaxCaptureBytes)
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxBytes)
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var body struct {
			CaptureRequest
			Frames []string `json:"frames"`
		}
		if err := decodeBody(r, &body); err != nil {
			return CaptureRequest{}, err
		}
		req := body.CaptureRequest
		if len(body.Frames) > 0 {
			frames := make([][]byte, 0, len(body.Frames))
			for _, uri := range body.Frames {
				if _, b, ok := parseDataURI(uri); ok {
					frames = append(frames, b)
				}
			}
			req.Frames = newImageFrames(frames)
		}
		return req, nil
	}

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return CaptureRequest{}, err
	}
	defer r.MultipartForm.RemoveAll()

	req := CaptureRequest{
		DataURI:  r.FormValue("data_uri"),
		URL:      r.FormValue("url"),
		FileName: r.FormValue("file_name"),
		MimeType: r.FormValue("mime_type"),
		Denied:   r.FormValue("denied"),
	}
	if v := r.FormValue("duration"); v != "" {
		req.Duration, _ = strconv.ParseFloat(v, 64)
	}
	req.Latitude = formFloat(r, "lat")
	req.Longitude = formFloat(r, "lng")

	if file, header, err := r.FormFile("file"); err == nil {
		content, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		file.Close()
		if err != nil {
			return CaptureRequest{}, err
		}
		req.Content = content
		if req.FileName == "" {
			req.FileName = header.Filename
		}
		if req.MimeType == "" {
			req.MimeType = header.Header.Get("Content-Type")
		}
	}

	if parts := r.MultipartForm.File["frames"]; len(parts) > 0 {
		frames := make([][]byte, 0, len(parts))
		for _, part := range parts {
			f, err := part.Open()
			if err != nil {
				continue
			}
			b, err := io.ReadAll(io.LimitReader(f, maxBytes))
			f.Close()
			if err == nil {
				frames = append(frames, b)
			}
		}
		req.Frames = newImageFrames(frames)
	}
	return req, nil
}

func formFloat(r *http.Request, key string) *float64 {
	v := r.FormValue(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func (s *Service) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	s.drafts.Clear(sessionFromContext(r.Context()), mux.Vars(r)["formId"])
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitDraft stores the session's draft. The draft is only discarded once
// the store has acknowledged the new record.
func (s *Service) handleSubmitDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lz := s.localizers.ForRequest(r)
	formID := mux.Vars(r)["formId"]
	session := sessionFromContext(ctx)

	form, err := s.remote.FetchForm(ctx, formID)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	fields, err := s.remote.FetchFormFields(ctx, form.ID)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}

	id, err := s.assembler.Submit(ctx, form.ID, form.WorkflowID, fields, s.drafts.Get(session, form.ID))
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	s.drafts.Clear(session, form.ID)
	s.records.Invalidate(form.ID)
	respondJSON(w, http.StatusCreated, SubmitResponse{
		ID:            id,
		Notifications: []Notification{{Level: LevelInfo, Message: lz.T(msgSubmitted)}},
	})
}

// handleCreateFormSubmission stores a submission sent in one request. Data
// values may be bare values or {name, value, field_type} entries.
func (s *Service) handleCreateFormSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lz := s.localizers.ForRequest(r)

	var body struct {
		FormID     string         `json:"formId"`
		WorkflowID *string        `json:"workflowId"`
		Data       map[string]any `json:"data"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if body.FormID == "" {
		respondError(w, http.StatusBadRequest, "formId is required")
		return
	}

	form, err := s.remote.FetchForm(ctx, body.FormID)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	if body.WorkflowID == nil {
		body.WorkflowID = form.WorkflowID
	}
	fields, err := s.remote.FetchFormFields(ctx, body.FormID)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	values, err := s.coerceAll(r, fields, body.Data)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}

	id, err := s.assembler.Submit(ctx, body.FormID, body.WorkflowID, fields, values)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	s.records.Invalidate(body.FormID)
	respondJSON(w, http.StatusCreated, SubmitResponse{
		ID:            id,
		Notifications: []Notification{{Level: LevelInfo, Message: lz.T(msgSubmitted)}},
	})
}

// coerceAll runs every provided input through the codec and reports all invalid
// inputs together.
func (s *Service) coerceAll(r *http.Request, fields []Field, data map[string]any) (map[string]FieldValue, error) {
	values := make(map[string]FieldValue, len(data))
	var violations []FieldViolation
	for _, f := range fields {
		input, ok := data[f.ID]
		if !ok {
			continue
		}
		if entry, isEntry := input.(map[string]any); isEntry {
			if _, hasType := entry["field_type"]; hasType {
				input = entry["value"]
			}
		}
		v, err := s.codec.CoerceOnEdit(r.Context(), f, nil, input)
		if err != nil {
			if verr, ok := asValidationError(err); ok {
				violations = append(violations, verr.Violations...)
				continue
			}
			return nil, err
		}
		values[f.ID] = v
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return values, nil
}

// handleListSubmissions returns the data table of a form.
func (s *Service) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lz := s.localizers.ForRequest(r)

	form, subs, err := s.loadForm(ctx, mux.Vars(r)["formId"])
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}

	var transitions []WorkflowTransition
	if form.WorkflowID != nil && *form.WorkflowID != "" {
		transitions, err = s.remote.FetchTransitions(ctx, *form.WorkflowID)
		if err != nil {
			respondFailure(w, lz, err, nil)
			return
		}
	}

	choices := make(map[string][]Option, len(form.Fields))
	for _, f := range form.Fields {
		if opts := s.renderer.Options(ctx, f, form, subs); opts != nil {
			choices[f.ID] = opts
		}
	}

	rows := make([]SubmissionRow, 0, len(subs))
	for _, sub := range subs {
		row := SubmissionRow{
			ID:        sub.ID,
			Status:    sub.Status,
			Cells:     make(map[string]string, len(form.Fields)),
			CreatedAt: sub.CreatedAt,
			UpdatedAt: sub.UpdatedAt,
		}
		for _, f := range form.Fields {
			row.Cells[f.ID] = s.displayCell(lz, f, sub.Data, choices[f.ID])
		}
		if sub.WorkflowID != nil && form.WorkflowID != nil && *sub.WorkflowID == *form.WorkflowID {
			row.Transitions = AvailableTransitions(transitions, sub.Status)
		}
		rows = append(rows, row)
	}

	respondJSON(w, http.StatusOK, SubmissionListResponse{
		FormID:  form.ID,
		Columns: form.Fields,
		Count:   len(rows),
		Results: rows,
	})
}

// displayCell prints a stored entry. Entries that could not be decoded are
// shown as stored.
func (s *Service) displayCell(lz *Localizer, f Field, data map[string]FieldSubmission, choices []Option) string {
	entry, ok := data[f.ID]
	if !ok {
		return lz.NoData()
	}
	if entry.Undecoded() {
		if text := entry.RawText(); text != "" {
			return text
		}
		return lz.NoData()
	}
	return s.codec.DisplayValue(lz, f, entry.Value, choices)
}

// handleEditSubmissionField is the inline table edit of one field.
func (s *Service) handleEditSubmissionField(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lz := s.localizers.ForRequest(r)
	vars := mux.Vars(r)
	submissionID := vars["submissionId"]

	var body struct {
		Value any `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	sub, _, err := s.remote.FetchSubmission(ctx, submissionID)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	_, f, err := s.formField(ctx, sub.FormID, vars["fieldId"])
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	var current FieldValue
	if entry, ok := sub.Data[f.ID]; ok {
		current = entry.Value
	}
	v, err := s.codec.CoerceOnEdit(ctx, *f, current, body.Value)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}

	updated, _, err := s.assembler.EditField(ctx, submissionID, *f, v)
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	s.records.Invalidate(sub.FormID)
	respondJSON(w, http.StatusOK, updated)
}
