package main

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
)

// GetFieldValues lists every distinct value stored for a field with the number
// of submissions that use it
func (s *Service) GetFieldValues(ctx context.Context, formID, fieldID, sortBy, sortOrder string, ignoreCase bool) (*FieldValuesResponse, error) {
	_, field, err := s.formField(ctx, formID, fieldID)
	if err != nil {
		return nil, err
	}
	subs, err := s.loadRecords(ctx, formID)
	if err != nil {
		return nil, err
	}

	values := sortValues(harvestFieldValues(*field, subs), sortBy, sortOrder, ignoreCase)
	return &FieldValuesResponse{
		FormID:           formID,
		FieldID:          field.ID,
		FieldName:        field.Name,
		FieldType:        field.FieldType,
		Values:           values,
		TotalSubmissions: len(subs),
	}, nil
}

// SearchFieldValues keeps the values whose label contains query
func (s *Service) SearchFieldValues(ctx context.Context, formID, fieldID, query, sortBy, sortOrder string, ignoreCase bool) ([]FieldValueOption, error) {
	response, err := s.GetFieldValues(ctx, formID, fieldID, sortBy, sortOrder, ignoreCase)
	if err != nil {
		return nil, err
	}

	filtered := []FieldValueOption{}
	needle := query
	if ignoreCase {
		needle = strings.ToLower(query)
	}
	for _, value := range response.Values {
		label := value.Label
		if ignoreCase {
			label = strings.ToLower(label)
		}
		if strings.Contains(label, needle) {
			filtered = append(filtered, value)
		}
	}
	return filtered, nil
}

// GetStatusValues counts a form's records per workflow status. Records without a
// status are counted under a nil id.
func (s *Service) GetStatusValues(ctx context.Context, lz *Localizer, formID string) ([]StatusFilterValue, error) {
	subs, err := s.loadRecords(ctx, formID)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		label string
		count int
	}
	buckets := map[string]*bucket{}
	unassigned := 0
	for _, sub := range subs {
		if sub.Status == nil || sub.Status.ID == "" {
			unassigned++
			continue
		}
		b, ok := buckets[sub.Status.ID]
		if !ok {
			b = &bucket{label: sub.Status.Name}
			buckets[sub.Status.ID] = b
		}
		b.count++
	}

	values := make([]StatusFilterValue, 0, len(buckets)+1)
	for id, b := range buckets {
		values = append(values, StatusFilterValue{ID: &id, Label: b.label, Count: b.count})
	}
	sort.Slice(values, func(i, j int) bool {
		if values[i].Count != values[j].Count {
			return values[i].Count > values[j].Count
		}
		return values[i].Label < values[j].Label
	})
	if unassigned > 0 {
		values = append(values, StatusFilterValue{ID: nil, Label: lz.NoData(), Count: unassigned})
	}
	return values, nil
}

func sortParams(r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	ignoreCase := q.Get("ignore_case") == "true" || q.Get("ignore_case") == "1"
	return q.Get("sort_by"), q.Get("sort_order"), ignoreCase
}

// HTTP Handlers for field values
func (s *Service) handleGetFieldValues(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sortBy, sortOrder, ignoreCase := sortParams(r)

	response, err := s.GetFieldValues(r.Context(), vars["formId"], vars["fieldId"], sortBy, sortOrder, ignoreCase)
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, response)
}

func (s *Service) handleSearchFieldValues(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}
	sortBy, sortOrder, ignoreCase := sortParams(r)

	values, err := s.SearchFieldValues(r.Context(), vars["formId"], vars["fieldId"], query, sortBy, sortOrder, ignoreCase)
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, values)
}

func (s *Service) handleGetStatusValues(w http.ResponseWriter, r *http.Request) {
	lz := s.localizers.ForRequest(r)
	values, err := s.GetStatusValues(r.Context(), lz, mux.Vars(r)["formId"])
	if err != nil {
		respondFailure(w, lz, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, values)
}
