package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// FieldType is the closed set of field kinds a form can declare.
type FieldType string

const (
	FieldText         FieldType = "TEXT"
	FieldParagraph    FieldType = "PARAGRAPH"
	FieldNumber       FieldType = "NUMBER"
	FieldDate         FieldType = "DATE"
	FieldSingleChoice FieldType = "SINGLE_CHOICE"
	FieldMultiChoice  FieldType = "MULTI_CHOICE"
	FieldSearch       FieldType = "SEARCH"
	FieldPhoto        FieldType = "PHOTO"
	FieldScreenRecord FieldType = "SCREEN_RECORD"
	FieldAudioRecord  FieldType = "AUDIO_RECORD"
	FieldQRScan       FieldType = "QR_SCAN"
	FieldGPS          FieldType = "GPS"
	FieldImport       FieldType = "IMPORT"
	FieldExport       FieldType = "EXPORT"
	FieldCache        FieldType = "CACHE"

	// UI-only types.
	FieldChoose    FieldType = "CHOOSE"
	FieldSelect    FieldType = "SELECT"
	FieldFilter    FieldType = "FILTER"
	FieldDashboard FieldType = "DASHBOARD"
	FieldInput     FieldType = "INPUT"
)

var allFieldTypes = []FieldType{
	FieldText, FieldParagraph, FieldNumber, FieldDate, FieldSingleChoice, FieldMultiChoice,
	FieldSearch, FieldPhoto, FieldScreenRecord, FieldAudioRecord, FieldQRScan, FieldGPS,
	FieldImport, FieldExport, FieldCache,
	FieldChoose, FieldSelect, FieldFilter, FieldDashboard, FieldInput,
}

// ParseFieldType accepts any letter case.
func ParseFieldType(s string) (FieldType, error) {
	t := FieldType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown field type %q", s)
	}
	return t, nil
}

func (t FieldType) Valid() bool {
	for _, known := range allFieldTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsCapture reports whether values of this type come from a capability provider.
func (t FieldType) IsCapture() bool {
	switch t {
	case FieldPhoto, FieldScreenRecord, FieldAudioRecord, FieldQRScan, FieldGPS, FieldImport, FieldExport:
		return true
	}
	return false
}

// ValueKind is the shape a FieldValue must have.
type ValueKind int

const (
	KindText ValueKind = iota
	KindNumber
	KindTimestamp
	KindChoices
	KindLocation
	KindMedia
	KindFile
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindTimestamp:
		return "timestamp"
	case KindChoices:
		return "choices"
	case KindLocation:
		return "location"
	case KindMedia:
		return "media"
	case KindFile:
		return "file"
	}
	return "unknown"
}

// ValueKind maps the field type to the only value shape it accepts.
func (t FieldType) ValueKind() ValueKind {
	switch t {
	case FieldNumber:
		return KindNumber
	case FieldDate:
		return KindTimestamp
	case FieldMultiChoice:
		return KindChoices
	case FieldGPS:
		return KindLocation
	case FieldPhoto, FieldScreenRecord, FieldAudioRecord:
		return KindMedia
	case FieldImport, FieldExport:
		return KindFile
	default:
		return KindText
	}
}

// FieldValue is a sealed union; a nil FieldValue means "no value".
type FieldValue interface {
	Kind() ValueKind
	fieldValue()
}

type TextValue string

type NumberValue float64

// DateValue is milliseconds since the Unix epoch.
type DateValue int64

type ChoicesValue []string

type LocationValue struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Address   string  `json:"address,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

type MediaValue struct {
	URL       string  `json:"url,omitempty"`
	Data      string  `json:"data,omitempty"`
	FileName  string  `json:"fileName"`
	Duration  float64 `json:"duration,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

type FileValue struct {
	FileName  string `json:"fileName"`
	Content   string `json:"content"`
	Type      string `json:"type,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (TextValue) Kind() ValueKind     { return KindText }
func (NumberValue) Kind() ValueKind   { return KindNumber }
func (DateValue) Kind() ValueKind     { return KindTimestamp }
func (ChoicesValue) Kind() ValueKind  { return KindChoices }
func (LocationValue) Kind() ValueKind { return KindLocation }
func (MediaValue) Kind() ValueKind    { return KindMedia }
func (FileValue) Kind() ValueKind     { return KindFile }

func (TextValue) fieldValue()     {}
func (NumberValue) fieldValue()   {}
func (DateValue) fieldValue()     {}
func (ChoicesValue) fieldValue()  {}
func (LocationValue) fieldValue() {}
func (MediaValue) fieldValue()    {}
func (FileValue) fieldValue()     {}

// MarshalJSON keeps an empty selection as [] rather than null.
func (c ChoicesValue) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(c))
}

// CheckShape rejects a value whose shape does not belong to the field type.
func CheckShape(t FieldType, v FieldValue) error {
	if v == nil {
		return nil
	}
	if want := t.ValueKind(); v.Kind() != want {
		return ShapeError("", fmt.Sprintf("%s field cannot hold a %s value", t, v.Kind()))
	}
	return nil
}

func isEmptyValue(v FieldValue) bool {
	switch x := v.(type) {
	case nil:
		return true
	case TextValue:
		return strings.TrimSpace(string(x)) == ""
	case ChoicesValue:
		return len(x) == 0
	case MediaValue:
		return x.Data == "" && x.URL == ""
	case FileValue:
		return x.FileName == "" && x.Content == ""
	}
	return false
}

// DecodeValue reads a stored jsonb value for a field type. It tolerates the
// encodings older clients wrote: numbers as strings, dates as ISO strings and
// multi-choice as a comma list.
func DecodeValue(t FieldType, raw []byte) (FieldValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var generic any
	if err := sonic.Unmarshal(trimmed, &generic); err != nil {
		return nil, WrapError(ErrShapeMismatch, "stored value is not valid JSON", err)
	}
	return valueFromAny(t, generic, time.UTC)
}

func valueFromAny(t FieldType, v any, loc *time.Location) (FieldValue, error) {
	if v == nil {
		return nil, nil
	}
	if fv, ok := v.(FieldValue); ok {
		if err := CheckShape(t, fv); err != nil {
			return nil, err
		}
		return fv, nil
	}

	switch t.ValueKind() {
	case KindText:
		switch x := v.(type) {
		case string:
			return TextValue(x), nil
		case float64:
			return TextValue(formatNumber(x)), nil
		case bool:
			return TextValue(strconv.FormatBool(x)), nil
		}
	case KindNumber:
		switch x := v.(type) {
		case float64:
			return NumberValue(x), nil
		case string:
			s := strings.TrimSpace(x)
			if s == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, ShapeError("", fmt.Sprintf("%q is not a number", x))
			}
			return NumberValue(f), nil
		}
	case KindTimestamp:
		switch x := v.(type) {
		case float64:
			return DateValue(int64(x)), nil
		case string:
			if strings.TrimSpace(x) == "" {
				return nil, nil
			}
			ms, err := parseTimestamp(x, loc)
			if err != nil {
				return nil, ShapeError("", err.Error())
			}
			return DateValue(ms), nil
		}
	case KindChoices:
		switch x := v.(type) {
		case []any:
			out := make(ChoicesValue, 0, len(x))
			for _, item := range x {
				switch s := item.(type) {
				case string:
					out = append(out, s)
				case float64:
					out = append(out, formatNumber(s))
				default:
					return nil, ShapeError("", fmt.Sprintf("choice %v is not a string", item))
				}
			}
			return out, nil
		case []string:
			return ChoicesValue(append([]string(nil), x...)), nil
		case string:
			out := ChoicesValue{}
			for _, part := range parseValueList(x) {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			return out, nil
		}
	case KindLocation:
		if m, ok := v.(map[string]any); ok {
			var loc LocationValue
			if err := remarshal(m, &loc); err != nil {
				return nil, ShapeError("", "location must be {lat,lng,address,timestamp}")
			}
			return loc, nil
		}
	case KindMedia:
		if m, ok := v.(map[string]any); ok {
			var media MediaValue
			if err := remarshal(m, &media); err != nil {
				return nil, ShapeError("", "media must be {url,data,fileName,duration,timestamp}")
			}
			return media, nil
		}
	case KindFile:
		if m, ok := v.(map[string]any); ok {
			var file FileValue
			if err := remarshal(m, &file); err != nil {
				return nil, ShapeError("", "file must be {fileName,content,type,timestamp}")
			}
			return file, nil
		}
	}
	return nil, ShapeError("", fmt.Sprintf("%T value does not fit a %s field", v, t))
}

func remarshal(in any, out any) error {
	b, err := sonic.Marshal(in)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(b, out)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp turns epoch digits or an ISO-like string into epoch milliseconds.
// Strings without a zone are read in loc.
func parseTimestamp(s string, loc *time.Location) (int64, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("%q is not a date", s)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Option is one entry of a choice list.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Field describes one input of a form. It is owned by the remote form store.
type Field struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	FieldType    FieldType       `json:"field_type"`
	OptionValues json.RawMessage `json:"option_values,omitempty"`
	OptionID     string          `json:"option_id,omitempty"`
	Position     int             `json:"position,omitempty"`
	IsRequired   bool            `json:"is_required,omitempty"`
}

// Form is a form definition with its ordered fields.
type Form struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	WorkflowID  *string `json:"workflow_id,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
}

// FieldByID returns nil when the form has no such field.
func (f *Form) FieldByID(id string) *Field {
	if f == nil {
		return nil
	}
	for i := range f.Fields {
		if f.Fields[i].ID == id {
			return &f.Fields[i]
		}
	}
	return nil
}

// FieldSubmission is a value denormalized with its field's name and type, because
// the remote store keeps submissions as schema-less jsonb.
type FieldSubmission struct {
	Name      string     `json:"name"`
	Value     FieldValue `json:"value"`
	FieldType FieldType  `json:"field_type"`

	// raw keeps a stored value that could not be decoded so it is written back unchanged.
	raw  json.RawMessage
	bare bool
}

type fieldSubmissionWire struct {
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value"`
	FieldType FieldType       `json:"field_type"`
}

func (s *FieldSubmission) UnmarshalJSON(b []byte) error {
	var wire fieldSubmissionWire
	if err := sonic.Unmarshal(b, &wire); err != nil || (wire.Name == "" && wire.FieldType == "" && len(wire.Value) == 0) {
		*s = FieldSubmission{raw: append(json.RawMessage(nil), b...), bare: true}
		return nil
	}
	s.Name = wire.Name
	s.FieldType = wire.FieldType
	s.raw = nil
	s.bare = false
	v, err := DecodeValue(wire.FieldType, wire.Value)
	if err != nil {
		s.Value = nil
		s.raw = append(json.RawMessage(nil), wire.Value...)
		return nil
	}
	s.Value = v
	return nil
}

func (s FieldSubmission) MarshalJSON() ([]byte, error) {
	if s.bare {
		return s.raw, nil
	}
	var value any = s.Value
	if s.Value == nil && len(s.raw) > 0 {
		value = s.raw
	}
	return json.Marshal(struct {
		Name      string    `json:"name"`
		Value     any       `json:"value"`
		FieldType FieldType `json:"field_type"`
	}{s.Name, value, s.FieldType})
}

// Undecoded reports whether the stored value could not be read for its field type.
func (s FieldSubmission) Undecoded() bool {
	return s.bare || (s.Value == nil && len(s.raw) > 0)
}

// RawText is the stored JSON of an undecoded entry, unquoted when it is a string.
func (s FieldSubmission) RawText() string {
	raw := bytes.TrimSpace(s.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if err := sonic.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// Status is a remote workflow status attached to a record.
type Status struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FormSubmission is one submitted record.
type FormSubmission struct {
	ID         string                     `json:"id,omitempty"`
	FormID     string                     `json:"form_id"`
	WorkflowID *string                    `json:"workflow_id,omitempty"`
	Data       map[string]FieldSubmission `json:"data"`
	Status     *Status                    `json:"core_dynamic_status,omitempty"`
	CreatedAt  string                     `json:"created_at,omitempty"`
	UpdatedAt  string                     `json:"updated_at,omitempty"`
}

// WorkflowTransition moves a record between statuses. A nil FromStatusID marks a
// start transition, a nil ToStatusID a terminal one.
type WorkflowTransition struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	WorkflowID   string  `json:"workflow_id,omitempty"`
	FromStatusID *string `json:"from_status_id"`
	ToStatusID   *string `json:"to_status_id"`
	FormID       *string `json:"form_id,omitempty"`
	FromStatus   *Status `json:"from_status,omitempty"`
	ToStatus     *Status `json:"to_status,omitempty"`
}
