package main

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ParseOptionValues reads a field's option_values. Malformed data yields an empty list.
func ParseOptionValues(raw []byte) []Option {
	opts, err := parseOptionValues(raw)
	if err != nil {
		return []Option{}
	}
	return opts
}

// parseOptionValues accepts a JSON array, or a JSON string holding a JSON array.
// Array items may be primitives or objects with label/name and value/id keys.
func parseOptionValues(raw []byte) ([]Option, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Option{}, nil
	}

	var decoded any
	if err := sonic.Unmarshal(trimmed, &decoded); err != nil {
		return nil, WrapError(ErrMalformedOptions, "option_values is not JSON", err)
	}
	if s, ok := decoded.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return []Option{}, nil
		}
		if err := sonic.UnmarshalString(s, &decoded); err != nil {
			return nil, WrapError(ErrMalformedOptions, "option_values string is not JSON", err)
		}
	}

	items, ok := decoded.([]any)
	if !ok {
		return nil, NewError(ErrMalformedOptions, fmt.Sprintf("option_values is a %T, not an array", decoded))
	}

	opts := make([]Option, 0, len(items))
	for _, item := range items {
		opt, ok := optionFromAny(item)
		if !ok {
			continue
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

func optionFromAny(item any) (Option, bool) {
	switch x := item.(type) {
	case string:
		return Option{Label: x, Value: x}, true
	case float64:
		s := formatNumber(x)
		return Option{Label: s, Value: s}, true
	case bool:
		s := strconv.FormatBool(x)
		return Option{Label: s, Value: s}, true
	case map[string]any:
		value := firstString(x, "value", "id")
		label := firstString(x, "label", "name")
		if value == "" && label == "" {
			return Option{}, false
		}
		if value == "" {
			value = label
		}
		if label == "" {
			label = value
		}
		return Option{Label: label, Value: value}, true
	}
	return Option{}, false
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return formatNumber(v)
		}
	}
	return ""
}

// ChoiceResolver resolves the option list of a choice field.
type ChoiceResolver struct {
	logger *zap.Logger
}

func NewChoiceResolver(logger *zap.Logger) *ChoiceResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChoiceResolver{logger: logger}
}

// Choices tries, in order: the field's own option_values, the form-level field
// definition (same id, then same type), and values already used in loaded
// submissions. The last source only knows options somebody has picked before.
func (r *ChoiceResolver) Choices(f Field, form *Form, loaded []FormSubmission) []Option {
	if opts := r.parse(f); len(opts) > 0 {
		return opts
	}

	if form != nil {
		if def := form.FieldByID(f.ID); def != nil {
			if opts := r.parse(*def); len(opts) > 0 {
				return opts
			}
		}
		for _, def := range form.Fields {
			if def.FieldType != f.FieldType || def.ID == f.ID {
				continue
			}
			if opts := r.parse(def); len(opts) > 0 {
				return opts
			}
		}
	}

	harvested := harvestFieldValues(f, loaded)
	opts := make([]Option, 0, len(harvested))
	for _, v := range harvested {
		opts = append(opts, Option{Label: v.Label, Value: v.Label})
	}
	return opts
}

func (r *ChoiceResolver) parse(f Field) []Option {
	opts, err := parseOptionValues(f.OptionValues)
	if err != nil {
		r.logger.Debug("Ignoring malformed option_values",
			zap.String("field_id", f.ID), zap.Error(err))
		return nil
	}
	return opts
}

// harvestFieldValues counts, for every distinct value stored for the field, how
// many submissions use it. Entries whose stored type differs from the field's
// current type are skipped.
func harvestFieldValues(f Field, loaded []FormSubmission) []FieldValueOption {
	valueSubmissions := make(map[string]map[string]bool)
	add := func(value, submissionKey string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if valueSubmissions[value] == nil {
			valueSubmissions[value] = make(map[string]bool)
		}
		valueSubmissions[value][submissionKey] = true
	}

	for i, sub := range loaded {
		entry, ok := sub.Data[f.ID]
		if !ok || entry.FieldType != f.FieldType {
			continue
		}
		key := sub.ID
		if key == "" {
			key = strconv.Itoa(i)
		}
		switch v := entry.Value.(type) {
		case TextValue:
			add(string(v), key)
		case ChoicesValue:
			for _, item := range v {
				add(item, key)
			}
		case NumberValue:
			add(formatNumber(float64(v)), key)
		}
	}

	values := make([]FieldValueOption, 0, len(valueSubmissions))
	for value, subs := range valueSubmissions {
		values = append(values, FieldValueOption{
			ID:    generateID(value),
			Label: value,
			Count: len(subs),
		})
	}
	return sortValues(values, "count", "desc", false)
}
