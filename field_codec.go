package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Codec owns every default, display and coercion rule for field values.
type Codec struct {
	cache    KeyValueStore
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

func NewCodec(cache KeyValueStore, loc *time.Location, logger *zap.Logger) *Codec {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{cache: cache, location: loc, now: time.Now, logger: logger}
}

// DefaultValue is the value a field starts with when the user has not touched it.
func (c *Codec) DefaultValue(ctx context.Context, f Field) FieldValue {
	switch f.FieldType {
	case FieldText, FieldParagraph:
		return TextValue("")
	case FieldNumber:
		return NumberValue(0)
	case FieldDate:
		return DateValue(c.now().UnixMilli())
	case FieldSingleChoice:
		if opts := ParseOptionValues(f.OptionValues); len(opts) > 0 {
			return TextValue(opts[0].Value)
		}
		return TextValue("")
	case FieldMultiChoice:
		return ChoicesValue{}
	case FieldSearch, FieldPhoto, FieldScreenRecord, FieldAudioRecord, FieldQRScan, FieldGPS, FieldImport, FieldExport:
		return nil
	case FieldCache:
		return TextValue(c.cachedValue(ctx, f))
	default:
		return TextValue("")
	}
}

func (c *Codec) cachedValue(ctx context.Context, f Field) string {
	if c.cache == nil {
		return ""
	}
	v, ok, err := c.cache.Get(ctx, cacheKey(ctx, f))
	if err != nil {
		c.logger.Warn("Field cache read failed", zap.String("field_id", f.ID), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

func cacheKey(ctx context.Context, f Field) string {
	return "field:" + sessionFromContext(ctx) + ":" + f.ID
}

// DisplayValue renders a value for the data table. It never fails: values that do
// not match their field type are still printed.
func (c *Codec) DisplayValue(lz *Localizer, f Field, v FieldValue, choices []Option) string {
	if isEmptyValue(v) {
		return lz.NoData()
	}
	switch x := v.(type) {
	case DateValue:
		return lz.FormatDateTime(time.UnixMilli(int64(x)))
	case ChoicesValue:
		labels := make([]string, 0, len(x))
		for _, raw := range x {
			labels = append(labels, labelFor(choices, raw))
		}
		return strings.Join(labels, ", ")
	case TextValue:
		if f.FieldType == FieldSingleChoice || f.FieldType == FieldMultiChoice || f.FieldType == FieldSearch {
			return labelFor(choices, string(x))
		}
		return string(x)
	case NumberValue:
		if f.FieldType == FieldDate {
			return lz.FormatDateTime(time.UnixMilli(int64(x)))
		}
		return formatNumber(float64(x))
	case LocationValue:
		coords := fmt.Sprintf("%.6f, %.6f", x.Lat, x.Lng)
		if x.Address != "" {
			return x.Address + " (" + coords + ")"
		}
		return coords
	case MediaValue:
		name := x.FileName
		if name == "" {
			name = x.URL
		}
		if x.Duration > 0 {
			return fmt.Sprintf("%s (%s)", name, (time.Duration(x.Duration * float64(time.Second))).Round(time.Second))
		}
		return name
	case FileValue:
		return fmt.Sprintf("%s (%s)", x.FileName, humanize.Bytes(uint64(len(x.Content))))
	}
	return fmt.Sprint(v)
}

func labelFor(choices []Option, raw string) string {
	for _, opt := range choices {
		if opt.Value == raw {
			if opt.Label == "" {
				return raw
			}
			return opt.Label
		}
	}
	return raw
}

// CoerceOnEdit turns widget input into the field's value shape. current is the
// value before the edit; MULTI_CHOICE toggles against it.
func (c *Codec) CoerceOnEdit(ctx context.Context, f Field, current FieldValue, input any) (FieldValue, error) {
	invalid := func(detail string) error {
		return &ValidationError{Violations: []FieldViolation{{
			FieldID: f.ID, FieldName: f.Name, Code: ViolationInvalid, Detail: detail,
		}}}
	}

	if fv, ok := input.(FieldValue); ok {
		if err := CheckShape(f.FieldType, fv); err != nil {
			return nil, ShapeError(f.ID, err.Error())
		}
		return fv, nil
	}

	switch f.FieldType {
	case FieldNumber:
		switch x := input.(type) {
		case nil:
			return nil, nil
		case float64:
			return NumberValue(x), nil
		case int:
			return NumberValue(x), nil
		case string:
			s := strings.TrimSpace(x)
			if s == "" {
				return nil, nil
			}
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, invalid(fmt.Sprintf("%q is not a number", x))
			}
			return NumberValue(n), nil
		}
		return nil, invalid(fmt.Sprintf("%T is not a number", input))

	case FieldDate:
		switch x := input.(type) {
		case nil:
			return nil, nil
		case float64:
			return DateValue(int64(x)), nil
		case int64:
			return DateValue(x), nil
		case string:
			if strings.TrimSpace(x) == "" {
				return nil, nil
			}
			ms, err := parseTimestamp(x, c.location)
			if err != nil {
				return nil, invalid(err.Error())
			}
			return DateValue(ms), nil
		}
		return nil, invalid(fmt.Sprintf("%T is not a date", input))

	case FieldMultiChoice:
		switch x := input.(type) {
		case string:
			existing, _ := current.(ChoicesValue)
			return toggleChoice(existing, x), nil
		case float64:
			existing, _ := current.(ChoicesValue)
			return toggleChoice(existing, formatNumber(x)), nil
		}
		v, err := valueFromAny(f.FieldType, input, c.location)
		if err != nil {
			return nil, invalid(err.Error())
		}
		if v == nil {
			return ChoicesValue{}, nil
		}
		return v, nil

	case FieldCache:
		v, err := valueFromAny(f.FieldType, input, c.location)
		if err != nil {
			return nil, invalid(err.Error())
		}
		text, _ := v.(TextValue)
		if c.cache != nil {
			if err := c.cache.Set(ctx, cacheKey(ctx, f), string(text)); err != nil {
				// The edit still applies.
				c.logger.Warn("Field cache write failed", zap.String("field_id", f.ID), zap.Error(err))
			}
		}
		return text, nil
	}

	v, err := valueFromAny(f.FieldType, input, c.location)
	if err != nil {
		if KindOf(err) == ErrShapeMismatch && f.FieldType.ValueKind() != KindText {
			return nil, ShapeError(f.ID, err.Error())
		}
		return nil, invalid(err.Error())
	}
	return v, nil
}

// toggleChoice adds option when absent and removes it when present. The input
// slice is not modified.
func toggleChoice(existing ChoicesValue, option string) ChoicesValue {
	out := make(ChoicesValue, 0, len(existing)+1)
	removed := false
	for _, v := range existing {
		if v == option {
			removed = true
			continue
		}
		out = append(out, v)
	}
	if !removed {
		out = append(out, option)
	}
	return out
}
