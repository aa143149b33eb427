package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type WidgetKind string

const (
	WidgetText          WidgetKind = "text"
	WidgetTextarea      WidgetKind = "textarea"
	WidgetNumber        WidgetKind = "number"
	WidgetDateTime      WidgetKind = "datetime"
	WidgetRadioGroup    WidgetKind = "radio-group"
	WidgetCheckboxGroup WidgetKind = "checkbox-group"
	WidgetSearchSelect  WidgetKind = "search-select"
	WidgetCamera        WidgetKind = "camera"
	WidgetScreen        WidgetKind = "screen-recorder"
	WidgetAudio         WidgetKind = "audio-recorder"
	WidgetQRScanner     WidgetKind = "qr-scanner"
	WidgetGPS           WidgetKind = "gps-locator"
	WidgetFileImport    WidgetKind = "file-import"
	WidgetFileExport    WidgetKind = "file-export"
	WidgetCachedText    WidgetKind = "cached-text"
	WidgetSelect        WidgetKind = "select"
	WidgetFilter        WidgetKind = "filter"
	WidgetDashboard     WidgetKind = "dashboard"
)

// Widget describes the single editing control the UI draws for a field.
type Widget struct {
	FieldID     string     `json:"field_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	FieldType   FieldType  `json:"field_type"`
	Kind        WidgetKind `json:"kind"`
	InputType   string     `json:"input_type,omitempty"`
	Accept      string     `json:"accept,omitempty"`
	Required    bool       `json:"required"`
	Capture     bool       `json:"capture"`
	Options     []Option   `json:"options,omitempty"`
	Value       FieldValue `json:"value"`
	Display     string     `json:"display"`
}

type widgetRule struct {
	kind      WidgetKind
	inputType string
	accept    string
}

var widgetRules = map[FieldType]widgetRule{
	FieldText:         {WidgetText, "text", ""},
	FieldParagraph:    {WidgetTextarea, "", ""},
	FieldNumber:       {WidgetNumber, "number", ""},
	FieldDate:         {WidgetDateTime, "datetime-local", ""},
	FieldSingleChoice: {WidgetRadioGroup, "radio", ""},
	FieldMultiChoice:  {WidgetCheckboxGroup, "checkbox", ""},
	FieldSearch:       {WidgetSearchSelect, "", ""},
	FieldPhoto:        {WidgetCamera, "", "image/*"},
	FieldScreenRecord: {WidgetScreen, "", "video/*"},
	FieldAudioRecord:  {WidgetAudio, "", "audio/*"},
	FieldQRScan:       {WidgetQRScanner, "", "image/*"},
	FieldGPS:          {WidgetGPS, "", ""},
	FieldImport:       {WidgetFileImport, "file", "*/*"},
	FieldExport:       {WidgetFileExport, "", ""},
	FieldCache:        {WidgetCachedText, "text", ""},
	FieldChoose:       {WidgetRadioGroup, "radio", ""},
	FieldSelect:       {WidgetSelect, "", ""},
	FieldFilter:       {WidgetFilter, "", ""},
	FieldDashboard:    {WidgetDashboard, "", ""},
	FieldInput:        {WidgetText, "text", ""},
}

// Renderer maps fields to widgets and runs captures. It keeps no form state:
// captured values leave only through onChange.
type Renderer struct {
	codec   *Codec
	choices *ChoiceResolver
	caps    Capabilities
	logger  *zap.Logger
}

func NewRenderer(codec *Codec, choices *ChoiceResolver, caps Capabilities, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{codec: codec, choices: choices, caps: caps, logger: logger}
}

func usesChoices(t FieldType) bool {
	switch t {
	case FieldSingleChoice, FieldMultiChoice, FieldChoose, FieldSelect, FieldFilter:
		return true
	}
	return false
}

// Render builds the widget for f showing v.
func (r *Renderer) Render(ctx context.Context, lz *Localizer, f Field, form *Form, v FieldValue, loaded []FormSubmission) Widget {
	rule, ok := widgetRules[f.FieldType]
	if !ok {
		rule = widgetRule{kind: WidgetText, inputType: "text"}
	}

	opts := r.Options(ctx, f, form, loaded)
	return Widget{
		FieldID:     f.ID,
		Name:        f.Name,
		Description: f.Description,
		FieldType:   f.FieldType,
		Kind:        rule.kind,
		InputType:   rule.inputType,
		Accept:      rule.accept,
		Required:    f.IsRequired,
		Capture:     f.FieldType.IsCapture(),
		Options:     opts,
		Value:       v,
		Display:     r.codec.DisplayValue(lz, f, v, opts),
	}
}

// Options returns the labelled choices behind f: the remote lookup for SEARCH,
// the option source for choice fields and nil for everything else.
func (r *Renderer) Options(ctx context.Context, f Field, form *Form, loaded []FormSubmission) []Option {
	switch {
	case f.FieldType == FieldSearch:
		return r.searchOptions(ctx, f)
	case usesChoices(f.FieldType):
		return r.choices.Choices(f, form, loaded)
	}
	return nil
}

func (r *Renderer) searchOptions(ctx context.Context, f Field) []Option {
	if f.OptionID == "" || r.caps.Lookup == nil {
		return []Option{}
	}
	opts, err := r.caps.Lookup.LookupOptions(ctx, f.OptionID)
	if err != nil {
		r.logger.Warn("Search lookup failed",
			zap.String("field_id", f.ID), zap.String("option_id", f.OptionID), zap.Error(err))
		return []Option{}
	}
	if opts == nil {
		return []Option{}
	}
	return opts
}

// Capture runs the capability behind a capture field. On success onChange gets
// the new value; on failure the user is notified and prior stays as it was.
func (r *Renderer) Capture(ctx context.Context, lz *Localizer, f Field, prior FieldValue, req CaptureRequest, onChange func(FieldValue), notifier Notifier) CapabilityResult {
	res := r.delegate(ctx, f, req)
	if res.Success {
		if err := CheckShape(f.FieldType, res.Data); err != nil {
			r.logger.Error("Capture produced a value of the wrong shape",
				zap.String("field_id", f.ID), zap.Error(err))
			res = capabilityFailed(msgWrongMediaType)
		}
	}
	if !res.Success {
		r.logger.Info("Capture failed",
			zap.String("field_id", f.ID),
			zap.String("field_type", string(f.FieldType)),
			zap.String("reason", res.Message))
		if notifier != nil {
			notifier.Notify(Notification{
				Level:   LevelError,
				Message: lz.T(msgCaptureFailed, f.Name, lz.Text(res.Message)),
				FieldID: f.ID,
			})
		}
		return res
	}
	if onChange != nil {
		onChange(res.Data)
	}
	if notifier != nil {
		notifier.Notify(Notification{Level: LevelInfo, Message: lz.T(msgCaptureSaved, f.Name), FieldID: f.ID})
	}
	return res
}

func (r *Renderer) delegate(ctx context.Context, f Field, req CaptureRequest) CapabilityResult {
	switch f.FieldType {
	case FieldPhoto:
		if r.caps.Camera == nil {
			return capabilityFailed(msgPermissionDenied)
		}
		return r.caps.Camera.CapturePhoto(ctx, req)
	case FieldScreenRecord:
		if r.caps.Screen == nil {
			return capabilityFailed(msgPermissionDenied)
		}
		return r.caps.Screen.RecordScreen(ctx, req)
	case FieldAudioRecord:
		if r.caps.Microphone == nil {
			return capabilityFailed(msgPermissionDenied)
		}
		return r.caps.Microphone.RecordAudio(ctx, req)
	case FieldGPS:
		return r.locate(ctx, req)
	case FieldQRScan:
		if req.Denied != "" {
			if req.Frames != nil {
				_ = req.Frames.Close()
			}
			return capabilityFailed(msgPermissionDenied)
		}
		if r.caps.Scanner == nil {
			return capabilityFailed(msgPermissionDenied)
		}
		return r.caps.Scanner.Scan(ctx, req.Frames)
	case FieldImport:
		if r.caps.Files == nil {
			return capabilityFailed(msgNoFile)
		}
		return r.caps.Files.Import(ctx, req)
	case FieldExport:
		if r.caps.Files == nil {
			return capabilityFailed(msgNothingToExport)
		}
		return r.caps.Files.Export(ctx, req)
	}
	return capabilityFailed(msgUnsupportedCapture)
}

// locate treats a failed address lookup as success without an address.
func (r *Renderer) locate(ctx context.Context, req CaptureRequest) CapabilityResult {
	if r.caps.Location == nil {
		return capabilityFailed(msgGeoUnavailable)
	}
	res := r.caps.Location.CurrentPosition(ctx, req)
	if !res.Success || r.caps.Geocoder == nil {
		return res
	}
	loc, ok := res.Data.(LocationValue)
	if !ok || loc.Address != "" {
		return res
	}
	geoCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	addr, err := r.caps.Geocoder.Reverse(geoCtx, loc.Lat, loc.Lng)
	if err != nil {
		r.logger.Debug("Reverse geocoding failed", zap.Error(err))
		return res
	}
	loc.Address = addr
	res.Data = loc
	return res
}
