package main

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocator struct {
	result CapabilityResult
	calls  int
}

func (l *fakeLocator) CurrentPosition(ctx context.Context, req CaptureRequest) CapabilityResult {
	l.calls++
	return l.result
}

type fakeGeocoder struct {
	address string
	err     error
}

func (g fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	return g.address, g.err
}

type fakeCamera struct {
	result CapabilityResult
}

func (c fakeCamera) CapturePhoto(ctx context.Context, req CaptureRequest) CapabilityResult {
	return c.result
}

func newTestRenderer(caps Capabilities) *Renderer {
	codec, _ := newTestCodec()
	return NewRenderer(codec, NewChoiceResolver(nil), caps, nil)
}

func TestRenderPicksOneWidgetPerType(t *testing.T) {
	r := newTestRenderer(Capabilities{})
	lz := testLocalizer()
	ctx := context.Background()

	tests := []struct {
		ft      FieldType
		kind    WidgetKind
		capture bool
	}{
		{FieldText, WidgetText, false},
		{FieldParagraph, WidgetTextarea, false},
		{FieldNumber, WidgetNumber, false},
		{FieldDate, WidgetDateTime, false},
		{FieldSingleChoice, WidgetRadioGroup, false},
		{FieldMultiChoice, WidgetCheckboxGroup, false},
		{FieldSearch, WidgetSearchSelect, false},
		{FieldPhoto, WidgetCamera, true},
		{FieldScreenRecord, WidgetScreen, true},
		{FieldAudioRecord, WidgetAudio, true},
		{FieldQRScan, WidgetQRScanner, true},
		{FieldGPS, WidgetGPS, true},
		{FieldImport, WidgetFileImport, true},
		{FieldExport, WidgetFileExport, true},
		{FieldCache, WidgetCachedText, false},
		{FieldSelect, WidgetSelect, false},
		{FieldDashboard, WidgetDashboard, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.ft), func(t *testing.T) {
			w := r.Render(ctx, lz, Field{ID: "f", Name: "F", FieldType: tt.ft}, nil, nil, nil)
			assert.Equal(t, tt.kind, w.Kind)
			assert.Equal(t, tt.capture, w.Capture)
			assert.Equal(t, "No data", w.Display)
		})
	}

	unknown := r.Render(ctx, lz, Field{ID: "f", FieldType: FieldType("HOLOGRAM")}, nil, nil, nil)
	assert.Equal(t, WidgetText, unknown.Kind)
}

func TestRenderChoiceWidget(t *testing.T) {
	r := newTestRenderer(Capabilities{})
	f := Field{
		ID: "s", Name: "Size", FieldType: FieldSingleChoice, IsRequired: true,
		OptionValues: []byte(`[{"value":"a","label":"Alpha"},{"value":"b","label":"Beta"}]`),
	}

	w := r.Render(context.Background(), testLocalizer(), f, nil, TextValue("b"), nil)
	assert.Equal(t, []Option{{Label: "Alpha", Value: "a"}, {Label: "Beta", Value: "b"}}, w.Options)
	assert.Equal(t, "Beta", w.Display)
	assert.True(t, w.Required)
	assert.Equal(t, "radio", w.InputType)
}

func TestRenderSearchUsesLookup(t *testing.T) {
	remote := newFakeRemote()
	remote.options["opt-1"] = []Option{{Label: "Paris", Value: "fr-par"}}
	r := newTestRenderer(Capabilities{Lookup: remote})
	f := Field{ID: "city", FieldType: FieldSearch, OptionID: "opt-1"}

	w := r.Render(context.Background(), testLocalizer(), f, nil, TextValue("fr-par"), nil)
	assert.Equal(t, []Option{{Label: "Paris", Value: "fr-par"}}, w.Options)
	assert.Equal(t, "Paris", w.Display)

	remote.failLookup = errors.New("lookup offline")
	w = r.Render(context.Background(), testLocalizer(), f, nil, nil, nil)
	require.NotNil(t, w.Options)
	assert.Empty(t, w.Options)

	noID := r.Render(context.Background(), testLocalizer(), Field{ID: "city", FieldType: FieldSearch}, nil, nil, nil)
	require.NotNil(t, noID.Options)
	assert.Empty(t, noID.Options)
}

func TestCaptureFailureKeepsPriorValue(t *testing.T) {
	locator := &fakeLocator{result: capabilityFailed(msgPermissionDenied)}
	r := newTestRenderer(Capabilities{Location: locator})
	lz := testLocalizer()
	f := Field{ID: "where", Name: "Location", FieldType: FieldGPS}

	value := FieldValue(LocationValue{Lat: 10, Lng: 20})
	notes := &notificationList{}
	res := r.Capture(context.Background(), lz, f, value, CaptureRequest{}, func(v FieldValue) { value = v }, notes)

	assert.False(t, res.Success)
	assert.Equal(t, LocationValue{Lat: 10, Lng: 20}, value)
	items := notes.Items()
	require.Len(t, items, 1)
	assert.Equal(t, LevelError, items[0].Level)
	assert.Equal(t, "where", items[0].FieldID)
	assert.Equal(t, "Could not capture Location: permission was denied", items[0].Message)
	assert.Equal(t, 1, locator.calls)
}

func TestCaptureSuccessReportsThroughOnChange(t *testing.T) {
	locator := &fakeLocator{result: capabilityOK(LocationValue{Lat: 48.85, Lng: 2.35})}
	r := newTestRenderer(Capabilities{Location: locator, Geocoder: fakeGeocoder{address: "Paris"}})
	f := Field{ID: "where", Name: "Location", FieldType: FieldGPS}

	var got FieldValue
	notes := &notificationList{}
	res := r.Capture(context.Background(), testLocalizer(), f, nil, CaptureRequest{}, func(v FieldValue) { got = v }, notes)

	require.True(t, res.Success)
	assert.Equal(t, LocationValue{Lat: 48.85, Lng: 2.35, Address: "Paris"}, got)
	require.Len(t, notes.Items(), 1)
	assert.Equal(t, LevelInfo, notes.Items()[0].Level)
}

func TestCaptureGeocoderFailureIsNotFatal(t *testing.T) {
	locator := &fakeLocator{result: capabilityOK(LocationValue{Lat: 1, Lng: 2})}
	r := newTestRenderer(Capabilities{Location: locator, Geocoder: fakeGeocoder{err: errors.New("rate limited")}})

	var got FieldValue
	res := r.Capture(context.Background(), testLocalizer(), Field{ID: "g", FieldType: FieldGPS}, nil, CaptureRequest{}, func(v FieldValue) { got = v }, nil)
	require.True(t, res.Success)
	assert.Equal(t, LocationValue{Lat: 1, Lng: 2}, got)
}

func TestCaptureRejectsWrongShapeFromProvider(t *testing.T) {
	r := newTestRenderer(Capabilities{Camera: fakeCamera{result: capabilityOK(TextValue("not a photo"))}})

	called := false
	res := r.Capture(context.Background(), testLocalizer(), Field{ID: "p", FieldType: FieldPhoto}, nil, CaptureRequest{}, func(FieldValue) { called = true }, nil)
	assert.False(t, res.Success)
	assert.False(t, called)
}

func TestCaptureWithoutProvider(t *testing.T) {
	r := newTestRenderer(Capabilities{})
	lz := testLocalizer()
	for _, ft := range []FieldType{FieldPhoto, FieldScreenRecord, FieldAudioRecord, FieldGPS, FieldQRScan, FieldImport, FieldExport, FieldText} {
		res := r.Capture(context.Background(), lz, Field{ID: "f", FieldType: ft}, nil, CaptureRequest{}, nil, nil)
		assert.False(t, res.Success, "field type %s", ft)
		assert.NotEmpty(t, res.Message, "field type %s", ft)
	}
}

func TestUploadCapturePhoto(t *testing.T) {
	u := newUploadCapture(1024)
	u.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("\x89PNG fake"))
	res := u.CapturePhoto(ctx, CaptureRequest{DataURI: png, FileName: "me.png"})
	require.True(t, res.Success)
	assert.Equal(t, MediaValue{Data: png, FileName: "me.png", Timestamp: fixedNow.UnixMilli()}, res.Data)

	res = u.CapturePhoto(ctx, CaptureRequest{DataURI: "data:audio/webm;base64,AAAA"})
	assert.Equal(t, capabilityFailed(msgWrongMediaType), res)

	res = u.CapturePhoto(ctx, CaptureRequest{Denied: "NotAllowedError"})
	assert.Equal(t, capabilityFailed(msgPermissionDenied), res)

	res = u.CapturePhoto(ctx, CaptureRequest{})
	assert.Equal(t, capabilityFailed(msgNoMedia), res)

	big := make([]byte, 2048)
	res = u.CapturePhoto(ctx, CaptureRequest{Content: big, MimeType: "image/png"})
	assert.Equal(t, capabilityFailed(msgMediaTooLarge), res)
}

func TestBrowserLocatorValidatesFix(t *testing.T) {
	l := newBrowserLocator()
	l.now = func() time.Time { return fixedNow }
	lat, lng, bad := 10.0, 20.0, 200.0

	res := l.CurrentPosition(context.Background(), CaptureRequest{Latitude: &lat, Longitude: &lng})
	require.True(t, res.Success)
	assert.Equal(t, LocationValue{Lat: 10, Lng: 20, Timestamp: fixedNow.UnixMilli()}, res.Data)

	res = l.CurrentPosition(context.Background(), CaptureRequest{Latitude: &lat, Longitude: &bad})
	assert.Equal(t, capabilityFailed(msgGeoOutOfRange), res)

	res = l.CurrentPosition(context.Background(), CaptureRequest{})
	assert.Equal(t, capabilityFailed(msgGeoUnavailable), res)
}

func TestUploadFilesImportAndExport(t *testing.T) {
	files := newUploadFiles(1 << 10)
	files.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	res := files.Import(ctx, CaptureRequest{Content: []byte("a,b\n1,2\n"), FileName: "rows.csv", MimeType: "text/csv"})
	require.True(t, res.Success)
	imported := res.Data.(FileValue)
	assert.Equal(t, "rows.csv", imported.FileName)
	assert.Equal(t, "a,b\n1,2\n", imported.Content)
	assert.Equal(t, "text/csv", imported.Type)

	res = files.Import(ctx, CaptureRequest{})
	assert.Equal(t, capabilityFailed(msgNoFile), res)

	res = files.Export(ctx, CaptureRequest{Export: map[string]any{"a": 1}})
	require.True(t, res.Success)
	exported := res.Data.(FileValue)
	assert.Equal(t, "export-20240305-143000.json", exported.FileName)
	assert.Equal(t, "application/json", exported.Type)
	assert.JSONEq(t, `{"a":1}`, exported.Content)

	res = files.Export(ctx, CaptureRequest{})
	assert.Equal(t, capabilityFailed(msgNothingToExport), res)
}

func TestParseDataURI(t *testing.T) {
	mt, b, ok := parseDataURI("data:text/plain;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte("hi")))
	require.True(t, ok)
	assert.Equal(t, "text/plain", mt)
	assert.Equal(t, []byte("hi"), b)

	mt, b, ok = parseDataURI("data:text/plain,hello%20world")
	require.True(t, ok)
	assert.Equal(t, "text/plain", mt)
	assert.Equal(t, "hello world", string(b))

	_, _, ok = parseDataURI("https://example.com/a.png")
	assert.False(t, ok)
}
