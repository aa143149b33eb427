package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// CapabilityResult is what every capture provider reports back.
type CapabilityResult struct {
	Success bool       `json:"success"`
	Data    FieldValue `json:"data,omitempty"`
	Message string     `json:"message,omitempty"`
}

func capabilityOK(v FieldValue) CapabilityResult {
	return CapabilityResult{Success: true, Data: v}
}

func capabilityFailed(msg string) CapabilityResult {
	return CapabilityResult{Success: false, Message: msg}
}

// CaptureRequest is what the browser collected for a capture field: a recorded
// blob, a position fix, uploaded frames or a picked file. Denied carries the
// browser's error when the user refused access.
type CaptureRequest struct {
	DataURI   string   `json:"data_uri,omitempty"`
	URL       string   `json:"url,omitempty"`
	FileName  string   `json:"file_name,omitempty"`
	MimeType  string   `json:"mime_type,omitempty"`
	Duration  float64  `json:"duration,omitempty"`
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lng,omitempty"`
	Denied    string   `json:"denied,omitempty"`

	Content []byte      `json:"-"`
	Frames  FrameSource `json:"-"`
	Export  any         `json:"-"`
}

type CameraProvider interface {
	CapturePhoto(ctx context.Context, req CaptureRequest) CapabilityResult
}

type ScreenProvider interface {
	RecordScreen(ctx context.Context, req CaptureRequest) CapabilityResult
}

type MicrophoneProvider interface {
	RecordAudio(ctx context.Context, req CaptureRequest) CapabilityResult
}

type GeolocationProvider interface {
	CurrentPosition(ctx context.Context, req CaptureRequest) CapabilityResult
}

type ReverseGeocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

type FileProvider interface {
	Import(ctx context.Context, req CaptureRequest) CapabilityResult
	Export(ctx context.Context, req CaptureRequest) CapabilityResult
}

type SearchLookup interface {
	LookupOptions(ctx context.Context, optionID string) ([]Option, error)
}

// Capabilities bundles the providers the renderer delegates to. Nil providers
// make the matching capture fail with a notification.
type Capabilities struct {
	Camera     CameraProvider
	Screen     ScreenProvider
	Microphone MicrophoneProvider
	Location   GeolocationProvider
	Geocoder   ReverseGeocoder
	Scanner    *QRScanner
	Files      FileProvider
	Lookup     SearchLookup
}

// uploadCapture turns blobs recorded in the browser into MediaValues.
type uploadCapture struct {
	maxBytes int
	now      func() time.Time
}

func newUploadCapture(maxBytes int) *uploadCapture {
	return &uploadCapture{maxBytes: maxBytes, now: time.Now}
}

func (u *uploadCapture) CapturePhoto(ctx context.Context, req CaptureRequest) CapabilityResult {
	return u.capture(ctx, req, "image/", "photo", ".png")
}

func (u *uploadCapture) RecordScreen(ctx context.Context, req CaptureRequest) CapabilityResult {
	return u.capture(ctx, req, "video/", "screen", ".webm")
}

func (u *uploadCapture) RecordAudio(ctx context.Context, req CaptureRequest) CapabilityResult {
	return u.capture(ctx, req, "audio/", "audio", ".webm")
}

func (u *uploadCapture) capture(ctx context.Context, req CaptureRequest, mimePrefix, prefix, defaultExt string) CapabilityResult {
	if err := ctx.Err(); err != nil {
		return capabilityFailed(err.Error())
	}
	if req.Denied != "" {
		return capabilityFailed(msgPermissionDenied)
	}

	dataURI := req.DataURI
	if dataURI == "" && len(req.Content) > 0 {
		mt := req.MimeType
		if mt == "" {
			mt = http.DetectContentType(req.Content)
		}
		dataURI = "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(req.Content)
	}
	if dataURI == "" && req.URL == "" {
		return capabilityFailed(msgNoMedia)
	}

	ext := defaultExt
	if dataURI != "" {
		mt, payload, ok := parseDataURI(dataURI)
		if !ok {
			return capabilityFailed(msgWrongMediaType)
		}
		if !strings.HasPrefix(mt, mimePrefix) {
			return capabilityFailed(msgWrongMediaType)
		}
		if u.maxBytes > 0 && len(payload) > u.maxBytes {
			return capabilityFailed(msgMediaTooLarge)
		}
		if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
			ext = exts[0]
		}
	}

	name := req.FileName
	if name == "" {
		name = fmt.Sprintf("%s-%s%s", prefix, uuid.NewString(), ext)
	}
	return capabilityOK(MediaValue{
		URL:       req.URL,
		Data:      dataURI,
		FileName:  name,
		Duration:  req.Duration,
		Timestamp: u.now().UnixMilli(),
	})
}

// parseDataURI splits "data:<mime>[;base64],<payload>" and decodes the payload.
func parseDataURI(s string) (string, []byte, bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", nil, false
	}
	header, payload, found := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !found {
		return "", nil, false
	}
	isBase64 := strings.HasSuffix(header, ";base64")
	header = strings.TrimSuffix(header, ";base64")
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		mt = header
	}
	if isBase64 {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, false
		}
		return mt, b, true
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, false
	}
	return mt, []byte(decoded), true
}

// browserLocator reads the fix the browser obtained with getCurrentPosition.
type browserLocator struct {
	now func() time.Time
}

func newBrowserLocator() *browserLocator {
	return &browserLocator{now: time.Now}
}

func (l *browserLocator) CurrentPosition(ctx context.Context, req CaptureRequest) CapabilityResult {
	if err := ctx.Err(); err != nil {
		return capabilityFailed(err.Error())
	}
	if req.Denied != "" {
		return capabilityFailed(msgPermissionDenied)
	}
	if req.Latitude == nil || req.Longitude == nil {
		return capabilityFailed(msgGeoUnavailable)
	}
	lat, lng := *req.Latitude, *req.Longitude
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return capabilityFailed(msgGeoOutOfRange)
	}
	return capabilityOK(LocationValue{Lat: lat, Lng: lng, Timestamp: l.now().UnixMilli()})
}

// nominatimGeocoder resolves coordinates to a display address over HTTP.
type nominatimGeocoder struct {
	baseURL string
	client  *http.Client
}

func newNominatimGeocoder(baseURL string, timeout time.Duration) *nominatimGeocoder {
	return &nominatimGeocoder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *nominatimGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dynaform-service")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocoding failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocoding returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := sonic.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode geocoder response: %w", err)
	}
	if out.DisplayName == "" {
		return "", fmt.Errorf("no address for %f,%f", lat, lng)
	}
	return out.DisplayName, nil
}

// uploadFiles serves IMPORT from an uploaded file and EXPORT by packaging a
// JSON document for download.
type uploadFiles struct {
	maxBytes int
	now      func() time.Time
}

func newUploadFiles(maxBytes int) *uploadFiles {
	return &uploadFiles{maxBytes: maxBytes, now: time.Now}
}

func (f *uploadFiles) Import(ctx context.Context, req CaptureRequest) CapabilityResult {
	if err := ctx.Err(); err != nil {
		return capabilityFailed(err.Error())
	}
	if req.Denied != "" {
		return capabilityFailed(msgPermissionDenied)
	}
	if len(req.Content) == 0 {
		return capabilityFailed(msgNoFile)
	}
	if f.maxBytes > 0 && len(req.Content) > f.maxBytes {
		return capabilityFailed(msgMediaTooLarge)
	}
	mt := req.MimeType
	if mt == "" {
		mt = mime.TypeByExtension(path.Ext(req.FileName))
	}
	if mt == "" {
		mt = http.DetectContentType(req.Content)
	}
	content := string(req.Content)
	if !isTextual(mt) {
		content = "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(req.Content)
	}
	name := req.FileName
	if name == "" {
		name = "import-" + uuid.NewString()
	}
	return capabilityOK(FileValue{
		FileName:  name,
		Content:   content,
		Type:      mt,
		Timestamp: f.now().UnixMilli(),
	})
}

func (f *uploadFiles) Export(ctx context.Context, req CaptureRequest) CapabilityResult {
	if err := ctx.Err(); err != nil {
		return capabilityFailed(err.Error())
	}
	if req.Export == nil {
		return capabilityFailed(msgNothingToExport)
	}
	b, err := sonic.ConfigStd.MarshalIndent(req.Export, "", "  ")
	if err != nil {
		return capabilityFailed(err.Error())
	}
	now := f.now()
	name := req.FileName
	if name == "" {
		name = fmt.Sprintf("export-%s.json", now.UTC().Format("20060102-150405"))
	}
	return capabilityOK(FileValue{
		FileName:  name,
		Content:   string(b),
		Type:      "application/json",
		Timestamp: now.UnixMilli(),
	})
}

func isTextual(mt string) bool {
	mt, _, _ = mime.ParseMediaType(mt)
	return strings.HasPrefix(mt, "text/") || mt == "application/json" || mt == "application/xml" || mt == "text/csv"
}

// imageFrames is a FrameSource over frames uploaded with the capture request.
type imageFrames struct {
	frames [][]byte
	next   int
	closed bool
}

func newImageFrames(frames [][]byte) *imageFrames {
	return &imageFrames{frames: frames}
}

func (s *imageFrames) NextFrame(ctx context.Context) (image.Image, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.closed || s.next >= len(s.frames) {
			return nil, io.EOF
		}
		raw := s.frames[s.next]
		s.next++
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			// Skip frames the browser failed to encode.
			continue
		}
		return img, nil
	}
}

func (s *imageFrames) Close() error {
	s.closed = true
	s.frames = nil
	return nil
}
