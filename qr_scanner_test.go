package main

import (
	"context"
	"image"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// widthDecoder "finds" a code in frames that are exactly codeWidth pixels wide.
type widthDecoder struct {
	codeWidth int
	seen      atomic.Int32
}

func (d *widthDecoder) Decode(frame image.Image) (string, bool) {
	d.seen.Add(1)
	if frame.Bounds().Dx() == d.codeWidth {
		return "ticket-42", true
	}
	return "", false
}

type scriptedFrames struct {
	frames []image.Image
	next   int
	block  bool
	closed atomic.Bool
}

func (s *scriptedFrames) NextFrame(ctx context.Context) (image.Image, error) {
	if s.next < len(s.frames) {
		f := s.frames[s.next]
		s.next++
		return f, nil
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, io.EOF
}

func (s *scriptedFrames) Close() error {
	s.closed.Store(true)
	return nil
}

func blank(w int) image.Image {
	return image.NewGray(image.Rect(0, 0, w, w))
}

func TestQRScanStopsAtFirstCode(t *testing.T) {
	defer goleak.VerifyNone(t)

	decoder := &widthDecoder{codeWidth: 7}
	src := &scriptedFrames{frames: []image.Image{blank(3), blank(7), blank(7)}, block: true}
	scanner := NewQRScanner(decoder, time.Second, time.Millisecond)

	res := scanner.Scan(context.Background(), src)
	require.True(t, res.Success)
	assert.Equal(t, TextValue("ticket-42"), res.Data)
	assert.True(t, src.closed.Load(), "frame source must be released")
	assert.Equal(t, int32(2), decoder.seen.Load())
}

func TestQRScanTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedFrames{frames: []image.Image{blank(3)}, block: true}
	scanner := NewQRScanner(&widthDecoder{codeWidth: 7}, 50*time.Millisecond, time.Millisecond)

	res := scanner.Scan(context.Background(), src)
	assert.Equal(t, capabilityFailed(msgScanTimeout), res)
	assert.True(t, src.closed.Load())
}

func TestQRScanFeedEndsWithoutCode(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedFrames{frames: []image.Image{blank(3), blank(4)}}
	scanner := NewQRScanner(&widthDecoder{codeWidth: 7}, time.Second, time.Millisecond)

	res := scanner.Scan(context.Background(), src)
	assert.Equal(t, capabilityFailed(msgScanNoCode), res)
	assert.True(t, src.closed.Load())
}

func TestQRScanCancelledByCaller(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedFrames{block: true}
	scanner := NewQRScanner(&widthDecoder{codeWidth: 7}, time.Minute, time.Millisecond)

	done := make(chan CapabilityResult, 1)
	go func() { done <- scanner.Scan(ctx, src) }()
	cancel()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, context.Canceled.Error(), res.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not stop after cancellation")
	}
	assert.True(t, src.closed.Load())
}

func TestQRScanWithoutFrames(t *testing.T) {
	scanner := NewQRScanner(nil, 0, 0)
	assert.Equal(t, capabilityFailed(msgScanNoCode), scanner.Scan(context.Background(), nil))
}

func TestGozxingDecoderReadsRenderedCode(t *testing.T) {
	matrix, err := qrcode.NewQRCodeWriter().Encode("https://example.com/r/7", gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	require.NoError(t, err)

	text, ok := gozxingDecoder{}.Decode(matrix)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/r/7", text)

	_, ok = gozxingDecoder{}.Decode(blank(64))
	assert.False(t, ok)
}

func TestImageFramesSkipsUndecodableFrames(t *testing.T) {
	frames := newImageFrames([][]byte{[]byte("garbage")})
	_, err := frames.NextFrame(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, frames.Close())
}
