package main

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

const defaultQRScanTimeout = 30 * time.Second

// BarcodeDecoder finds a code in one frame.
type BarcodeDecoder interface {
	Decode(frame image.Image) (string, bool)
}

// FrameSource yields camera frames. NextFrame returns io.EOF when the feed ends.
type FrameSource interface {
	NextFrame(ctx context.Context) (image.Image, error)
	Close() error
}

type gozxingDecoder struct{}

func (gozxingDecoder) Decode(frame image.Image) (string, bool) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(frame)
	if err != nil {
		return "", false
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil || result == nil {
		return "", false
	}
	return result.GetText(), true
}

// QRScanner samples frames into a decoder until the first code is found or the
// timeout elapses. The frame source is closed before Scan returns.
type QRScanner struct {
	decoder  BarcodeDecoder
	timeout  time.Duration
	interval time.Duration
}

func NewQRScanner(decoder BarcodeDecoder, timeout, interval time.Duration) *QRScanner {
	if decoder == nil {
		decoder = gozxingDecoder{}
	}
	if timeout <= 0 {
		timeout = defaultQRScanTimeout
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &QRScanner{decoder: decoder, timeout: timeout, interval: interval}
}

func (s *QRScanner) Scan(ctx context.Context, src FrameSource) CapabilityResult {
	if src == nil {
		return capabilityFailed(msgScanNoCode)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)

	frames := make(chan image.Image)
	feedErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(frames)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			frame, err := src.NextFrame(ctx)
			if err != nil {
				feedErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
		_ = src.Close()
	}()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return s.stopped(ctx, feedErr)
			}
			if code, found := s.decoder.Decode(frame); found {
				return capabilityOK(TextValue(code))
			}
		case <-ctx.Done():
			return s.stopped(ctx, feedErr)
		}
	}
}

func (s *QRScanner) stopped(ctx context.Context, feedErr <-chan error) CapabilityResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return capabilityFailed(msgScanTimeout)
	}
	select {
	case err := <-feedErr:
		if errors.Is(err, io.EOF) {
			return capabilityFailed(msgScanNoCode)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return capabilityFailed(msgScanTimeout)
		}
		return capabilityFailed(err.Error())
	default:
	}
	if err := ctx.Err(); err != nil {
		return capabilityFailed(err.Error())
	}
	return capabilityFailed(msgScanNoCode)
}
