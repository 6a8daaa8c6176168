// Package video keeps the latest camera still pushed over the stream.
package video

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/roadsight/viewer/internal/dispatcher"
	"github.com/roadsight/viewer/pkg/streaming"
)

// ErrNoFrame is returned when nothing has been drawn yet.
var ErrNoFrame = errors.New("no video frame received")

const dataURLPrefix = "data:image/jpeg;base64,"

// Canvas is sized by the first frame. Later frames with other dimensions
// are scaled to fit. Safe for concurrent use.
type Canvas struct {
	mu     sync.RWMutex
	img    *image.RGBA
	frames uint64
	lastAt time.Time
}

// NewCanvas creates an empty canvas.
func NewCanvas() *Canvas {
	return &Canvas{}
}

// DecodeFrame decodes a base64 JPEG, with or without a data URL prefix.
func DecodeFrame(frame string) (image.Image, error) {
	frame = strings.TrimPrefix(strings.TrimSpace(frame), dataURLPrefix)
	if frame == "" {
		return nil, errors.New("empty frame")
	}
	raw, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		return nil, fmt.Errorf("decode frame base64: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode frame jpeg: %w", err)
	}
	return img, nil
}

// Draw decodes frame and paints it onto the canvas.
func (c *Canvas) Draw(frame string, at time.Time) error {
	src, err := DecodeFrame(frame)
	if err != nil {
		return err
	}
	c.Paint(src, at)
	return nil
}

// Paint blits src onto the canvas.
func (c *Canvas) Paint(src image.Image, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := src.Bounds()
	if c.img == nil {
		c.img = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	}
	dst := c.img.Bounds()
	if b.Dx() == dst.Dx() && b.Dy() == dst.Dy() {
		draw.Draw(c.img, dst, src, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(c.img, dst, src, b, draw.Src, nil)
	}
	c.frames++
	c.lastAt = at
}

// Size returns the canvas dimensions, zero before the first frame.
func (c *Canvas) Size() (width, height int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.img == nil {
		return 0, 0
	}
	return c.img.Bounds().Dx(), c.img.Bounds().Dy()
}

// Frames returns how many frames were painted and when the last one arrived.
func (c *Canvas) Frames() (uint64, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frames, c.lastAt
}

// JPEG encodes the current canvas.
func (c *Canvas) JPEG(quality int) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.img == nil {
		return nil, ErrNoFrame
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, c.img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode canvas: %w", err)
	}
	return buf.Bytes(), nil
}

// Handler returns the dispatcher handler for video_frame events.
func Handler(c *Canvas) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) error {
		var p streaming.VideoFramePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("decode video frame payload: %w", err)
		}
		return c.Draw(p.Frame, e.ReceivedAt)
	}
}
