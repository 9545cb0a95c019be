package mediasink

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
)

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio (may letterbox).
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleModeFit:
		return "fit"
	case ScaleModeFill:
		return "fill"
	case ScaleModeStretch:
		return "stretch"
	default:
		return "unknown"
	}
}

// ParseScaleMode parses "fit", "fill" or "stretch". Empty means fit.
func ParseScaleMode(s string) (ScaleMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fit":
		return ScaleModeFit, nil
	case "fill":
		return ScaleModeFill, nil
	case "stretch":
		return ScaleModeStretch, nil
	default:
		return ScaleModeFit, fmt.Errorf("invalid scale mode: %q", s)
	}
}

// frameConverter turns decoded frames into RGBA frames at the caps size.
type frameConverter struct {
	width, height int
	mode          ScaleMode

	// Pre-allocated output, reused across frames
	dst *image.RGBA
	out VideoFrame
}

func newFrameConverter(caps Caps, mode ScaleMode) *frameConverter {
	return &frameConverter{width: caps.Width, height: caps.Height, mode: mode}
}

// convert returns frame unchanged when it already matches, otherwise a
// converted frame valid until the next call.
func (c *frameConverter) convert(frame *VideoFrame) (*VideoFrame, error) {
	if frame.Format == PixelFormatRGBA32 && frame.Width == c.width && frame.Height == c.height {
		return frame, nil
	}

	src, err := frameImage(frame)
	if err != nil {
		return nil, err
	}

	if c.dst == nil {
		c.dst = image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	}
	dstRect, srcRect := c.regions(frame.Width, frame.Height)
	if dstRect != c.dst.Bounds() {
		draw.Draw(c.dst, c.dst.Bounds(), image.NewUniform(color.RGBA{A: 0xff}), image.Point{}, draw.Src)
	}
	if dstRect.Size() == srcRect.Size() {
		draw.Draw(c.dst, dstRect, src, srcRect.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(c.dst, dstRect, src, srcRect, draw.Src, nil)
	}

	c.out = VideoFrame{
		Data:      [][]byte{c.dst.Pix},
		Stride:    []int{c.dst.Stride},
		Width:     c.width,
		Height:    c.height,
		Format:    PixelFormatRGBA32,
		Timestamp: frame.Timestamp,
		Duration:  frame.Duration,
	}
	return &c.out, nil
}

// regions computes where the source lands in the output and which part of
// the source is used, according to the scale mode.
func (c *frameConverter) regions(srcW, srcH int) (dst, src image.Rectangle) {
	dst = image.Rect(0, 0, c.width, c.height)
	src = image.Rect(0, 0, srcW, srcH)
	if srcW == 0 || srcH == 0 {
		return dst, src
	}

	switch c.mode {
	case ScaleModeFit:
		w, h := c.width, c.height
		if srcW*c.height > srcH*c.width {
			h = srcH * c.width / srcW
		} else {
			w = srcW * c.height / srcH
		}
		x, y := (c.width-w)/2, (c.height-h)/2
		dst = image.Rect(x, y, x+w, y+h)

	case ScaleModeFill:
		if srcW*c.height > srcH*c.width {
			cropW := srcH * c.width / c.height
			x := (srcW - cropW) / 2
			src = image.Rect(x, 0, x+cropW, srcH)
		} else {
			cropH := srcW * c.height / c.width
			y := (srcH - cropH) / 2
			src = image.Rect(0, y, srcW, y+cropH)
		}
	}
	return dst, src
}

// frameImage wraps frame's planes as an image without copying, except for
// BGRA which is swizzled.
func frameImage(frame *VideoFrame) (image.Image, error) {
	r := image.Rect(0, 0, frame.Width, frame.Height)
	switch frame.Format {
	case PixelFormatI420:
		if len(frame.Data) < 3 || len(frame.Stride) < 3 {
			return nil, fmt.Errorf("convert: I420 frame needs 3 planes, got %d", len(frame.Data))
		}
		return &image.YCbCr{
			Y:              frame.Data[0],
			Cb:             frame.Data[1],
			Cr:             frame.Data[2],
			YStride:        frame.Stride[0],
			CStride:        frame.Stride[1],
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           r,
		}, nil
	case PixelFormatRGBA32:
		return &image.RGBA{Pix: frame.Data[0], Stride: frame.Stride[0], Rect: r}, nil
	case PixelFormatBGRA32:
		img := image.NewRGBA(r)
		for y := 0; y < frame.Height; y++ {
			srcRow := frame.Data[0][y*frame.Stride[0]:]
			dstRow := img.Pix[y*img.Stride:]
			for x := 0; x < frame.Width; x++ {
				i := x * 4
				dstRow[i+0] = srcRow[i+2]
				dstRow[i+1] = srcRow[i+1]
				dstRow[i+2] = srcRow[i+0]
				dstRow[i+3] = srcRow[i+3]
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("convert: unsupported pixel format %s", frame.Format)
	}
}
