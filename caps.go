package mediasink

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Framerate is a rational frame rate. Num 0 means unbounded: frames are
// produced as fast as the pipeline consumes them.
type Framerate struct {
	Num int
	Den int
}

// Unbounded is the framerate used when the caller does not ask for one.
var Unbounded = Framerate{Num: 0, Den: 1}

func (f Framerate) String() string {
	return fmt.Sprintf("%d/%d", f.Num, f.Den)
}

// Valid reports whether f can be negotiated.
func (f Framerate) Valid() bool {
	return f.Den > 0 && f.Num >= 0
}

// IsUnbounded reports whether f places no limit on the frame rate.
func (f Framerate) IsUnbounded() bool {
	return f.Num == 0
}

// Interval returns the time between frames, or 0 when unbounded.
func (f Framerate) Interval() time.Duration {
	if f.Num <= 0 || f.Den <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) * int64(f.Den) / int64(f.Num))
}

const capsMediaType = "video/x-raw(memory:GLMemory)"

// Caps describes the only format the presentation element accepts:
// RGBA frames resident in GL memory at the sink's surface size.
type Caps struct {
	Width     int
	Height    int
	Framerate Framerate
}

// NewCaps returns GL-memory RGBA caps for the given size and rate.
func NewCaps(width, height int, rate Framerate) Caps {
	return Caps{Width: width, Height: height, Framerate: rate}
}

// String renders the caps in filter form, e.g.
// video/x-raw(memory:GLMemory),format=RGBA,width=640,height=480,framerate=30/1
func (c Caps) String() string {
	return fmt.Sprintf("%s,format=RGBA,width=%d,height=%d,framerate=%d/%d",
		capsMediaType, c.Width, c.Height, c.Framerate.Num, c.Framerate.Den)
}

// VideoInfo returns the negotiated frame description for c.
func (c Caps) VideoInfo() VideoInfo {
	return VideoInfo{
		Width:     c.Width,
		Height:    c.Height,
		Format:    PixelFormatRGBA32,
		Framerate: c.Framerate,
	}
}

// ParseCaps parses the string form produced by Caps.String.
func ParseCaps(s string) (Caps, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) == 0 || fields[0] != capsMediaType {
		return Caps{}, fmt.Errorf("caps: unsupported media type in %q", s)
	}

	var c Caps
	seen := make(map[string]bool, 4)
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, "=")
		if !ok {
			return Caps{}, fmt.Errorf("caps: malformed field %q", f)
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		seen[key] = true

		var err error
		switch key {
		case "format":
			if val != "RGBA" {
				return Caps{}, fmt.Errorf("caps: unsupported format %q", val)
			}
		case "width":
			c.Width, err = strconv.Atoi(val)
		case "height":
			c.Height, err = strconv.Atoi(val)
		case "framerate":
			num, den, ok := strings.Cut(val, "/")
			if !ok {
				return Caps{}, fmt.Errorf("caps: malformed framerate %q", val)
			}
			if c.Framerate.Num, err = strconv.Atoi(num); err == nil {
				c.Framerate.Den, err = strconv.Atoi(den)
			}
		default:
			return Caps{}, fmt.Errorf("caps: unknown field %q", key)
		}
		if err != nil {
			return Caps{}, fmt.Errorf("caps: field %s: %w", key, err)
		}
	}

	for _, k := range []string{"format", "width", "height", "framerate"} {
		if !seen[k] {
			return Caps{}, fmt.Errorf("caps: missing field %q", k)
		}
	}
	if c.Width <= 0 || c.Height <= 0 {
		return Caps{}, fmt.Errorf("caps: invalid size %dx%d", c.Width, c.Height)
	}
	if !c.Framerate.Valid() {
		return Caps{}, fmt.Errorf("caps: invalid framerate %s", c.Framerate)
	}
	return c, nil
}
