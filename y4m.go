package mediasink

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	y4mMagic      = "YUV4MPEG2"
	y4mFrameMagic = "FRAME"
	y4mMaxLine    = 1024
)

// y4mHeader is the stream header of a YUV4MPEG2 file.
type y4mHeader struct {
	Width      int
	Height     int
	Framerate  Framerate
	Interlace  string
	Colorspace string
}

// y4mReader reads 4:2:0 frames from a YUV4MPEG2 stream.
type y4mReader struct {
	r      *bufio.Reader
	header y4mHeader
	frame  []byte
}

func newY4MReader(r io.Reader) (*y4mReader, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	line, err := readY4MLine(br)
	if err != nil {
		return nil, fmt.Errorf("y4m: read header: %w", err)
	}
	h, err := parseY4MHeader(line)
	if err != nil {
		return nil, err
	}
	return &y4mReader{
		r:      br,
		header: h,
		frame:  make([]byte, I420Size(h.Width, h.Height)),
	}, nil
}

func parseY4MHeader(line string) (y4mHeader, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != y4mMagic {
		return y4mHeader{}, errors.New("y4m: missing YUV4MPEG2 signature")
	}

	h := y4mHeader{Framerate: Unbounded, Colorspace: "420jpeg"}
	for _, f := range fields[1:] {
		if f == "" {
			continue
		}
		tag, val := f[0], f[1:]
		var err error
		switch tag {
		case 'W':
			h.Width, err = strconv.Atoi(val)
		case 'H':
			h.Height, err = strconv.Atoi(val)
		case 'F':
			num, den, ok := strings.Cut(val, ":")
			if !ok {
				return y4mHeader{}, fmt.Errorf("y4m: malformed framerate %q", val)
			}
			if h.Framerate.Num, err = strconv.Atoi(num); err == nil {
				h.Framerate.Den, err = strconv.Atoi(den)
			}
		case 'I':
			h.Interlace = val
		case 'C':
			h.Colorspace = val
		}
		if err != nil {
			return y4mHeader{}, fmt.Errorf("y4m: field %c: %w", tag, err)
		}
	}

	if err := checkFrameSize(h.Width, h.Height); err != nil {
		return y4mHeader{}, fmt.Errorf("y4m: %w", err)
	}
	if !h.Framerate.Valid() {
		h.Framerate = Unbounded
	}
	if !strings.HasPrefix(h.Colorspace, "420") {
		return y4mHeader{}, fmt.Errorf("y4m: unsupported colorspace C%s", h.Colorspace)
	}
	return h, nil
}

// next reads the following frame. The returned frame aliases the reader's
// buffer and is valid until the next call. io.EOF marks a clean end.
func (y *y4mReader) next() (*VideoFrame, error) {
	line, err := readY4MLine(y.r)
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("y4m: read frame header: %w", err)
	}
	if !strings.HasPrefix(line, y4mFrameMagic) {
		return nil, fmt.Errorf("y4m: expected FRAME, got %q", line)
	}
	if _, err := io.ReadFull(y.r, y.frame); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("y4m: truncated frame: %w", err)
		}
		return nil, fmt.Errorf("y4m: read frame: %w", err)
	}

	w, h := y.header.Width, y.header.Height
	cw := (w + 1) / 2
	ySize := w * h
	cSize := cw * ((h + 1) / 2)
	return &VideoFrame{
		Data:   [][]byte{y.frame[:ySize], y.frame[ySize : ySize+cSize], y.frame[ySize+cSize:]},
		Stride: []int{w, cw, cw},
		Width:  w,
		Height: h,
		Format: PixelFormatI420,
	}, nil
}

func readY4MLine(r *bufio.Reader) (string, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return buf.String(), err
		}
		if b == '\n' {
			return buf.String(), nil
		}
		if buf.Len() >= y4mMaxLine {
			return "", errors.New("y4m: header line too long")
		}
		buf.WriteByte(b)
	}
}
