package rpc

import (
	"encoding/binary"
	"io"

	"github.com/go-faster/errors"
)

// DefaultMaxFrame bounds a single frame when no explicit limit is configured.
const DefaultMaxFrame = 1 << 20

// ErrFrameTooLarge is returned when a frame header announces more than the limit.
var ErrFrameTooLarge = errors.New("frame too large")

// ReadFrame reads a length-prefixed payload from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, DefaultMaxFrame)
}

// WriteFrame writes payload to w with a 4-byte little-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	return writeFrame(w, payload)
}

func readFrame(r io.Reader, limit int64) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if limit > 0 && int64(length) > limit {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes exceeds %d", length, limit)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	// header and payload in a single Write
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
