// Package wire implements the binary TCP framing: each message is a 4-byte
// big-endian length prefix followed by that many bytes of UTF-8 JSON.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/orderlink/orderlink/internal/jsoncodec"
)

// MaxFrameSize bounds the declared payload length. A frame announcing more is
// treated as a corrupt stream and the connection must be closed.
const MaxFrameSize = 1 << 20

const headerSize = 4

// FramingError reports a malformed binary stream. The connection carrying it
// cannot be resynchronised and must be closed.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return "framing error: " + e.Reason
}

// Encode serialises v to JSON and prepends the 4-byte big-endian length.
func Encode(v any) ([]byte, error) {
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal payload: %w", err)
	}
	return EncodeRaw(payload)
}

// EncodeRaw frames an already-serialised JSON payload.
func EncodeRaw(payload []byte) ([]byte, error) {
	if len(payload) > MaxFrameSize {
		return nil, &FramingError{Reason: fmt.Sprintf("payload of %d bytes exceeds maximum %d", len(payload), MaxFrameSize)}
	}
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(buf[:headerSize], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf, nil
}

// Decoder reassembles length-prefixed JSON messages from a chunked byte
// stream. It keeps an accumulation buffer across feeds; partial trailing data
// is retained for the next chunk. A Decoder is owned by exactly one
// connection's handling context and is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder for a fresh connection.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk and extracts every complete frame buffered so far. It
// returns the raw JSON payloads in arrival order. A FramingError invalidates
// the decoder; the caller must close the connection.
func (d *Decoder) Feed(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		if len(d.buf) < headerSize {
			return frames, nil
		}
		length := binary.BigEndian.Uint32(d.buf[:headerSize])
		if length > MaxFrameSize {
			return frames, &FramingError{Reason: fmt.Sprintf("declared length %d exceeds maximum %d", length, MaxFrameSize)}
		}
		total := headerSize + int(length)
		if len(d.buf) < total {
			return frames, nil
		}

		payload := make([]byte, length)
		copy(payload, d.buf[headerSize:total])
		d.buf = d.buf[total:]

		if !jsoncodec.Valid(payload) {
			return frames, &FramingError{Reason: "frame payload is not valid JSON"}
		}
		frames = append(frames, payload)
	}
}

// Buffered returns the number of bytes retained for the next feed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// ReadMessage reads exactly one framed JSON payload from r. io.ReadFull copes
// with TCP fragmenting the frame across reads.
func ReadMessage(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, &FramingError{Reason: fmt.Sprintf("declared length %d exceeds maximum %d", length, MaxFrameSize)}
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	if !jsoncodec.Valid(payload) {
		return nil, &FramingError{Reason: "frame payload is not valid JSON"}
	}
	return payload, nil
}

// WriteMessage frames v and writes it to w.
func WriteMessage(w io.Writer, v any) error {
	frame, err := Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// WriteRaw frames an already-serialised JSON payload and writes it to w.
func WriteRaw(w io.Writer, payload []byte) error {
	frame, err := EncodeRaw(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
