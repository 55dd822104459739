// Package frame implements the length-prefixed framing that sits directly
// on top of the TCP byte stream (spec §4.A). It solves the same sticky-
// packet problem as the teacher's protocol.Encode/Decode — read a fixed
// header, then read exactly the declared number of body bytes — but the
// header here is a single 4-byte little-endian length, with the rest of
// the envelope (correlation id, message type, auth) handled one layer up
// in wire/packet.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the largest declared frame length the codec accepts.
// Frames larger than this cause the connection to be closed with a
// protocol error (spec §4.A, §6).
const MaxFrameSize = 64 * 1024 * 1024 // 64 MiB

const lengthPrefixSize = 4

// WriteFrame prepends a 4-byte little-endian length (not including itself)
// to packet and writes both to w in one call.
func WriteFrame(w io.Writer, packet []byte) error {
	if len(packet) > MaxFrameSize {
		return fmt.Errorf("frame: packet of %d bytes exceeds max frame size %d", len(packet), MaxFrameSize)
	}
	buf := make([]byte, lengthPrefixSize+len(packet))
	binary.LittleEndian.PutUint32(buf[:lengthPrefixSize], uint32(len(packet)))
	copy(buf[lengthPrefixSize:], packet)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one complete length-prefixed packet from r. It returns
// InvalidFrameError-compatible errors (via the frame package's own error,
// wrapped by callers into types.InvalidFrameError) when the declared
// length exceeds MaxFrameSize.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, &ErrFrameTooLarge{Declared: n}
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// ErrFrameTooLarge is returned by ReadFrame when the peer declares a
// length beyond MaxFrameSize. Connection managers must treat this as a
// protocol error: close the socket and begin reconnecting (spec S6).
type ErrFrameTooLarge struct{ Declared uint32 }

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("frame: declared length %d exceeds max %d", e.Declared, MaxFrameSize)
}
