package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	packet := []byte("hello world")
	if err := WriteFrame(&buf, packet); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, packet) {
		t.Errorf("payload mismatch: got %q, want %q", got, packet)
	}
}

func TestReadFrameEmptyPacket(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty packet, got %d bytes", len(got))
	}
}

func TestReadFrameDoesNotOverconsumeOnSplitReads(t *testing.T) {
	var full bytes.Buffer
	first := []byte("first packet")
	second := []byte("second packet, longer than the first one")
	if err := WriteFrame(&full, first); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if err := WriteFrame(&full, second); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	r := bytes.NewReader(full.Bytes())
	got1, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame(1) failed: %v", err)
	}
	if !bytes.Equal(got1, first) {
		t.Fatalf("first packet mismatch: got %q, want %q", got1, first)
	}
	got2, err := ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame(2) failed: %v", err)
	}
	if !bytes.Equal(got2, second) {
		t.Fatalf("second packet mismatch: got %q, want %q", got2, second)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], MaxFrameSize+1)
	buf.Write(lenBuf[:])

	_, err := ReadFrame(&buf)
	if err == nil {
		t.Fatal("expected error for oversized frame, got nil")
	}
	var tooLarge *ErrFrameTooLarge
	if !errors.As(err, &tooLarge) {
		t.Fatalf("expected *ErrFrameTooLarge, got %T: %v", err, err)
	}
}

func TestReadFrameTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abcdefgh")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:6]) // header + partial body only
	_, err := ReadFrame(truncated)
	if err != io.ErrUnexpectedEOF && err != io.EOF {
		t.Fatalf("expected truncated-read error, got %v", err)
	}
}
