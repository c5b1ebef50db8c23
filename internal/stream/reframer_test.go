package stream

import (
	"bytes"
	"context"
	"io"
	"testing"
)

// chunkedReader feeds data to the Reframer in caller-controlled
// chunks, one slice per Read call, to exercise arbitrary chunk
// boundaries (P7).
type chunkedReader struct {
	chunks [][]byte
	i      int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.i >= len(r.chunks) {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[r.i])
	r.i++
	return n, nil
}

func byteChunks(data []byte) [][]byte {
	chunks := make([][]byte, len(data))
	for i, b := range data {
		chunks[i] = []byte{b}
	}
	return chunks
}

// TestReframerRoundTrip feeds N synthetic JPEGs byte-by-byte and
// expects exactly those N frames back, byte-identical (P6).
func TestReframerRoundTrip(t *testing.T) {
	frames := [][]byte{
		{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9},
		{0xFF, 0xD8, 0xAA, 0xFF, 0xD9},
		{0xFF, 0xD8, 0xFF, 0xD9},
	}
	var all []byte
	for _, f := range frames {
		all = append(all, f...)
	}

	rf := NewReframer(&chunkedReader{chunks: byteChunks(all)})
	ctx := context.Background()

	for i, want := range frames {
		buf := rf.NewBuffer()
		n, err := rf.Read(ctx, buf)
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		got := buf.View()[:n]
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: got %x, want %x", i, got, want)
		}
	}
}

// TestReframerStraddling feeds two frames, after leading noise, in
// larger, irregular chunks that split the markers, instead of one
// byte at a time.
func TestReframerStraddling(t *testing.T) {
	data := []byte{0x00, 0x00, 0xFF, 0xD8, 0x0A, 0xFF, 0xD9, 0xFF, 0xD8, 0x10, 0x20, 0xFF, 0xD9}
	chunks := [][]byte{
		data[0:3],
		data[3:5],
		data[5:9],
		data[9:],
	}
	rf := NewReframer(&chunkedReader{chunks: chunks})
	ctx := context.Background()
	buf := rf.NewBuffer()

	n, err := rf.Read(ctx, buf)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	want := []byte{0xFF, 0xD8, 0x0A, 0xFF, 0xD9}
	if got := buf.View()[:n]; !bytes.Equal(got, want) {
		t.Fatalf("first frame: got %x, want %x", got, want)
	}

	n, err = rf.Read(ctx, buf)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	want = []byte{0xFF, 0xD8, 0x10, 0x20, 0xFF, 0xD9}
	if got := buf.View()[:n]; !bytes.Equal(got, want) {
		t.Fatalf("second frame: got %x, want %x", got, want)
	}
}

// TestReframerS5 matches spec.md S5 literally: one byte per chunk,
// leading noise before the first SOI.
func TestReframerS5(t *testing.T) {
	data := []byte{0x00, 0x00, 0xFF, 0xD8, 0x0A, 0xFF, 0xD9, 0xFF}
	rf := NewReframer(&chunkedReader{chunks: byteChunks(data)})
	ctx := context.Background()
	buf := rf.NewBuffer()

	n, err := rf.Read(ctx, buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Fatalf("got length %d, want 5", n)
	}
	want := []byte{0xFF, 0xD8, 0x0A, 0xFF, 0xD9}
	if got := buf.View()[:n]; !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

// TestReframerOverflowDiscardsToLastSOI exercises the 4 MiB cap: a
// run of non-frame bytes followed by a real frame must still be
// found once the accumulator has been trimmed (spec §9).
func TestReframerOverflowDiscardsToLastSOI(t *testing.T) {
	padding := bytes.Repeat([]byte{0x00}, maxAccumulator+1024)
	frame := []byte{0xFF, 0xD8, 0x7A, 0xFF, 0xD9}
	data := append(padding, frame...)

	rf := NewReframer(bytes.NewReader(data))
	ctx := context.Background()
	buf := rf.NewBuffer()

	n, err := rf.Read(ctx, buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := buf.View()[:n]; !bytes.Equal(got, frame) {
		t.Fatalf("got %x, want %x", got, frame)
	}
}

// TestReframerEOFAfterRepeatedEmptyReads ensures a reader that never
// produces bytes is eventually failed rather than spinning forever
// (spec §4.B edge case iii, §7 upstream-EOF MUST).
func TestReframerEOFAfterRepeatedEmptyReads(t *testing.T) {
	rf := NewReframer(&zeroReader{})
	ctx := context.Background()
	buf := rf.NewBuffer()

	_, err := rf.Read(ctx, buf)
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	return 0, nil
}
