package dbgp

import (
	"bytes"
	"math/rand"
	"testing"
)

func encodeAll(msgs []string) []byte {
	var buf bytes.Buffer
	for _, m := range msgs {
		buf.Write(EncodeFrame([]byte(m)))
	}
	return buf.Bytes()
}

func TestFrameDecoder_SingleChunk(t *testing.T) {
	msgs := []string{"<init/>", "<response/>"}
	wire := encodeAll(msgs)

	d := NewFrameDecoder()
	frames, err := d.Feed(wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != len(msgs) {
		t.Fatalf("got %d frames, want %d", len(frames), len(msgs))
	}
	for i, f := range frames {
		if string(f) != msgs[i] {
			t.Errorf("frame %d = %q, want %q", i, f, msgs[i])
		}
	}
}

func TestFrameDecoder_ArbitraryPartition(t *testing.T) {
	msgs := []string{"<init appid=\"1\"/>", "<response/>", "<x/>", ""}
	wire := encodeAll(msgs)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 200; trial++ {
		d := NewFrameDecoder()
		var got [][]byte
		pos := 0
		for pos < len(wire) {
			n := rng.Intn(5) + 1
			if pos+n > len(wire) {
				n = len(wire) - pos
			}
			chunk := wire[pos : pos+n]
			pos += n
			frames, err := d.Feed(chunk)
			if err != nil {
				t.Fatalf("trial %d: unexpected error: %v", trial, err)
			}
			got = append(got, frames...)
		}
		if len(got) != len(msgs) {
			t.Fatalf("trial %d: got %d frames, want %d", trial, len(got), len(msgs))
		}
		for i, f := range got {
			if string(f) != msgs[i] {
				t.Fatalf("trial %d: frame %d = %q, want %q", trial, i, f, msgs[i])
			}
		}
	}
}

func TestFrameDecoder_MalformedLength(t *testing.T) {
	d := NewFrameDecoder()
	_, err := d.Feed([]byte("abc\x00<x/>\x00"))
	if err == nil {
		t.Fatal("expected error for non-decimal length prefix")
	}
}

func TestFrameDecoder_FreshDecoderAfterError(t *testing.T) {
	d := NewFrameDecoder()
	if _, err := d.Feed([]byte("abc\x00")); err == nil {
		t.Fatal("expected error")
	}
	// A fresh decoder (as the session manager would construct after logging
	// and dropping the connection) parses subsequent well-formed frames fine.
	d2 := NewFrameDecoder()
	frames, err := d2.Feed(encodeAll([]string{"<ok/>"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 || string(frames[0]) != "<ok/>" {
		t.Fatalf("got %v", frames)
	}
}
