package runtime

import (
	"errors"
	"strings"
	"testing"
)

func TestEchoOpenRejectsEmptyPath(t *testing.T) {
	if _, err := OpenEcho("  ", Options{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestEchoEncodeDecodeRoundTrip(t *testing.T) {
	rt, err := OpenEcho("m", Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	toks, err := rt.Encode("héllo")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(toks) != len("héllo") {
		t.Fatalf("tokens=%d", len(toks))
	}
	s, err := rt.Decode(toks)
	if err != nil || s != "héllo" {
		t.Fatalf("decode=%q err=%v", s, err)
	}
}

func TestEchoGeneratorReplaysInput(t *testing.T) {
	rt, _ := OpenEcho("m", Options{})
	in, _ := rt.Encode("abc")
	g, err := rt.NewGenerator(in, SearchOptions{MaxLength: 100})
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	defer g.Close()
	dec := rt.NewStreamDecoder()
	var b strings.Builder
	for !g.IsDone() {
		if err := g.ComputeStep(); err != nil {
			t.Fatalf("step: %v", err)
		}
		s, err := dec.Decode(g.NextToken())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		b.WriteString(s)
	}
	if b.String() != "abc" {
		t.Fatalf("got %q", b.String())
	}
	if err := g.ComputeStep(); !errors.Is(err, ErrGeneratorDone) {
		t.Fatalf("expected ErrGeneratorDone, got %v", err)
	}
}

func TestEchoMaxLengthBoundsTotalSequence(t *testing.T) {
	rt, _ := OpenEcho("m", Options{})
	in, _ := rt.Encode("abcdef")
	out, err := rt.Generate(in, SearchOptions{MaxLength: 8})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) != 8 {
		t.Fatalf("len=%d", len(out))
	}
	s, _ := rt.Decode(out[len(in):])
	if s != "ab" {
		t.Fatalf("suffix=%q", s)
	}
	// prompt already at the limit: nothing generated
	out, _ = rt.Generate(in, SearchOptions{MaxLength: 3})
	if len(out) != len(in) {
		t.Fatalf("expected no generated tokens, got %d", len(out)-len(in))
	}
}

func TestUTF8StreamDecoderHoldsPartialRunes(t *testing.T) {
	d := &utf8StreamDecoder{}
	b := []byte("é")
	s, err := d.Decode(int32(b[0]))
	if err != nil || s != "" {
		t.Fatalf("first byte: %q err=%v", s, err)
	}
	s, err = d.Decode(int32(b[1]))
	if err != nil || s != "é" {
		t.Fatalf("second byte: %q err=%v", s, err)
	}
	if _, err := d.Decode(300); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestEchoClosedRuntimeRefusesWork(t *testing.T) {
	rt, _ := OpenEcho("m", Options{})
	_ = rt.Close()
	if _, err := rt.Encode("x"); err == nil {
		t.Fatalf("expected error after close")
	}
}
