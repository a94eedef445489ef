package monitorproto_test

import (
	"testing"

	"github.com/haldirsson/socks5d/internal/buffer"
	"github.com/haldirsson/socks5d/internal/monitorproto"
)

func TestParseGetHistoricRequest(t *testing.T) {
	b := buffer.New(64)
	var token [16]byte
	for i := range token {
		token[i] = byte(i)
	}
	msg := append([]byte{monitorproto.Version}, token[:]...)
	msg = append(msg, monitorproto.MethodGet, monitorproto.TargetHistoric, 0x00, 0x01, 0x00)
	b.Write(msg)

	p := monitorproto.NewParser()
	p.Consume(b)

	if !p.Done() || p.Err() != nil {
		t.Fatalf("parse failed: done=%v err=%v", p.Done(), p.Err())
	}
	req := p.Request()
	if req.Method != monitorproto.MethodGet || req.Target != monitorproto.TargetHistoric {
		t.Fatalf("got method=%#x target=%#x", req.Method, req.Target)
	}
	if req.Token != token {
		t.Fatalf("token mismatch: got %v want %v", req.Token, token)
	}
}

func TestParseZeroLengthGetDlenTolerated(t *testing.T) {
	b := buffer.New(64)
	msg := append([]byte{monitorproto.Version}, make([]byte, 16)...)
	msg = append(msg, monitorproto.MethodGet, monitorproto.TargetHistoric, 0x00, 0x00)
	b.Write(msg)

	p := monitorproto.NewParser()
	p.Consume(b)

	if !p.Done() || p.Err() != nil {
		t.Fatalf("parse with dlen=0 failed: done=%v err=%v", p.Done(), p.Err())
	}
}

func TestParseInvalidTargetForMethod(t *testing.T) {
	b := buffer.New(64)
	msg := append([]byte{monitorproto.Version}, make([]byte, 16)...)
	// GET method with a CONFIG-only target is invalid.
	msg = append(msg, monitorproto.MethodGet, monitorproto.TargetAddProxyUser, 0x00, 0x00)
	b.Write(msg)

	p := monitorproto.NewParser()
	p.Consume(b)

	if !p.Done() || p.Err() != monitorproto.ErrUnsupportedTarget {
		t.Fatalf("expected unsupported target, got done=%v err=%v", p.Done(), p.Err())
	}
	if monitorproto.StatusForError(p.Err()) != monitorproto.StatusInvalidTarget {
		t.Fatalf("StatusForError = %#x, want StatusInvalidTarget", monitorproto.StatusForError(p.Err()))
	}
}

func TestMarshalErrorResponseIsFourBytes(t *testing.T) {
	out := monitorproto.MarshalErrorResponse(monitorproto.StatusInvalidVersion)
	if len(out) != 4 {
		t.Fatalf("len(MarshalErrorResponse()) = %d, want 4", len(out))
	}
	if out[0] != monitorproto.StatusInvalidVersion || out[1] != 0x00 || out[2] != 0x01 || out[3] != 0x00 {
		t.Fatalf("unexpected bytes: % x", out)
	}
}

func TestSplitAddUserPayload(t *testing.T) {
	username, secret, err := monitorproto.SplitAddUserPayload([]byte("bob\x00hunter2"))
	if err != nil {
		t.Fatalf("SplitAddUserPayload: %v", err)
	}
	if username != "bob" || secret != "hunter2" {
		t.Fatalf("got %q/%q", username, secret)
	}
}

func TestSplitAddUserPayloadRejectsNonAlphanumUsername(t *testing.T) {
	if _, _, err := monitorproto.SplitAddUserPayload([]byte("b ob\x00hunter2")); err == nil {
		t.Fatal("expected error for non-alphanumeric username")
	}
}

func TestSplitAddUserPayloadRequiresSeparator(t *testing.T) {
	if _, _, err := monitorproto.SplitAddUserPayload([]byte("nosep")); err == nil {
		t.Fatal("expected error when NUL separator is missing")
	}
}

func TestMarshalRequestParsesBackToSameRequest(t *testing.T) {
	var token [16]byte
	for i := range token {
		token[i] = byte(i + 1)
	}
	data := []byte("alice\x00secret")
	out := monitorproto.MarshalRequest(token, monitorproto.MethodConfig, monitorproto.TargetAddProxyUser, data)

	b := buffer.New(128)
	b.Write(out)

	p := monitorproto.NewParser()
	p.Consume(b)
	if !p.Done() || p.Err() != nil {
		t.Fatalf("parse failed: done=%v err=%v", p.Done(), p.Err())
	}
	req := p.Request()
	if req.Token != token || req.Method != monitorproto.MethodConfig || req.Target != monitorproto.TargetAddProxyUser {
		t.Fatalf("got %+v", req)
	}
	if string(req.Data) != string(data) {
		t.Fatalf("data = %q, want %q", req.Data, data)
	}
}

func TestParseResponseRoundTrip(t *testing.T) {
	out := monitorproto.MarshalResponse(monitorproto.StatusOK, monitorproto.MarshalCounter(42))
	status, data, err := monitorproto.ParseResponse(out)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if status != monitorproto.StatusOK {
		t.Fatalf("status = %#x, want StatusOK", status)
	}
	v, err := monitorproto.UnmarshalCounter(data)
	if err != nil {
		t.Fatalf("UnmarshalCounter: %v", err)
	}
	if v != 42 {
		t.Fatalf("counter = %d, want 42", v)
	}
}

func TestParseResponseShortBuffer(t *testing.T) {
	if _, _, err := monitorproto.ParseResponse([]byte{0x00, 0x00}); err != monitorproto.ErrShortResponse {
		t.Fatalf("expected ErrShortResponse, got %v", err)
	}
}

func TestStatusNameKnownAndUnknown(t *testing.T) {
	if monitorproto.StatusName(monitorproto.StatusOK) != "OK" {
		t.Fatalf("StatusName(StatusOK) unexpected")
	}
	if monitorproto.StatusName(0xFF) != "UNKNOWN" {
		t.Fatalf("StatusName(0xFF) unexpected")
	}
}
