package socks5proto_test

import (
	"testing"

	"github.com/haldirsson/socks5d/internal/buffer"
	"github.com/haldirsson/socks5d/internal/socks5proto"
)

func TestHelloParserSelectsPreferredMethod(t *testing.T) {
	b := buffer.New(16)
	b.Write([]byte{0x05, 0x02, 0x00, 0x02})

	var seen []byte
	p := socks5proto.NewHelloParser(func(m byte) bool {
		seen = append(seen, m)
		return m == socks5proto.MethodUserPass
	})
	p.Consume(b)

	if !p.Done() || p.Err() != nil {
		t.Fatalf("parser not done cleanly: done=%v err=%v", p.Done(), p.Err())
	}
	if !p.HasSelection() || p.Selected != socks5proto.MethodUserPass {
		t.Fatalf("Selected = %#x, HasSelection = %v", p.Selected, p.HasSelection())
	}
	if len(seen) != 2 {
		t.Fatalf("onMethod called %d times, want 2", len(seen))
	}
}

func TestHelloParserUnsupportedVersion(t *testing.T) {
	b := buffer.New(4)
	b.Write([]byte{0x04, 0x01, 0x00})

	p := socks5proto.NewHelloParser(func(byte) bool { return false })
	p.Consume(b)

	if !p.Done() || p.Err() != socks5proto.ErrUnsupportedVersion {
		t.Fatalf("expected unsupported-version terminal, got done=%v err=%v", p.Done(), p.Err())
	}
}

func TestHelloParserFeedAcrossMultipleConsumeCalls(t *testing.T) {
	b := buffer.New(16)
	p := socks5proto.NewHelloParser(func(byte) bool { return false })

	b.Write([]byte{0x05})
	p.Consume(b)
	if p.Done() {
		t.Fatal("parser should not be done after one byte")
	}

	b.Write([]byte{0x01, 0x00})
	p.Consume(b)
	if !p.Done() {
		t.Fatal("parser should be done after full hello")
	}
}

func TestAuthParserRoundTrip(t *testing.T) {
	b := buffer.New(32)
	b.Write([]byte{0x01, 5, 'a', 'l', 'i', 'c', 'e', 6, 's', 'e', 'c', 'r', 'e', 't'})

	p := socks5proto.NewAuthParser()
	p.Consume(b)

	if !p.Done() || p.Err() != nil {
		t.Fatalf("auth parse failed: done=%v err=%v", p.Done(), p.Err())
	}
	if string(p.Username()) != "alice" || string(p.Password()) != "secret" {
		t.Fatalf("got user=%q pass=%q", p.Username(), p.Password())
	}
}

func TestRequestParserIPv4(t *testing.T) {
	b := buffer.New(32)
	b.Write([]byte{0x05, 0x01, 0x00, 0x01, 127, 0, 0, 1, 0x00, 0x50})

	p := socks5proto.NewRequestParser()
	p.Consume(b)

	if !p.Done() || p.Err() != nil {
		t.Fatalf("request parse failed: done=%v err=%v", p.Done(), p.Err())
	}
	if p.IP().String() != "127.0.0.1" || p.Port() != 80 {
		t.Fatalf("got ip=%v port=%d", p.IP(), p.Port())
	}
}

func TestRequestParserDomain(t *testing.T) {
	b := buffer.New(32)
	domain := "example.test"
	msg := []byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}
	msg = append(msg, domain...)
	msg = append(msg, 0x01, 0xBB)
	b.Write(msg)

	p := socks5proto.NewRequestParser()
	p.Consume(b)

	if !p.Done() || p.Err() != nil {
		t.Fatalf("request parse failed: done=%v err=%v", p.Done(), p.Err())
	}
	if p.Domain() != domain || p.Port() != 443 {
		t.Fatalf("got domain=%q port=%d", p.Domain(), p.Port())
	}
}

func TestRequestParserUnsupportedATYP(t *testing.T) {
	b := buffer.New(32)
	b.Write([]byte{0x05, 0x01, 0x00, 0x7F})

	p := socks5proto.NewRequestParser()
	p.Consume(b)

	if !p.Done() || p.Err() != socks5proto.ErrUnsupportedATYP {
		t.Fatalf("expected unsupported ATYP, got done=%v err=%v", p.Done(), p.Err())
	}
}
