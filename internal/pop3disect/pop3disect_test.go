package pop3disect_test

import (
	"testing"

	"github.com/haldirsson/socks5d/internal/pop3disect"
)

type recordingSink struct {
	called     bool
	pop3User   string
	pop3Pass   string
	succeeded  bool
}

func (s *recordingSink) ObservePOP3Credentials(destination, socksUser, pop3User, pop3Pass string, succeeded bool) {
	s.called = true
	s.pop3User = pop3User
	s.pop3Pass = pop3Pass
	s.succeeded = succeeded
}

func TestDisectorCapturesSuccessfulLogin(t *testing.T) {
	sink := &recordingSink{}
	d := pop3disect.New(sink, "pop.example.test:110", "alice")

	d.Consume(pop3disect.ClientToOrigin, []byte("USER bob\r\n"))
	d.Consume(pop3disect.ClientToOrigin, []byte("PASS hunter2\r\n"))
	d.Consume(pop3disect.OriginToClient, []byte("+OK logged in\r\n"))

	if !sink.called {
		t.Fatal("sink was never invoked")
	}
	if sink.pop3User != "bob" || sink.pop3Pass != "hunter2" || !sink.succeeded {
		t.Fatalf("got user=%q pass=%q succeeded=%v", sink.pop3User, sink.pop3Pass, sink.succeeded)
	}
}

func TestDisectorCapturesFailedLogin(t *testing.T) {
	sink := &recordingSink{}
	d := pop3disect.New(sink, "pop.example.test:110", "alice")

	d.Consume(pop3disect.ClientToOrigin, []byte("USER bob\r\n"))
	d.Consume(pop3disect.ClientToOrigin, []byte("PASS wrong\r\n"))
	d.Consume(pop3disect.OriginToClient, []byte("-ERR invalid\r\n"))

	if !sink.called || sink.succeeded {
		t.Fatalf("expected a failed-login observation, got called=%v succeeded=%v", sink.called, sink.succeeded)
	}
}

func TestDisectorIdlesOnFramingAnomaly(t *testing.T) {
	sink := &recordingSink{}
	d := pop3disect.New(sink, "pop.example.test:110", "alice")

	// PASS before USER is an ordering anomaly.
	d.Consume(pop3disect.ClientToOrigin, []byte("PASS hunter2\r\n"))
	d.Consume(pop3disect.ClientToOrigin, []byte("USER bob\r\n"))
	d.Consume(pop3disect.OriginToClient, []byte("+OK\r\n"))

	if sink.called {
		t.Fatal("sink should not be invoked after a framing anomaly")
	}
}

func TestDisectorSplitAcrossMultipleChunks(t *testing.T) {
	sink := &recordingSink{}
	d := pop3disect.New(sink, "pop.example.test:110", "alice")

	d.Consume(pop3disect.ClientToOrigin, []byte("USE"))
	d.Consume(pop3disect.ClientToOrigin, []byte("R bob\r\nPASS hunt"))
	d.Consume(pop3disect.ClientToOrigin, []byte("er2\r\n"))
	d.Consume(pop3disect.OriginToClient, []byte("+OK\r\n"))

	if !sink.called || sink.pop3User != "bob" || sink.pop3Pass != "hunter2" {
		t.Fatalf("got called=%v user=%q pass=%q", sink.called, sink.pop3User, sink.pop3Pass)
	}
}
