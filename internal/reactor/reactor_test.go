package reactor_test

import (
	"log/slog"
	"os"
	"testing"

	"github.com/haldirsson/socks5d/internal/reactor"
)

type recordingHandler struct {
	reads, writes, blocks, closes int
}

func (h *recordingHandler) OnReadReady()  { h.reads++ }
func (h *recordingHandler) OnWriteReady() { h.writes++ }
func (h *recordingHandler) OnBlockReady() { h.blocks++ }
func (h *recordingHandler) OnClose()      { h.closes++ }

func newTestReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New(slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestReadDispatchesOnReadableFD(t *testing.T) {
	r := newTestReactor(t)
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer pr.Close()
	defer pw.Close()

	if err := reactor.SetNonblocking(int(pr.Fd())); err != nil {
		t.Fatalf("SetNonblocking: %v", err)
	}

	h := &recordingHandler{}
	if err := r.Register(int(pr.Fd()), h, reactor.Read); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := pw.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := r.Select(100); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if h.reads != 1 {
		t.Fatalf("reads = %d, want 1", h.reads)
	}
}

func TestUnregisterInvokesCloseExactlyOnce(t *testing.T) {
	r := newTestReactor(t)
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer pr.Close()
	defer pw.Close()

	h := &recordingHandler{}
	if err := r.Register(int(pr.Fd()), h, reactor.NOOP); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Unregister(int(pr.Fd())); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if h.closes != 1 {
		t.Fatalf("closes = %d, want 1", h.closes)
	}
	if err := r.Unregister(int(pr.Fd())); err == nil {
		t.Fatal("second Unregister should fail")
	}
}

func TestNotifyBlockDrainsOnNextSelect(t *testing.T) {
	r := newTestReactor(t)
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer pr.Close()
	defer pw.Close()

	h := &recordingHandler{}
	if err := r.Register(int(pr.Fd()), h, reactor.NOOP); err != nil {
		t.Fatalf("Register: %v", err)
	}

	r.NotifyBlock(int(pr.Fd()))

	if err := r.Select(100); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if h.blocks != 1 {
		t.Fatalf("blocks = %d, want 1", h.blocks)
	}
}

func TestNotifyBlockOnUnregisteredFDIsSilentlyDropped(t *testing.T) {
	r := newTestReactor(t)
	// fd 999999 is never registered; NotifyBlock + Select must not panic.
	r.NotifyBlock(999999)
	if err := r.Select(50); err != nil {
		t.Fatalf("Select: %v", err)
	}
}
