// Package monitorsession implements the admin connection's lifecycle: read
// the binary request, authenticate its token, dispatch against the shared
// runtime state, and write the reply. It does not ride the generic
// state-machine runtime the SOCKS5 session uses — the lifecycle is linear
// enough (read, process, write, close) to stay three plain hooks.
package monitorsession

import (
	"bytes"
	"errors"
	"log/slog"
	"net/netip"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/haldirsson/socks5d/internal/buffer"
	"github.com/haldirsson/socks5d/internal/monitorproto"
	"github.com/haldirsson/socks5d/internal/reactor"
	"github.com/haldirsson/socks5d/internal/runtimestate"
)

// readBufSize/writeBufSize must accommodate the protocol's 16-bit dlen in
// full; a request or reply can carry up to 65535 bytes of data on top of
// its fixed header.
const (
	readBufSize  = 70 * 1024
	writeBufSize = 70 * 1024
)

type lifecycleState uint8

const (
	stateRead lifecycleState = iota
	stateWrite
	stateClosing
)

// Config bundles the collaborators a Session needs, supplied once by the
// monitor listener on accept.
type Config struct {
	Logger     *slog.Logger
	Runtime    *runtimestate.Runtime
	Reactor    *reactor.Reactor
	OnTornDown func(*Session)

	// OnResponse, if set, is called once per completed request with the
	// reply's status byte — a seam for the ambient metrics collector to
	// count admin-protocol requests by outcome.
	OnResponse func(status byte)
}

// Session is one admin connection's state.
type Session struct {
	log *slog.Logger
	rt  *runtimestate.Runtime
	rx  *reactor.Reactor

	clientFd   int
	clientAddr netip.AddrPort

	state    lifecycleState
	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer
	parser   *monitorproto.Parser

	// poolIndex is initialised to -1 and not otherwise set or read; pool
	// reclaim goes through onTornDown.
	poolIndex int

	onTornDown func(*Session)
	onResponse func(status byte)
}

// New constructs a Session ready to be Reset and registered with the reactor.
func New(cfg Config) *Session {
	return &Session{
		log:        cfg.Logger,
		rt:         cfg.Runtime,
		rx:         cfg.Reactor,
		readBuf:    buffer.New(readBufSize),
		writeBuf:   buffer.New(writeBufSize),
		poolIndex:  -1,
		onTornDown: cfg.OnTornDown,
		onResponse: cfg.OnResponse,
	}
}

// Reset zero-reinitialises a pooled session for reuse by a new connection.
func (s *Session) Reset(clientFd int, clientAddr netip.AddrPort) {
	s.clientFd = clientFd
	s.clientAddr = clientAddr
	s.state = stateRead
	s.readBuf.Reset()
	s.writeBuf.Reset()
	s.parser = monitorproto.NewParser()
}

// ClientFd returns the admin connection's file descriptor.
func (s *Session) ClientFd() int { return s.clientFd }

// ClientHandler returns the reactor.Handler to register against the fd;
// the listener registers it at Read interest, matching the lifecycle's
// initial state.
func (s *Session) ClientHandler() reactor.Handler { return clientHandler{s} }

type clientHandler struct{ s *Session }

func (h clientHandler) OnReadReady()  { h.s.onReadReady() }
func (h clientHandler) OnWriteReady() { h.s.onWriteReady() }
func (h clientHandler) OnBlockReady() {}
func (h clientHandler) OnClose()      {}

func (s *Session) onReadReady() {
	if s.state != stateRead {
		return
	}
	n, err := unix.Read(s.clientFd, s.readBuf.WriteSlice())
	if n > 0 {
		s.readBuf.AdvanceWrite(n)
	}
	if (err != nil && !isTransient(err)) || (n == 0 && err == nil) {
		s.closeSession()
		return
	}
	s.parser.Consume(s.readBuf)
	if !s.parser.Done() {
		return
	}
	s.process()
}

// process is the implicit PROCESS step between READ and WRITE: it maps a
// parse failure straight to the fixed error reply, otherwise dispatches the
// parsed request against the shared runtime.
func (s *Session) process() {
	if err := s.parser.Err(); err != nil {
		s.log.Warn("monitor request rejected at parse", slog.String("error", err.Error()))
		resp := monitorproto.MarshalErrorResponse(monitorproto.StatusForError(err))
		if s.onResponse != nil && len(resp) > 0 {
			s.onResponse(resp[0])
		}
		s.writeResponse(resp)
		return
	}

	req := s.parser.Request()
	start := time.Now()
	resp := s.dispatchRecovered(req)
	s.log.Info("monitor request dispatched",
		slog.Int("method", int(req.Method)),
		slog.Int("target", int(req.Target)),
		slog.Duration("duration", time.Since(start)),
	)
	if s.onResponse != nil && len(resp) > 0 {
		s.onResponse(resp[0])
	}
	s.writeResponse(resp)
}

// dispatchRecovered wraps dispatch with a panic-to-server-error boundary —
// one admin request's programming error must not take the listener down.
func (s *Session) dispatchRecovered(req monitorproto.Request) (resp []byte) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			s.log.Error("panic recovered in monitor dispatch",
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
			resp = monitorproto.MarshalErrorResponse(monitorproto.StatusServerError)
		}
	}()
	return s.dispatch(req)
}

func (s *Session) dispatch(req monitorproto.Request) []byte {
	if _, ok := s.rt.LookupAdminByToken(req.Token); !ok {
		return monitorproto.MarshalErrorResponse(monitorproto.StatusAuthError)
	}
	switch req.Method {
	case monitorproto.MethodGet:
		return s.dispatchGet(req.Target)
	case monitorproto.MethodConfig:
		return monitorproto.MarshalErrorResponse(s.dispatchConfig(req.Target, req.Data))
	default:
		return monitorproto.MarshalErrorResponse(monitorproto.StatusInvalidMethod)
	}
}

// dispatchGet returns a full MarshalResponse reply carrying the requested
// data; GET is the only method whose reply body is more than the 1-byte
// filler.
func (s *Session) dispatchGet(target byte) []byte {
	switch target {
	case monitorproto.TargetHistoric:
		return monitorproto.MarshalResponse(monitorproto.StatusOK, monitorproto.MarshalCounter(s.rt.HistoricConnections()))
	case monitorproto.TargetConcurrent:
		return monitorproto.MarshalResponse(monitorproto.StatusOK, monitorproto.MarshalCounter(s.rt.CurrentConnections()))
	case monitorproto.TargetTransferred:
		return monitorproto.MarshalResponse(monitorproto.StatusOK, monitorproto.MarshalCounter(s.rt.BytesTransferred()))
	case monitorproto.TargetProxyUsers:
		return monitorproto.MarshalResponse(monitorproto.StatusOK, joinNUL(s.rt.UserNames()))
	case monitorproto.TargetAdminUsers:
		return monitorproto.MarshalResponse(monitorproto.StatusOK, joinNUL(s.rt.AdminNames()))
	default:
		return monitorproto.MarshalErrorResponse(monitorproto.StatusInvalidTarget)
	}
}

// dispatchConfig performs the requested mutation and returns only the
// response status; every CONFIG reply body is the fixed 1-byte filler
// regardless of outcome, per the wire format.
func (s *Session) dispatchConfig(target byte, data []byte) byte {
	switch target {
	case monitorproto.TargetToggleDisector:
		if len(data) < 1 {
			return monitorproto.StatusInvalidData
		}
		s.rt.SetDisectorEnabled(data[0] != 0)
		return monitorproto.StatusOK
	case monitorproto.TargetAddProxyUser:
		username, password, err := monitorproto.SplitAddUserPayload(data)
		if err != nil {
			return monitorproto.StatusInvalidData
		}
		return statusForRuntimeErr(s.rt.AddUser(username, password))
	case monitorproto.TargetDelProxyUser:
		return statusForRuntimeErr(s.rt.DeleteUser(string(data)))
	case monitorproto.TargetAddAdmin:
		username, secret, err := monitorproto.SplitAddUserPayload(data)
		if err != nil || len(secret) != monitorproto.TokenLen {
			return monitorproto.StatusInvalidData
		}
		var token [16]byte
		copy(token[:], secret)
		return statusForRuntimeErr(s.rt.AddAdmin(username, token))
	case monitorproto.TargetDelAdmin:
		return statusForRuntimeErr(s.rt.DeleteAdmin(string(data)))
	default:
		return monitorproto.StatusInvalidTarget
	}
}

// statusForRuntimeErr maps every runtimestate mutation failure to
// INVALID_DATA, per the documented propagation rule — duplicate, full
// table, unknown name, and root-immutable all read the same to an admin
// client.
func statusForRuntimeErr(err error) byte {
	switch {
	case err == nil:
		return monitorproto.StatusOK
	case errors.Is(err, runtimestate.ErrTableFull),
		errors.Is(err, runtimestate.ErrDuplicateUser),
		errors.Is(err, runtimestate.ErrUserNotFound),
		errors.Is(err, runtimestate.ErrDuplicateAdmin),
		errors.Is(err, runtimestate.ErrAdminNotFound),
		errors.Is(err, runtimestate.ErrRootImmutable),
		errors.Is(err, runtimestate.ErrInvalidUsername),
		errors.Is(err, runtimestate.ErrInvalidPassword):
		return monitorproto.StatusInvalidData
	default:
		return monitorproto.StatusServerError
	}
}

func joinNUL(names []string) []byte {
	parts := make([][]byte, len(names))
	for i, n := range names {
		parts[i] = []byte(n)
	}
	return bytes.Join(parts, []byte{0x00})
}

func (s *Session) writeResponse(data []byte) {
	s.writeBuf.Reset()
	s.writeBuf.Write(data)
	s.state = stateWrite
	_ = s.rx.SetInterest(s.clientFd, reactor.Write)
}

func (s *Session) onWriteReady() {
	if s.state != stateWrite {
		return
	}
	n, err := unix.Write(s.clientFd, s.writeBuf.ReadSlice())
	if n > 0 {
		s.writeBuf.AdvanceRead(n)
	}
	if err != nil && !isTransient(err) {
		s.closeSession()
		return
	}
	if s.writeBuf.CanRead() {
		return
	}
	s.closeSession()
}

func (s *Session) closeSession() {
	if s.state == stateClosing {
		return
	}
	s.state = stateClosing
	_ = s.rx.Unregister(s.clientFd)
	unix.Close(s.clientFd)
	if s.onTornDown != nil {
		s.onTornDown(s)
	}
}

func isTransient(err error) bool {
	errno, ok := err.(unix.Errno)
	return ok && (errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINTR)
}
