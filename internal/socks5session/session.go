// Package socks5session implements the nine-state per-connection SOCKS5
// session machine: method negotiation, optional username/password
// authentication, destination resolution with happy-eyeballs-style
// multi-address fallback, and the dual-buffer duplex copy with a
// pluggable observer.
package socks5session

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/haldirsson/socks5d/internal/buffer"
	"github.com/haldirsson/socks5d/internal/fsm"
	"github.com/haldirsson/socks5d/internal/pop3disect"
	"github.com/haldirsson/socks5d/internal/reactor"
	"github.com/haldirsson/socks5d/internal/runtimestate"
	"github.com/haldirsson/socks5d/internal/socks5proto"
)

// Numeric state ids. Done and error outcomes are folded into one terminal
// id (Closing) carrying an internal reason — both tear the session down
// identically, so no hook needs to branch on which one it reached.
const (
	StateHelloRead = iota
	StateHelloWrite
	StateAuthRead
	StateAuthWrite
	StateRequestRead
	StateRequestResolv
	StateRequestConnecting
	StateRequestWrite
	StateCopy
	StateClosing
	stateCount
)

// bufSize is the fixed capacity of each session buffer.
const bufSize = 16 * 1024

// Observer is notified of bytes the COPY state has just read into its
// relay buffers, in either direction, before they are written onward; it
// never sees bytes before the copy loop has queued them and can never
// alter the stream. The POP3 disector
// implements this interface.
type Observer interface {
	Consume(dir Direction, data []byte)
}

// Direction identifies a leg of the duplex copy.
type Direction uint8

const (
	// ClientToOrigin carries bytes read from the client and written to
	// the origin.
	ClientToOrigin Direction = iota
	// OriginToClient carries bytes read from the origin and written to
	// the client.
	OriginToClient
)

// pop3ObserverAdapter lets a *pop3disect.Disector satisfy Observer despite
// the two packages keeping independently-defined Direction types — session
// stays free of a hard dependency shape on the disector's own vocabulary.
type pop3ObserverAdapter struct {
	d *pop3disect.Disector
}

func (a pop3ObserverAdapter) Consume(dir Direction, data []byte) {
	if dir == ClientToOrigin {
		a.d.Consume(pop3disect.ClientToOrigin, data)
		return
	}
	a.d.Consume(pop3disect.OriginToClient, data)
}

// NewPOP3Observer adapts a POP3 credential disector into an Observer,
// suitable as a Config.NewObserver implementation.
func NewPOP3Observer(sink pop3disect.Sink, destination, socksUser string) Observer {
	return pop3ObserverAdapter{d: pop3disect.New(sink, destination, socksUser)}
}

// halfDuplexMask bits, local to the COPY state — distinct from the
// reactor's own Read/Write interest bits, which are recomputed from these
// every tick.
type halfDuplexMask uint8

const (
	hdRead halfDuplexMask = 1 << iota
	hdWrite
)

type resolution struct {
	addrs []netip.Addr
	err   error
}

// Session is one SOCKS5 connection's state, owned by exactly one reactor
// attachment slot for as long as any of its fds is registered.
type Session struct {
	log *slog.Logger
	rt  *runtimestate.Runtime
	rx  *reactor.Reactor

	clientFd int
	originFd int

	clientAddr netip.AddrPort

	machine *fsm.Machine[*Session]

	bufA *buffer.Buffer // HELLO/AUTH/REQUEST read buffer; client->origin payload in COPY
	bufB *buffer.Buffer // HELLO/AUTH/REQUEST write buffer; origin->client payload in COPY

	hello   *socks5proto.HelloParser
	auth    *socks5proto.AuthParser
	request *socks5proto.RequestParser

	selectedMethod     byte
	authenticatedUser  string
	destinationAddr    netip.Addr
	destinationPort    uint16
	destinationIsDomain bool
	destinationDomain  string

	pendingResolution atomic.Pointer[resolution]
	resolveCtx        context.Context
	resolveCancel     context.CancelFunc
	candidateIdx      int

	replyStatus byte

	// outcome labels the session for RecordSessionOutcome once its fate is
	// decided; "incomplete" covers every path where the client disconnected
	// or misbehaved before a SOCKS5 reply was fully written.
	outcome string

	clientMask halfDuplexMask
	originMask halfDuplexMask

	observer Observer

	// poolIndex is initialised to -1 and not otherwise set or read; pool
	// reclaim goes through onTornDown.
	poolIndex int

	onTornDown      func(s *Session)
	newObserver     func(destination, socksUser string) Observer
	onBytesRelayed  func(dir Direction, n int)
	onSessionClosed func(outcome string)
}

// Config bundles the collaborators a Session needs, supplied once by the
// listener on accept.
type Config struct {
	Logger      *slog.Logger
	Runtime     *runtimestate.Runtime
	Reactor     *reactor.Reactor
	NewObserver func(destination, socksUser string) Observer
	OnTornDown  func(*Session)

	// OnBytesRelayed, if set, is called for every chunk of payload bytes
	// written in the COPY state — a seam for the ambient metrics collector
	// to track transferred bytes by direction.
	OnBytesRelayed func(dir Direction, n int)

	// OnSessionClosed, if set, is called once per session with its terminal
	// outcome label — a seam for the ambient metrics collector to count
	// completed sessions by outcome.
	OnSessionClosed func(outcome string)
}

// New constructs a Session bound to clientFd, ready to be Reset and
// registered with the reactor.
func New(cfg Config) *Session {
	s := &Session{
		log:             cfg.Logger,
		rt:              cfg.Runtime,
		rx:              cfg.Reactor,
		bufA:            buffer.New(bufSize),
		bufB:            buffer.New(bufSize),
		outcome:         "incomplete",
		poolIndex:       -1,
		onTornDown:      cfg.OnTornDown,
		newObserver:     cfg.NewObserver,
		onBytesRelayed:  cfg.OnBytesRelayed,
		onSessionClosed: cfg.OnSessionClosed,
	}
	s.machine = fsm.New(s.buildStates(), StateHelloRead)
	return s
}

// Reset zero-reinitialises a pooled session for reuse by a new connection.
func (s *Session) Reset(clientFd int, clientAddr netip.AddrPort) {
	s.clientFd = clientFd
	s.originFd = -1
	s.clientAddr = clientAddr
	s.bufA.Reset()
	s.bufB.Reset()
	s.hello = nil
	s.auth = nil
	s.request = nil
	s.selectedMethod = 0
	s.authenticatedUser = ""
	s.destinationAddr = netip.Addr{}
	s.destinationPort = 0
	s.destinationIsDomain = false
	s.destinationDomain = ""
	s.pendingResolution.Store(nil)
	s.candidateIdx = 0
	s.replyStatus = 0
	s.outcome = "incomplete"
	s.clientMask = 0
	s.originMask = 0
	s.observer = nil
	s.machine = fsm.New(s.buildStates(), StateHelloRead)
}

// ClientFd returns the client-side file descriptor.
func (s *Session) ClientFd() int { return s.clientFd }

func (s *Session) buildStates() []fsm.State[*Session] {
	states := make([]fsm.State[*Session], stateCount)
	states[StateHelloRead] = fsm.State[*Session]{ID: StateHelloRead, OnArrival: (*Session).onHelloReadArrival, OnReadReady: (*Session).onHelloRead}
	states[StateHelloWrite] = fsm.State[*Session]{ID: StateHelloWrite, OnArrival: (*Session).onHelloWriteArrival, OnWriteReady: (*Session).onHelloWrite}
	states[StateAuthRead] = fsm.State[*Session]{ID: StateAuthRead, OnArrival: (*Session).onAuthReadArrival, OnReadReady: (*Session).onAuthRead}
	states[StateAuthWrite] = fsm.State[*Session]{ID: StateAuthWrite, OnArrival: (*Session).onAuthWriteArrival, OnWriteReady: (*Session).onAuthWrite}
	states[StateRequestRead] = fsm.State[*Session]{ID: StateRequestRead, OnArrival: (*Session).onRequestReadArrival, OnReadReady: (*Session).onRequestRead}
	states[StateRequestResolv] = fsm.State[*Session]{ID: StateRequestResolv, OnBlockReady: (*Session).onRequestResolvBlock}
	states[StateRequestConnecting] = fsm.State[*Session]{ID: StateRequestConnecting, OnWriteReady: (*Session).onRequestConnectingWrite}
	states[StateRequestWrite] = fsm.State[*Session]{ID: StateRequestWrite, OnArrival: (*Session).onRequestWriteArrival, OnWriteReady: (*Session).onRequestWrite}
	states[StateCopy] = fsm.State[*Session]{ID: StateCopy, OnArrival: (*Session).onCopyArrival, OnReadReady: (*Session).onCopyReadReady, OnWriteReady: (*Session).onCopyWriteReady}
	states[StateClosing] = fsm.State[*Session]{ID: StateClosing, OnArrival: (*Session).onClosingArrival}
	return states
}

// ClientHandler returns the reactor.Handler to register against the
// client fd. It routes readiness events into the session's state machine.
func (s *Session) ClientHandler() reactor.Handler { return clientFdHandler{s} }

// clientFdHandler routes reactor readiness for the client fd into the
// state machine. Kept distinct from originFdHandler because, during COPY,
// both fds are registered against the same Session and each must know
// which socket actually became ready.
type clientFdHandler struct{ s *Session }

func (h clientFdHandler) OnReadReady()  { h.s.machine.HandleRead(h.s) }
func (h clientFdHandler) OnWriteReady() { h.s.machine.HandleWrite(h.s) }
func (h clientFdHandler) OnBlockReady() { h.s.machine.HandleBlock(h.s) }
func (h clientFdHandler) OnClose()      {}

// --- HELLO ---------------------------------------------------------------

func (s *Session) onHelloReadArrival() {
	s.hello = socks5proto.NewHelloParser(s.helloMethodPreference())
	_ = s.rx.SetInterest(s.clientFd, reactor.Read)
}

func (s *Session) helloMethodPreference() func(byte) bool {
	preferUserPass := s.rt.HasUsers()
	return func(m byte) bool {
		if preferUserPass {
			return m == socks5proto.MethodUserPass
		}
		return m == socks5proto.MethodNoAuth
	}
}

func (s *Session) onHelloRead() uint32 {
	n, err := unix.Read(s.clientFd, s.bufA.WriteSlice())
	if n > 0 {
		s.bufA.AdvanceWrite(n)
	}
	if err != nil && !isTransient(err) {
		return StateClosing
	}
	if n == 0 && err == nil {
		return StateClosing
	}
	s.hello.Consume(s.bufA)
	if !s.hello.Done() {
		return StateHelloRead
	}
	if s.hello.Err() != nil {
		return StateClosing
	}
	if s.hello.HasSelection() {
		s.selectedMethod = s.hello.Selected
	} else {
		s.selectedMethod = socks5proto.MethodNoAcceptable
	}
	s.bufB.Reset()
	s.bufB.Write([]byte{socks5proto.Version, s.selectedMethod})
	return StateHelloWrite
}

func (s *Session) onHelloWriteArrival() {
	_ = s.rx.SetInterest(s.clientFd, reactor.Write)
}

func (s *Session) onHelloWrite() uint32 {
	n, err := unix.Write(s.clientFd, s.bufB.ReadSlice())
	if n > 0 {
		s.bufB.AdvanceRead(n)
	}
	if err != nil && !isTransient(err) {
		return StateClosing
	}
	if s.bufB.CanRead() {
		return StateHelloWrite
	}
	if s.selectedMethod == socks5proto.MethodNoAcceptable {
		s.outcome = "no_acceptable_method"
		return StateClosing
	}
	if s.rt.HasUsers() {
		return StateAuthRead
	}
	return StateRequestRead
}

// --- AUTH ------------------------------------------------------------

func (s *Session) onAuthReadArrival() {
	s.auth = socks5proto.NewAuthParser()
	_ = s.rx.SetInterest(s.clientFd, reactor.Read)
}

func (s *Session) onAuthRead() uint32 {
	n, err := unix.Read(s.clientFd, s.bufA.WriteSlice())
	if n > 0 {
		s.bufA.AdvanceWrite(n)
	}
	if (err != nil && !isTransient(err)) || (n == 0 && err == nil) {
		return StateClosing
	}
	s.auth.Consume(s.bufA)
	if !s.auth.Done() {
		return StateAuthRead
	}

	status := byte(0x01)
	if s.auth.Err() == nil && s.rt.AuthenticateUser(string(s.auth.Username()), string(s.auth.Password())) {
		status = 0x00
		s.authenticatedUser = string(s.auth.Username())
	}
	s.bufB.Reset()
	s.bufB.Write([]byte{0x01, status})
	return StateAuthWrite
}

func (s *Session) onAuthWriteArrival() {
	_ = s.rx.SetInterest(s.clientFd, reactor.Write)
}

func (s *Session) onAuthWrite() uint32 {
	n, err := unix.Write(s.clientFd, s.bufB.ReadSlice())
	if n > 0 {
		s.bufB.AdvanceRead(n)
	}
	if err != nil && !isTransient(err) {
		return StateClosing
	}
	if s.bufB.CanRead() {
		return StateAuthWrite
	}
	if s.authenticatedUser == "" {
		s.outcome = "auth_failed"
		return StateClosing
	}
	return StateRequestRead
}

// --- REQUEST -----------------------------------------------------------

func (s *Session) onRequestReadArrival() {
	s.request = socks5proto.NewRequestParser()
	_ = s.rx.SetInterest(s.clientFd, reactor.Read)
}

func (s *Session) onRequestRead() uint32 {
	n, err := unix.Read(s.clientFd, s.bufA.WriteSlice())
	if n > 0 {
		s.bufA.AdvanceWrite(n)
	}
	if (err != nil && !isTransient(err)) || (n == 0 && err == nil) {
		return StateClosing
	}
	s.request.Consume(s.bufA)
	if !s.request.Done() {
		return StateRequestRead
	}
	if err := s.request.Err(); err != nil {
		switch err {
		case socks5proto.ErrUnsupportedCommand:
			s.replyStatus = socks5proto.StatusCommandNotSupported
		case socks5proto.ErrUnsupportedATYP:
			s.replyStatus = socks5proto.StatusAddressTypeNotSupported
		default:
			return StateClosing
		}
		return StateRequestWrite
	}

	s.destinationPort = s.request.Port()
	switch s.request.ATYP {
	case socks5proto.ATYPIPv4, socks5proto.ATYPIPv6:
		addr, ok := netip.AddrFromSlice(s.request.IP())
		if !ok {
			s.replyStatus = socks5proto.StatusGeneralServerFailure
			return StateRequestWrite
		}
		s.destinationAddr = addr
		return s.originConnect()
	case socks5proto.ATYPDomain:
		s.destinationIsDomain = true
		s.destinationDomain = s.request.Domain()
		return s.startResolve()
	default:
		s.replyStatus = socks5proto.StatusAddressTypeNotSupported
		return StateRequestWrite
	}
}

// startResolve spawns the detached DNS-resolution goroutine per §5: it
// touches only a copy of the destination string/port and, on completion,
// writes the result into pendingResolution before calling NotifyBlock —
// publication strictly precedes notification.
func (s *Session) startResolve() uint32 {
	_ = s.rx.SetInterest(s.clientFd, reactor.NOOP)
	ctx, cancel := context.WithCancel(context.Background())
	s.resolveCtx, s.resolveCancel = ctx, cancel
	domain := s.destinationDomain
	fd := s.clientFd

	go func() {
		defer cancel()
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", domain)
		res := &resolution{err: err}
		for _, ip := range ips {
			if a, ok := netip.AddrFromSlice(ip); ok {
				res.addrs = append(res.addrs, a.Unmap())
			}
		}
		s.pendingResolution.Store(res)
		s.rx.NotifyBlock(fd)
	}()
	return StateRequestResolv
}

func (s *Session) onRequestResolvBlock() uint32 {
	res := s.pendingResolution.Load()
	if res == nil {
		return StateRequestResolv
	}
	if res.err != nil || len(res.addrs) == 0 {
		s.replyStatus = socks5proto.StatusHostUnreachable
		return StateRequestWrite
	}
	s.candidateIdx = 0
	s.destinationAddr = res.addrs[0]
	return s.originConnect()
}

// originConnect creates a non-blocking origin socket and starts a
// connect(2); EINPROGRESS is the only expected outcome since the socket
// was set non-blocking before connect — a synchronous success here would
// be a programmer error.
func (s *Session) originConnect() uint32 {
	family := unix.AF_INET
	if s.destinationAddr.Is6() {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		s.replyStatus = socks5proto.StatusGeneralServerFailure
		return StateRequestWrite
	}

	sa := sockaddrFor(s.destinationAddr, s.destinationPort)
	err = unix.Connect(fd, sa)
	if err == nil {
		panic("socks5session: synchronous connect success on a non-blocking socket")
	}
	if err != unix.EINPROGRESS {
		unix.Close(fd)
		s.replyStatus = socks5proto.ErrnoToStatus(err.(unix.Errno))
		return StateRequestWrite
	}

	s.originFd = fd
	_ = s.rx.SetInterest(s.clientFd, reactor.NOOP)
	if regErr := s.rx.Register(fd, originFdHandler{s}, reactor.Write); regErr != nil {
		unix.Close(fd)
		s.originFd = -1
		s.replyStatus = socks5proto.StatusGeneralServerFailure
		return StateRequestWrite
	}
	return StateRequestConnecting
}

func (s *Session) onRequestConnectingWrite() uint32 {
	errno, ok := getSocketError(s.originFd)
	if ok && errno == 0 {
		s.replyStatus = socks5proto.StatusSucceeded
		return StateRequestWrite
	}

	hasNextCandidate := s.destinationIsDomain
	if res := s.pendingResolution.Load(); res != nil {
		hasNextCandidate = s.candidateIdx+1 < len(res.addrs)
	} else {
		hasNextCandidate = false
	}

	if hasNextCandidate {
		_ = s.rx.Unregister(s.originFd)
		s.originFd = -1
		s.candidateIdx++
		res := s.pendingResolution.Load()
		s.destinationAddr = res.addrs[s.candidateIdx]
		return s.originConnect()
	}

	s.replyStatus = socks5proto.ErrnoToStatus(errno)
	return StateRequestWrite
}

func (s *Session) onRequestWriteArrival() {
	reply := buildReply(s.replyStatus, s.destinationAddr)
	s.bufB.Reset()
	s.bufB.Write(reply)
	if s.originFd >= 0 {
		_ = s.rx.SetInterest(s.originFd, reactor.NOOP)
	}
	_ = s.rx.SetInterest(s.clientFd, reactor.Write)
}

func (s *Session) onRequestWrite() uint32 {
	n, err := unix.Write(s.clientFd, s.bufB.ReadSlice())
	if n > 0 {
		s.bufB.AdvanceRead(n)
	}
	if err != nil && !isTransient(err) {
		return StateClosing
	}
	if s.bufB.CanRead() {
		return StateRequestWrite
	}
	s.outcome = socksStatusLabel(s.replyStatus)
	if s.replyStatus != socks5proto.StatusSucceeded {
		return StateClosing
	}
	s.rt.IncHistoricConnections()
	s.rt.IncCurrentConnections()
	return StateCopy
}

// socksStatusLabel renders a SOCKS5 reply status byte as a short metrics
// label.
func socksStatusLabel(status byte) string {
	switch status {
	case socks5proto.StatusSucceeded:
		return "succeeded"
	case socks5proto.StatusGeneralServerFailure:
		return "general_server_failure"
	case socks5proto.StatusConnectionNotAllowed:
		return "connection_not_allowed"
	case socks5proto.StatusNetworkUnreachable:
		return "network_unreachable"
	case socks5proto.StatusHostUnreachable:
		return "host_unreachable"
	case socks5proto.StatusConnectionRefused:
		return "connection_refused"
	case socks5proto.StatusTTLExpired:
		return "ttl_expired"
	case socks5proto.StatusCommandNotSupported:
		return "command_not_supported"
	case socks5proto.StatusAddressTypeNotSupported:
		return "address_type_not_supported"
	default:
		return "unknown"
	}
}

// --- COPY ----------------------------------------------------------------

func (s *Session) onCopyArrival() {
	s.clientMask = hdRead | hdWrite
	s.originMask = hdRead | hdWrite
	if s.observer == nil && s.newObserver != nil && s.rt.DisectorEnabled() {
		dest := s.destinationDomain
		if dest == "" {
			dest = s.destinationAddr.String()
		}
		s.observer = s.newObserver(dest, s.authenticatedUser)
	}
	s.recomputeCopyInterest()
}

func (s *Session) recomputeCopyInterest() {
	var clientInterest, originInterest reactor.Interest
	if s.clientMask&hdRead != 0 && s.bufA.CanWrite() {
		clientInterest |= reactor.Read
	}
	if s.clientMask&hdWrite != 0 && s.bufB.CanRead() {
		clientInterest |= reactor.Write
	}
	if s.originMask&hdRead != 0 && s.bufB.CanWrite() {
		originInterest |= reactor.Read
	}
	if s.originMask&hdWrite != 0 && s.bufA.CanRead() {
		originInterest |= reactor.Write
	}
	_ = s.rx.SetInterest(s.clientFd, clientInterest)
	if s.originFd >= 0 {
		_ = s.rx.SetInterest(s.originFd, originInterest)
	}
}

func (s *Session) onCopyReadReady() uint32 {
	// Either fd may be the one ready; disambiguating which requires the
	// caller (the reactor handler, see originFdHandler below) to route to the
	// correct helper. This hook is invoked for the client fd; the origin
	// fd's readiness is routed through copyOriginRead by its own handler.
	s.copyClientRead()
	return s.copyNextState()
}

func (s *Session) onCopyWriteReady() uint32 {
	s.copyClientWrite()
	return s.copyNextState()
}

func (s *Session) copyClientRead() {
	n, err := unix.Read(s.clientFd, s.bufA.WriteSlice())
	if n > 0 {
		s.bufA.AdvanceWrite(n)
		if s.observer != nil {
			s.observer.Consume(ClientToOrigin, s.bufA.ReadSlice()[s.bufA.Pending()-n:])
		}
	}
	if (err != nil && !isTransient(err)) || (n == 0 && err == nil) {
		s.clientMask &^= hdRead
		s.originMask &^= hdWrite
		_ = unix.Shutdown(s.clientFd, unix.SHUT_RD)
		if s.originFd >= 0 {
			_ = unix.Shutdown(s.originFd, unix.SHUT_WR)
		}
	}
	s.recomputeCopyInterest()
}

func (s *Session) copyClientWrite() {
	n, err := unix.Write(s.clientFd, s.bufB.ReadSlice())
	if n > 0 {
		s.bufB.AdvanceRead(n)
		s.rt.AddBytesTransferred(uint32(n))
		if s.onBytesRelayed != nil {
			s.onBytesRelayed(OriginToClient, n)
		}
	}
	if err != nil && !isTransient(err) {
		s.clientMask &^= hdWrite
		s.originMask &^= hdRead
		_ = unix.Shutdown(s.clientFd, unix.SHUT_WR)
		if s.originFd >= 0 {
			_ = unix.Shutdown(s.originFd, unix.SHUT_RD)
		}
	}
	s.recomputeCopyInterest()
}

func (s *Session) copyOriginRead() {
	if s.originFd < 0 {
		return
	}
	n, err := unix.Read(s.originFd, s.bufB.WriteSlice())
	if n > 0 {
		s.bufB.AdvanceWrite(n)
		if s.observer != nil {
			s.observer.Consume(OriginToClient, s.bufB.ReadSlice()[s.bufB.Pending()-n:])
		}
	}
	if (err != nil && !isTransient(err)) || (n == 0 && err == nil) {
		s.originMask &^= hdRead
		s.clientMask &^= hdWrite
		_ = unix.Shutdown(s.originFd, unix.SHUT_RD)
		_ = unix.Shutdown(s.clientFd, unix.SHUT_WR)
	}
	s.recomputeCopyInterest()
}

func (s *Session) copyOriginWrite() {
	if s.originFd < 0 {
		return
	}
	n, err := unix.Write(s.originFd, s.bufA.ReadSlice())
	if n > 0 {
		s.bufA.AdvanceRead(n)
		s.rt.AddBytesTransferred(uint32(n))
		if s.onBytesRelayed != nil {
			s.onBytesRelayed(ClientToOrigin, n)
		}
	}
	if err != nil && !isTransient(err) {
		s.originMask &^= hdWrite
		s.clientMask &^= hdRead
		_ = unix.Shutdown(s.originFd, unix.SHUT_WR)
		_ = unix.Shutdown(s.clientFd, unix.SHUT_RD)
	}
	s.recomputeCopyInterest()
}

func (s *Session) copyNextState() uint32 {
	if s.clientMask == 0 && s.originMask == 0 {
		return StateClosing
	}
	return StateCopy
}

// --- CLOSING ---------------------------------------------------------------

// onClosingArrival tears the session down exactly once: Closing is a
// terminal state (fsm.jump never re-enters an arrival hook for the state
// the machine is already in), so both fds are unregistered and closed
// here unconditionally rather than behind a reference count.
func (s *Session) onClosingArrival() {
	if s.originFd >= 0 {
		_ = s.rx.Unregister(s.originFd)
		unix.Close(s.originFd)
		s.originFd = -1
	}
	_ = s.rx.Unregister(s.clientFd)
	unix.Close(s.clientFd)
	s.rt.DecCurrentConnections()
	if s.onSessionClosed != nil {
		s.onSessionClosed(s.outcome)
	}
	if s.onTornDown != nil {
		s.onTornDown(s)
	}
}

// originFdHandler routes reactor readiness for the origin fd — distinct
// from the client fd's handler since, during COPY, both fds are
// registered against the same Session but read/write hooks must know
// which socket actually became ready.
type originFdHandler struct{ s *Session }

func (h originFdHandler) OnReadReady() {
	if h.s.machine.State() == StateCopy {
		h.s.copyOriginRead()
		if next := h.s.copyNextState(); next == StateClosing {
			h.s.machine.Force(h.s, next)
		}
	}
}

func (h originFdHandler) OnWriteReady() {
	switch h.s.machine.State() {
	case StateRequestConnecting:
		h.s.machine.HandleWrite(h.s)
	case StateCopy:
		h.s.copyOriginWrite()
		if next := h.s.copyNextState(); next == StateClosing {
			h.s.machine.Force(h.s, next)
		}
	}
}

func (h originFdHandler) OnBlockReady() {}
func (h originFdHandler) OnClose()      {}

func isTransient(err error) bool {
	errno, ok := err.(unix.Errno)
	return ok && (errno == unix.EAGAIN || errno == unix.EWOULDBLOCK || errno == unix.EINTR)
}
