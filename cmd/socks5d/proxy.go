package main

import (
	"log/slog"
	"net/netip"

	"golang.org/x/sys/unix"

	socks5metrics "github.com/haldirsson/socks5d/internal/metrics"
	"github.com/haldirsson/socks5d/internal/pop3disect"
	"github.com/haldirsson/socks5d/internal/reactor"
	"github.com/haldirsson/socks5d/internal/runtimestate"
	"github.com/haldirsson/socks5d/internal/socks5session"
)

// metricsCredentialSink wraps pop3disect.SlogSink with the credentials-found
// counter, so every sniffed login is both logged and counted.
type metricsCredentialSink struct {
	pop3disect.SlogSink
	collector *socks5metrics.Collector
}

func (s metricsCredentialSink) ObservePOP3Credentials(destination, socksUser, pop3User, pop3Pass string, succeeded bool) {
	s.collector.IncDisectorCredentialFound()
	s.SlogSink.ObservePOP3Credentials(destination, socksUser, pop3User, pop3Pass, succeeded)
}

// newProxyListener binds the SOCKS5 listeners (one per address returned by
// bindAddrs — IPv4 and, for an unspecified bind address, IPv6 alongside it)
// and registers an accept loop against r that hands every new connection to
// a pooled socks5session.Session.
func newProxyListener(r *reactor.Reactor, rt *runtimestate.Runtime, collector *socks5metrics.Collector, log *slog.Logger, bindAddr string, port uint16) error {
	sink := metricsCredentialSink{SlogSink: pop3disect.SlogSink{Logger: log}, collector: collector}

	newObserver := func(destination, socksUser string) socks5session.Observer {
		collector.IncDisectorScan()
		return socks5session.NewPOP3Observer(sink, destination, socksUser)
	}

	// pool is declared before NewPool runs so the OnTornDown closures built
	// inside newFn can capture it by reference; it is fully assigned by the
	// time any session actually tears down.
	var pool *runtimestate.Pool[*socks5session.Session]
	pool = runtimestate.NewPool(
		runtimestate.DefaultProxyPoolCap,
		func(idx int) *socks5session.Session {
			return socks5session.New(socks5session.Config{
				Logger:      log.With(slog.String("component", "socks5session")),
				Runtime:     rt,
				Reactor:     r,
				NewObserver: newObserver,
				OnTornDown: func(*socks5session.Session) {
					collector.DecConnectionActive()
					pool.Release(idx)
				},
				OnBytesRelayed: func(dir socks5session.Direction, n int) {
					if dir == socks5session.ClientToOrigin {
						collector.AddBytesClientToOrigin(n)
						return
					}
					collector.AddBytesOriginToClient(n)
				},
				OnSessionClosed: collector.RecordSessionOutcome,
			})
		},
		nil,
	)

	onAccept := func(clientFd int, remote netip.AddrPort) {
		sess, _, ok := pool.Acquire()
		if !ok {
			log.Warn("proxy session pool exhausted, rejecting connection", slog.String("remote", remote.String()))
			unix.Close(clientFd)
			return
		}
		sess.Reset(clientFd, remote)
		collector.IncConnectionAccepted()
		if err := r.Register(clientFd, sess.ClientHandler(), reactor.Read); err != nil {
			log.Error("register proxy session", slog.String("error", err.Error()))
			unix.Close(clientFd)
		}
	}

	addrs, err := bindAddrs(bindAddr, port)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if err := registerAcceptLoop(r, a, onAccept); err != nil {
			return err
		}
		log.Info("socks5 listener started", slog.String("addr", a.String()))
	}
	return nil
}
