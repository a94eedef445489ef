package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"

	"golang.org/x/sys/unix"

	socks5metrics "github.com/haldirsson/socks5d/internal/metrics"
	"github.com/haldirsson/socks5d/internal/monitorsession"
	"github.com/haldirsson/socks5d/internal/reactor"
	"github.com/haldirsson/socks5d/internal/runtimestate"
)

// runMonitorListener binds the admin listener and drives its own reactor
// loop until ctx is cancelled. It runs on an independently-scheduled
// goroutine from the SOCKS5 proxy reactor (see internal/runtimestate's
// mutex rationale), so it owns a distinct *reactor.Reactor instance.
func runMonitorListener(ctx context.Context, rt *runtimestate.Runtime, collector *socks5metrics.Collector, log *slog.Logger, bindAddr string, port uint16) error {
	r, err := reactor.New(log.With(slog.String("component", "monitor-reactor")))
	if err != nil {
		return err
	}
	defer r.Close()

	var pool *runtimestate.Pool[*monitorsession.Session]
	pool = runtimestate.NewPool(
		runtimestate.DefaultMonitorPoolCap,
		func(idx int) *monitorsession.Session {
			return monitorsession.New(monitorsession.Config{
				Logger:  log.With(slog.String("component", "monitorsession")),
				Runtime: rt,
				Reactor: r,
				OnTornDown: func(*monitorsession.Session) {
					pool.Release(idx)
				},
				OnResponse: func(status byte) {
					collector.IncMonitorRequest(fmt.Sprintf("0x%02x", status))
				},
			})
		},
		nil,
	)

	onAccept := func(clientFd int, remote netip.AddrPort) {
		sess, _, ok := pool.Acquire()
		if !ok {
			log.Warn("monitor session pool exhausted, rejecting connection", slog.String("remote", remote.String()))
			unix.Close(clientFd)
			return
		}
		sess.Reset(clientFd, remote)
		if err := r.Register(clientFd, sess.ClientHandler(), reactor.Read); err != nil {
			log.Error("register monitor session", slog.String("error", err.Error()))
			unix.Close(clientFd)
		}
	}

	addrs, err := bindAddrs(bindAddr, port)
	if err != nil {
		return &exitCodeError{1, err}
	}
	for _, a := range addrs {
		if err := registerAcceptLoop(r, a, onAccept); err != nil {
			return &exitCodeError{1, fmt.Errorf("bind monitor listener: %w", err)}
		}
		log.Info("monitor listener started", slog.String("addr", a.String()))
	}

	return r.Run(ctx, 200)
}
