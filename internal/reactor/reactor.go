// Package reactor implements a single-threaded, epoll-backed readiness
// demultiplexer: a sparse fd -> attachment table, per-fd interest masks, and
// a thread-safe notify_block channel used by the DNS-resolution offload
// goroutine to wake the loop.
package reactor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// Interest is a bitmask of readiness classes a registered fd cares about.
type Interest uint8

const (
	// NOOP means the fd is registered but should not be polled.
	NOOP Interest = 0
	// Read requests wakeups when the fd is readable.
	Read Interest = 1 << iota
	// Write requests wakeups when the fd is writable.
	Write
	// Block is not a pollable interest and the reactor never consults it:
	// NotifyBlock dispatches a BLOCK to any registered fd, whatever its mask.
	Block
)

// Handler is the hook vtable a caller registers against an fd. Exactly one
// of OnReadReady/OnWriteReady/OnBlockReady is invoked per dispatch; hooks
// must perform one best-effort non-blocking operation and return without
// blocking on I/O. OnClose fires exactly once, when the fd is unregistered.
type Handler interface {
	OnReadReady()
	OnWriteReady()
	OnBlockReady()
	OnClose()
}

var (
	// ErrAlreadyRegistered is returned by Register when fd is already present.
	ErrAlreadyRegistered = errors.New("reactor: fd already registered")
	// ErrNotRegistered is returned by operations on an unknown fd.
	ErrNotRegistered = errors.New("reactor: fd not registered")
)

type attachment struct {
	handler  Handler
	interest Interest
}

// Reactor is a single-threaded epoll readiness loop. All exported methods
// except NotifyBlock must be called from the goroutine running Run.
type Reactor struct {
	log  *slog.Logger
	epfd int

	attachments map[int]*attachment

	// notifyFD backs the cross-thread notify_block channel: an eventfd
	// woken by any goroutine, drained by Run on this thread.
	notifyFD int

	mu         sync.Mutex
	blockQueue []int
	pending    map[int]bool
}

// New creates a Reactor backed by a fresh epoll instance and eventfd.
func New(log *slog.Logger) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	r := &Reactor{
		log:         log,
		epfd:        epfd,
		notifyFD:    efd,
		attachments: make(map[int]*attachment),
		pending:     make(map[int]bool),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(efd),
	}); err != nil {
		unix.Close(efd)
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: epoll_ctl(notifyFD): %w", err)
	}
	return r, nil
}

// SetNonblocking is a one-shot helper applied at registration time.
func SetNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

func epollEvents(i Interest) uint32 {
	var ev uint32
	if i&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Register attaches h to fd with the given initial interest. It fails if
// fd is already registered or the epoll table rejects the add.
func (r *Reactor) Register(fd int, h Handler, initial Interest) error {
	if _, ok := r.attachments[fd]; ok {
		return ErrAlreadyRegistered
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollEvents(initial),
		Fd:     int32(fd),
	}); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(add, fd=%d): %w", fd, err)
	}
	r.attachments[fd] = &attachment{handler: h, interest: initial}
	return nil
}

// Unregister removes fd, invoking its handler's OnClose hook exactly once.
// It is safe to call from inside a dispatch for the same fd.
func (r *Reactor) Unregister(fd int) error {
	att, ok := r.attachments[fd]
	if !ok {
		return ErrNotRegistered
	}
	delete(r.attachments, fd)
	delete(r.pending, fd)
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	att.handler.OnClose()
	return nil
}

// SetInterest mutates fd's interest mask without firing any hook.
func (r *Reactor) SetInterest(fd int, mask Interest) error {
	att, ok := r.attachments[fd]
	if !ok {
		return ErrNotRegistered
	}
	att.interest = mask
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollEvents(mask),
		Fd:     int32(fd),
	})
}

// NotifyBlock is the sole cross-thread entry point: it is safe to call
// concurrently with Run from another goroutine. It queues a BLOCK dispatch
// for fd on the next iteration and wakes the loop if it is currently
// blocked in epoll_wait.
func (r *Reactor) NotifyBlock(fd int) {
	r.mu.Lock()
	if !r.pending[fd] {
		r.pending[fd] = true
		r.blockQueue = append(r.blockQueue, fd)
	}
	r.mu.Unlock()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(r.notifyFD, buf[:])
}

// Close releases the epoll and eventfd descriptors. The reactor must not
// be used afterward.
func (r *Reactor) Close() error {
	err1 := unix.Close(r.notifyFD)
	err2 := unix.Close(r.epfd)
	return errors.Join(err1, err2)
}

func (r *Reactor) drainBlockQueue() {
	r.mu.Lock()
	queue := r.blockQueue
	r.blockQueue = nil
	for _, fd := range queue {
		delete(r.pending, fd)
	}
	r.mu.Unlock()

	for _, fd := range queue {
		att, ok := r.attachments[fd]
		if !ok {
			// The session was torn down while its DNS task was still in
			// flight; the notification is silently dropped.
			continue
		}
		att.handler.OnBlockReady()
	}
}

// Select blocks for up to timeoutMillis waiting for any registered fd to
// become ready (or for a BLOCK to be queued via NotifyBlock), then
// dispatches. BLOCK dispatches queued since the previous call are drained
// first; within a tick, READ is dispatched before WRITE for the same fd.
func (r *Reactor) Select(timeoutMillis int) error {
	r.drainBlockQueue()

	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(r.epfd, events, timeoutMillis)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == r.notifyFD {
			var buf [8]byte
			_, _ = unix.Read(r.notifyFD, buf[:])
			continue
		}
		att, ok := r.attachments[fd]
		if !ok {
			continue
		}
		if events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && att.interest&Read != 0 {
			att.handler.OnReadReady()
		}
		att, ok = r.attachments[fd]
		if !ok {
			continue
		}
		if events[i].Events&unix.EPOLLOUT != 0 && att.interest&Write != 0 {
			att.handler.OnWriteReady()
		}
	}

	r.drainBlockQueue()
	return nil
}

// Run drives Select in a loop until ctx is cancelled or Select returns a
// fatal error: a failure of select itself terminates the loop, but
// per-session errors never do.
func (r *Reactor) Run(ctx context.Context, timeoutMillis int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if err := r.Select(timeoutMillis); err != nil {
			return err
		}
	}
}
