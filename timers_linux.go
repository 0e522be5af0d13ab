//go:build linux

package looper

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// demuxPollMillis bounds each epoll_wait so the demux goroutine observes
// shutdown promptly even with no armed timers.
const demuxPollMillis = 100

// fdTimerBackend multiplexes one timerfd per timer through a single epoll
// instance owned by a dedicated demux goroutine. Expirations are cleared by
// reading the 8-byte count, then handed to the manager's expire path.
type fdTimerBackend struct {
	tm    *timerManager
	epfd  int
	mu    sync.Mutex
	fds   map[TimerID]int
	ids   map[int]TimerID
	alive atomic.Bool
	done  chan struct{}
}

func newTimerBackend(tm *timerManager) (timerBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	b := &fdTimerBackend{
		tm:   tm,
		epfd: epfd,
		fds:  make(map[TimerID]int),
		ids:  make(map[int]TimerID),
		done: make(chan struct{}),
	}
	b.alive.Store(true)
	go b.demux()
	return b, nil
}

// itimerSpec converts a millisecond delay into the kernel representation.
// A zero delay still arms: an all-zero it_value would disarm the timerfd.
func itimerSpec(delayMs uint64, periodic bool) unix.ItimerSpec {
	ns := int64(delayMs) * int64(time.Millisecond)
	if ns <= 0 {
		ns = 1
	}
	var its unix.ItimerSpec
	its.Value = unix.NsecToTimespec(ns)
	if periodic {
		its.Interval = its.Value
	}
	return its
}

func (b *fdTimerBackend) arm(id TimerID, delayMs uint64, periodic bool) error {
	if !b.alive.Load() {
		return errBackendDown
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return err
	}
	its := itimerSpec(delayMs, periodic)
	if err := unix.TimerfdSettime(fd, 0, &its, nil); err != nil {
		_ = unix.Close(fd)
		return err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		_ = unix.Close(fd)
		return err
	}
	b.mu.Lock()
	b.fds[id] = fd
	b.ids[fd] = id
	b.mu.Unlock()
	return nil
}

func (b *fdTimerBackend) rearm(id TimerID, delayMs uint64) error {
	b.mu.Lock()
	fd, ok := b.fds[id]
	b.mu.Unlock()
	if !ok {
		return errBackendDown
	}
	its := itimerSpec(delayMs, false)
	return unix.TimerfdSettime(fd, 0, &its, nil)
}

func (b *fdTimerBackend) disarm(id TimerID) {
	b.mu.Lock()
	fd, ok := b.fds[id]
	if ok {
		delete(b.fds, id)
		delete(b.ids, fd)
	}
	b.mu.Unlock()
	if ok {
		_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		_ = unix.Close(fd)
	}
}

// demux blocks on epoll with a bounded timeout and, for each ready
// descriptor, clears the expiration count and forwards to the manager.
// EINTR retries; any other poll error is fatal to this goroutine only.
func (b *fdTimerBackend) demux() {
	defer close(b.done)
	events := make([]unix.EpollEvent, 64)
	for b.alive.Load() {
		n, err := unix.EpollWait(b.epfd, events, demuxPollMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			b.tm.logger.Err().Err(err).Log("timer demultiplexer failed; timer thread exiting")
			b.alive.Store(false)
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			b.mu.Lock()
			id, ok := b.ids[fd]
			b.mu.Unlock()
			if !ok {
				continue // raced with disarm
			}
			var buf [8]byte
			if _, err := unix.Read(fd, buf[:]); err != nil {
				continue // spurious or raced with close; nothing to clear
			}
			b.tm.expire(id)
		}
	}
}

func (b *fdTimerBackend) close() {
	if !b.alive.Swap(false) {
		<-b.done
		_ = unix.Close(b.epfd)
		return
	}
	<-b.done
	b.mu.Lock()
	for id, fd := range b.fds {
		delete(b.fds, id)
		delete(b.ids, fd)
		_ = unix.Close(fd)
	}
	b.mu.Unlock()
	_ = unix.Close(b.epfd)
}
