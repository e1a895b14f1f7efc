package socket

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// NoTimeout makes Wait block until something happens.
const NoTimeout time.Duration = -1

// pollSlice bounds single poll call so context cancellation is noticed.
const pollSlice = 200 * time.Millisecond

// KeySource delivers "start now" key presses.
type KeySource interface {
	Fd() int
	Consume() error
	Restore() error
}

// Ready describes the outcome of Wait.
type Ready struct {
	// Socket is the index of the readable socket, -1 if none.
	Socket int
	// KeyPressed is set if a key was pressed.
	KeyPressed bool
}

// Poller waits for readiness of sockets and the keyboard in a single goroutine.
type Poller struct {
	conns []*net.UDPConn
	keys  KeySource
	fds   []unix.PollFd
}

// NewPoller creates poller. Sockets are reported in the order they are passed when more of
// them are ready at once. keys may be nil.
func NewPoller(keys KeySource, conns ...*net.UDPConn) (*Poller, error) {
	p := &Poller{
		conns: conns,
		fds:   make([]unix.PollFd, 0, len(conns)+1),
	}
	for _, conn := range conns {
		fd, err := fileDescriptor(conn)
		if err != nil {
			return nil, err
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	if keys != nil {
		p.keys = keys
		p.fds = append(p.fds, unix.PollFd{Fd: int32(keys.Fd()), Events: unix.POLLIN})
	}
	return p, nil
}

// Wait blocks until a socket is readable, key is pressed or timeout elapses.
func (p *Poller) Wait(ctx context.Context, timeout time.Duration) (Ready, error) {
	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return Ready{}, errors.WithStack(err)
		}

		slice := pollSlice
		last := false
		if !deadline.IsZero() {
			if remaining := time.Until(deadline); remaining <= pollSlice {
				slice = max(remaining, 0)
				last = true
			}
		}

		for i := range p.fds {
			p.fds[i].Revents = 0
		}

		n, err := unix.Poll(p.fds, int((slice+time.Millisecond-1)/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Ready{}, errors.Wrap(err, "poll failed")
		}
		if n == 0 {
			if last {
				return Ready{Socket: -1}, nil
			}
			continue
		}

		ready := Ready{Socket: -1}
		for i := range p.conns {
			if p.fds[i].Revents != 0 {
				ready.Socket = i
				break
			}
		}
		if p.keys != nil && p.fds[len(p.fds)-1].Revents != 0 {
			if err := p.keys.Consume(); err != nil {
				return Ready{}, err
			}
			ready.KeyPressed = true
		}
		return ready, nil
	}
}

// ReceiveFrom reads datagram from the socket.
func (p *Poller) ReceiveFrom(socket int, buf []byte) (int, *net.UDPAddr, error) {
	n, addr, err := p.conns[socket].ReadFromUDP(buf)
	if err != nil {
		return 0, nil, errors.WithStack(err)
	}
	return n, addr, nil
}

// ReleaseKeys restores the keyboard and stops watching it.
func (p *Poller) ReleaseKeys() error {
	if p.keys == nil {
		return nil
	}
	err := p.keys.Restore()
	p.keys = nil
	p.fds = p.fds[:len(p.conns)]
	return err
}
