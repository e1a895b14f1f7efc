package console

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const ttyPath = "/dev/tty"

// Console detects "start now" key presses on the terminal.
type Console struct {
	f     *os.File
	owned bool
	state *unix.Termios
}

// Open switches the terminal to non-canonical mode without echo so a single key press is
// delivered immediately. Output processing is left intact so log lines are not garbled.
// When stdin carries transferred data, the controlling terminal is used instead.
// Nil console is returned if no terminal is available.
func Open(stdinIsData bool) (*Console, error) {
	f := os.Stdin
	owned := false
	if stdinIsData {
		var err error
		f, err = os.Open(ttyPath)
		if err != nil {
			return nil, nil
		}
		owned = true
	}

	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		closeOwned(f, owned)
		return nil, nil
	}

	state, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		closeOwned(f, owned)
		return nil, errors.WithStack(err)
	}

	cbreak := *state
	cbreak.Lflag &^= unix.ICANON | unix.ECHO
	cbreak.Cc[unix.VMIN] = 1
	cbreak.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &cbreak); err != nil {
		closeOwned(f, owned)
		return nil, errors.WithStack(err)
	}

	return &Console{
		f:     f,
		owned: owned,
		state: state,
	}, nil
}

// Fd returns file descriptor to poll for key presses.
func (c *Console) Fd() int {
	return int(c.f.Fd())
}

// Consume reads the pressed key.
func (c *Console) Consume() error {
	var buf [16]byte
	_, err := c.f.Read(buf[:])
	return errors.WithStack(err)
}

// Restore releases the terminal. It is safe to call it more than once.
func (c *Console) Restore() error {
	if c == nil || c.state == nil {
		return nil
	}

	err := unix.IoctlSetTermios(c.Fd(), unix.TCSETS, c.state)
	c.state = nil
	if c.owned {
		if err2 := c.f.Close(); err == nil {
			err = err2
		}
	}
	return errors.WithStack(err)
}

func closeOwned(f *os.File, owned bool) {
	if owned {
		_ = f.Close()
	}
}
