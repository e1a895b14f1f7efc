package socket

import (
	"context"
	"net"
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Listen creates UDP socket bound to the address. SO_REUSEADDR is set so the broadcast and
// multicast sockets may share the port with the unicast one.
func Listen(ctx context.Context, addr *net.UDPAddr) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = os.NewSyscallError("setsockopt(SO_REUSEADDR)",
					unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1))
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", addr.String())
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s failed", addr)
	}
	return pc.(*net.UDPConn), nil
}

// ListenMulticast creates socket receiving datagrams sent to the multicast group.
func ListenMulticast(ctx context.Context, netIf *NetIf, group *net.UDPAddr) (*net.UDPConn, error) {
	conn, err := Listen(ctx, group)
	if err != nil {
		return nil, err
	}

	if err := ipv4.NewPacketConn(conn).JoinGroup(netIf.Iface, &net.UDPAddr{IP: group.IP}); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "joining group %s on %s failed", group.IP, netIf.Name())
	}
	return conn, nil
}

// SetBroadcast allows sending to broadcast addresses.
func SetBroadcast(conn *net.UDPConn) error {
	return setsockopt(conn, "SO_BROADCAST", unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
}

// SetSendBuffer sets the size of socket send buffer.
func SetSendBuffer(conn *net.UDPConn, size int) error {
	return errors.WithStack(conn.SetWriteBuffer(size))
}

// SetMulticastDestination configures outgoing multicast traffic of the socket.
func SetMulticastDestination(conn *net.UDPConn, netIf *NetIf, ttl int) error {
	pc := ipv4.NewPacketConn(conn)
	if netIf.Iface != nil {
		if err := pc.SetMulticastInterface(netIf.Iface); err != nil {
			return errors.Wrapf(err, "setting multicast interface %s failed", netIf.Name())
		}
	}
	if err := SetTTL(conn, ttl); err != nil {
		return err
	}
	return errors.WithStack(pc.SetMulticastLoopback(true))
}

// SetTTL sets the TTL of outgoing multicast packets.
func SetTTL(conn *net.UDPConn, ttl int) error {
	return errors.Wrapf(ipv4.NewPacketConn(conn).SetMulticastTTL(ttl), "setting multicast TTL %d failed", ttl)
}

func setsockopt(conn *net.UDPConn, name string, level, opt, value int) error {
	rc, err := conn.SyscallConn()
	if err != nil {
		return errors.WithStack(err)
	}

	var sockErr error
	if err := rc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), level, opt, value)
	}); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.NewSyscallError("setsockopt("+name+")", sockErr))
}

func fileDescriptor(conn *net.UDPConn) (int, error) {
	rc, err := conn.SyscallConn()
	if err != nil {
		return 0, errors.WithStack(err)
	}

	var fd int
	if err := rc.Control(func(f uintptr) {
		fd = int(f)
	}); err != nil {
		return 0, errors.WithStack(err)
	}
	return fd, nil
}
