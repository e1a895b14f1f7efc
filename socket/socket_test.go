package socket

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"
)

func TestBroadcastAddress(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal(net.IPv4(192, 168, 1, 255).To4(),
		BroadcastAddress(net.IPv4(192, 168, 1, 17), net.CIDRMask(24, 32)))
	requireT.Equal(net.IPv4(10, 255, 255, 255).To4(),
		BroadcastAddress(net.IPv4(10, 1, 2, 3), net.CIDRMask(8, 32)))
	requireT.Nil(BroadcastAddress(net.ParseIP("fe80::1"), net.CIDRMask(64, 128)))
}

func TestDefaultMulticastAddress(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal(net.IPv4(232, 168, 1, 17).To4(), DefaultMulticastAddress(net.IPv4(192, 168, 1, 17)))
}

func TestPollerTimeout(t *testing.T) {
	requireT := require.New(t)

	conn := listenLoopback(t)
	p, err := NewPoller(nil, conn)
	requireT.NoError(err)

	start := time.Now()
	ready, err := p.Wait(context.Background(), 50*time.Millisecond)
	requireT.NoError(err)
	requireT.Equal(Ready{Socket: -1}, ready)
	requireT.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
}

func TestPollerPrefersFirstReadySocket(t *testing.T) {
	requireT := require.New(t)

	conn1 := listenLoopback(t)
	conn2 := listenLoopback(t)
	p, err := NewPoller(nil, conn1, conn2)
	requireT.NoError(err)

	client := listenLoopback(t)
	_, err = client.WriteToUDP([]byte("second"), conn2.LocalAddr().(*net.UDPAddr))
	requireT.NoError(err)

	ready, err := p.Wait(context.Background(), time.Second)
	requireT.NoError(err)
	requireT.Equal(1, ready.Socket)

	_, err = client.WriteToUDP([]byte("first"), conn1.LocalAddr().(*net.UDPAddr))
	requireT.NoError(err)

	requireT.Eventually(func() bool {
		ready, err = p.Wait(context.Background(), 0)
		return err == nil && ready.Socket == 0
	}, time.Second, 10*time.Millisecond)

	buf := make([]byte, 16)
	n, addr, err := p.ReceiveFrom(ready.Socket, buf)
	requireT.NoError(err)
	requireT.Equal("first", string(buf[:n]))
	requireT.Equal(client.LocalAddr().(*net.UDPAddr).Port, addr.Port)
}

func TestPollerStopsOnContextCancel(t *testing.T) {
	requireT := require.New(t)

	conn := listenLoopback(t)
	p, err := NewPoller(nil, conn)
	requireT.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Wait(ctx, NoTimeout)
	requireT.ErrorIs(err, context.DeadlineExceeded)
}

func TestMulticastDestinationSetsTTL(t *testing.T) {
	requireT := require.New(t)

	conn := listenLoopback(t)
	requireT.NoError(SetMulticastDestination(conn, &NetIf{IP: net.IPv4(127, 0, 0, 1)}, 7))

	pc := ipv4.NewPacketConn(conn)
	ttl, err := pc.MulticastTTL()
	requireT.NoError(err)
	requireT.Equal(7, ttl)
	loopback, err := pc.MulticastLoopback()
	requireT.NoError(err)
	requireT.True(loopback)

	requireT.NoError(SetTTL(conn, 3))
	ttl, err = pc.MulticastTTL()
	requireT.NoError(err)
	requireT.Equal(3, ttl)
}

func listenLoopback(t *testing.T) *net.UDPConn {
	conn, err := Listen(context.Background(), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
