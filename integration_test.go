package udpcast_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
	"github.com/outofforest/udpcast"
	"github.com/outofforest/udpcast/wire"
)

var loopback = net.IPv4(127, 0, 0, 1).To4()

// listenReceiver binds receiver socket on a port whose successor is free for the sender.
func listenReceiver(t *testing.T) (*net.UDPConn, uint16) {
	for range 100 {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: loopback})
		require.NoError(t, err)

		port := conn.LocalAddr().(*net.UDPAddr).Port
		if port < 0xfffe {
			probe, err := net.ListenUDP("udp4", &net.UDPAddr{IP: loopback, Port: port + 1})
			if err == nil {
				require.NoError(t, probe.Close())
				t.Cleanup(func() {
					_ = conn.Close()
				})
				return conn, uint16(port)
			}
		}
		require.NoError(t, conn.Close())
	}
	t.Fatal("no free pair of ports")
	return nil, 0
}

func writeFile(t *testing.T, size int) (string, []byte) {
	data := make([]byte, size)
	for i := range data {
		data[i] = 'a' + byte(i%26)
	}

	path := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, data
}

func senderConfig(fileName string, portBase uint16) udpcast.Config {
	config := udpcast.DefaultConfig()
	config.FileName = fileName
	config.Interface = loopback.String()
	config.PortBase = portBase
	config.McastRendezvous = loopback
	config.DataAddress = loopback
	config.Flags = udpcast.FlagNoKeyboard
	config.RexmitHelloInterval = 50 * time.Millisecond
	config.BlockSize = 1000
	return config
}

type receiver struct {
	t      *testing.T
	conn   *net.UDPConn
	sender *net.UDPAddr
	buf    []byte
}

func newReceiver(t *testing.T, conn *net.UDPConn, portBase uint16) *receiver {
	return &receiver{
		t:      t,
		conn:   conn,
		sender: &net.UDPAddr{IP: loopback, Port: int(portBase) + 1},
		buf:    make([]byte, 65536),
	}
}

func (r *receiver) receive() []byte {
	require.NoError(r.t, r.conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	n, _, err := r.conn.ReadFromUDP(r.buf)
	require.NoError(r.t, err)
	return r.buf[:n]
}

func (r *receiver) receiveMessage() wire.Message {
	msg, err := wire.Unmarshal(r.receive())
	require.NoError(r.t, err)
	return msg
}

func (r *receiver) send(msg wire.Message) {
	buf, err := wire.Marshal(msg)
	require.NoError(r.t, err)
	_, err = r.conn.WriteToUDP(buf, r.sender)
	require.NoError(r.t, err)
}

// join waits for the session announcement, connects and returns the announcement and the reply.
func (r *receiver) join() (*wire.Hello, *wire.ConnectReply) {
	var hello *wire.Hello
	for hello == nil {
		hello, _ = r.receiveMessage().(*wire.Hello)
	}

	r.send(&wire.ConnectReq{Capabilities: wire.CapNewGen, RecvBuffer: 1 << 20})
	for {
		if reply, ok := r.receiveMessage().(*wire.ConnectReply); ok {
			return hello, reply
		}
	}
}

// data collects data blocks until size bytes are received.
func (r *receiver) data(size int) []byte {
	var data []byte
	for len(data) < size {
		b := r.receive()
		if len(b) == wire.SizeHello && b[0] == 0x05 && b[1] == 0x00 {
			continue
		}
		data = append(data, b...)
	}
	return data
}

func runSender(ctx context.Context, t *testing.T, config udpcast.Config) <-chan error {
	group := qa.NewGroup(ctx, t)
	errCh := make(chan error, 1)
	group.Spawn("sender", parallel.Continue, func(ctx context.Context) error {
		errCh <- udpcast.RunSender(ctx, config)
		return nil
	})
	t.Cleanup(func() {
		group.Exit(nil)
		require.NoError(t, group.Wait())
	})
	return errCh
}

func TestTransferToSingleReceiver(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	conn, portBase := listenReceiver(t)
	path, data := writeFile(t, 20*1000+123)

	errCh := runSender(ctx, t, senderConfig(path, portBase))

	r := newReceiver(t, conn, portBase)
	hello, reply := r.join()
	requireT.True(hello.Capabilities.Has(wire.CapNewGen | wire.CapBigEndian))
	requireT.EqualValues(1000, hello.BlockSize)
	requireT.True(loopback.Equal(hello.DataAddress))

	requireT.EqualValues(0, reply.ClientID)
	requireT.EqualValues(1000, reply.BlockSize)
	requireT.True(loopback.Equal(reply.DataAddress))

	r.send(&wire.Go{})

	requireT.True(bytes.Equal(data, r.data(len(data))))
	requireT.NoError(<-errCh)
}

func TestPointToPointTransfer(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	conn, portBase := listenReceiver(t)
	path, data := writeFile(t, 5*1000)

	config := senderConfig(path, portBase)
	config.Flags |= udpcast.FlagPointToPoint
	config.MinReceivers = 1

	errCh := runSender(ctx, t, config)

	r := newReceiver(t, conn, portBase)
	hello, reply := r.join()
	requireT.True(hello.DataAddress.IsUnspecified() || hello.DataAddress == nil)
	requireT.True(loopback.Equal(reply.DataAddress))

	requireT.True(bytes.Equal(data, r.data(len(data))))
	requireT.NoError(<-errCh)
}

func TestSenderFailsForInvalidConfig(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	config := udpcast.DefaultConfig()
	config.BlockSize = 0
	requireT.Error(udpcast.RunSender(ctx, config))
}
