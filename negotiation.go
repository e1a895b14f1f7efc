package udpcast

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/udpcast/ratelimit"
	"github.com/outofforest/udpcast/socket"
	"github.com/outofforest/udpcast/wire"
)

const receiveBufferSize = 2048

type multiplexer interface {
	Wait(ctx context.Context, timeout time.Duration) (socket.Ready, error)
	ReceiveFrom(socket int, buf []byte) (int, *net.UDPAddr, error)
	ReleaseKeys() error
}

type packetWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// senderCapabilities returns capabilities announced by the sender configured with the flags.
func senderCapabilities(flags Flags) wire.Capabilities {
	capabilities := wire.SenderCapabilities
	if flags.Has(FlagAsync) {
		capabilities |= wire.CapAsync
	}
	if flags.Has(FlagSequenced) {
		capabilities |= wire.CapSequenced
	}
	return capabilities
}

type negotiator struct {
	config   Config
	session  *Session
	registry *Registry
	mux      multiplexer
	conn     packetWriter
	limiter  *ratelimit.Limiter
	keyboard bool
	now      func() time.Time

	firstConnectedAt time.Time
	helloRetries     int
	announcedCount   int
	buf              []byte
}

func newNegotiator(
	config Config,
	session *Session,
	registry *Registry,
	mux multiplexer,
	conn packetWriter,
	limiter *ratelimit.Limiter,
	keyboard bool,
) *negotiator {
	return &negotiator{
		config:         config,
		session:        session,
		registry:       registry,
		mux:            mux,
		conn:           conn,
		limiter:        limiter,
		keyboard:       keyboard,
		now:            time.Now,
		announcedCount: -1,
		buf:            make([]byte, receiveBufferSize),
	}
}

// Run processes control messages until the decision to start the transfer is taken.
func (n *negotiator) Run(ctx context.Context) error {
	for {
		start, err := n.dispatch(ctx)
		if err != nil {
			return err
		}
		if start {
			return nil
		}
	}
}

// dispatch waits for the next control message or timeout and returns true if transfer should start.
func (n *negotiator) dispatch(ctx context.Context) (bool, error) {
	log := logger.Get(ctx)

	count := n.registry.Count()
	if n.keyboard && (count > 0 || n.config.Flags.Has(FlagAsync)) && count != n.announcedCount {
		n.announcedCount = count
		log.Info("Ready. Press any key to start sending data.", zap.Int("participants", count))
	}

	if n.config.tracksFirstConnection() && n.firstConnectedAt.IsZero() && count > 0 {
		n.firstConnectedAt = n.now()
		log.Info("First connection",
			zap.Duration("minWait", n.config.MinReceiversWait),
			zap.Duration("maxWait", n.config.MaxReceiversWait),
			zap.Int("minReceivers", n.config.MinReceivers))
	}

	startNow := false
	var ready socket.Ready
	for !startNow {
		var err error
		ready, err = n.mux.Wait(ctx, n.timeout())
		if err != nil {
			return false, err
		}
		if ready.Socket >= 0 || ready.KeyPressed {
			break
		}

		if n.config.RexmitHelloInterval > 0 {
			if err := n.SendHello(ctx); err != nil {
				log.Warn("Retransmitting hello failed", zap.Error(err))
			}
			n.helloRetries++
			if n.config.Autostart > 0 && n.helloRetries > n.config.Autostart {
				log.Info("Autostart threshold reached", zap.Int("retries", n.helloRetries))
				startNow = true
			}
		}

		if n.config.tracksFirstConnection() &&
			ShouldStart(n.registry.Count(), n.firstConnectedAt, n.now(), n.config.MinReceivers,
				n.config.MinReceiversWait, n.config.MaxReceiversWait) {
			log.Info("Readiness reached", zap.Int("participants", n.registry.Count()))
			startNow = true
		}
	}

	if ready.KeyPressed {
		log.Info("Start requested from keyboard")
		n.keyboard = false
		if err := n.mux.ReleaseKeys(); err != nil {
			log.Warn("Releasing keyboard failed", zap.Error(err))
		}
		startNow = true
	}

	if ready.Socket < 0 {
		return startNow, nil
	}

	size, addr, err := n.mux.ReceiveFrom(ready.Socket, n.buf)
	if err != nil {
		return false, errors.Wrap(err, "receiving control message failed")
	}

	if n.config.Flags.Has(FlagAsync) {
		return startNow, nil
	}

	msg, err := wire.Unmarshal(n.buf[:size])
	if err != nil {
		log.Warn("Invalid control message", zap.Stringer("from", addr), zap.Error(err))
		return startNow, nil
	}

	switch msg2 := msg.(type) {
	case *wire.ConnectReq:
		if err := n.connect(ctx, addr, msg2); err != nil {
			log.Warn("Replying to connection request failed", zap.Stringer("from", addr), zap.Error(err))
		}
	case *wire.Go:
		log.Info("Start requested by receiver", zap.Stringer("from", addr))
		return true, nil
	case *wire.Disconnect:
		if slot, exists := n.registry.Lookup(addr); exists {
			n.registry.Remove(slot)
			log.Info("Disconnected", zap.Stringer("from", addr), zap.Int("slot", slot))
		}
	default:
		log.Warn("Unexpected command", zap.Stringer("opcode", msg.Opcode()), zap.Stringer("from", addr))
	}

	return startNow, nil
}

func (n *negotiator) timeout() time.Duration {
	switch {
	case n.config.RexmitHelloInterval > 0:
		return n.config.RexmitHelloInterval
	case n.config.tracksFirstConnection() && n.registry.Count() > 0:
		return DefaultPollInterval
	default:
		return socket.NoTimeout
	}
}

func (n *negotiator) connect(ctx context.Context, addr *net.UDPAddr, req *wire.ConnectReq) error {
	log := logger.Get(ctx)

	capabilities := wire.CapBigEndian | req.Capabilities
	recvBuffer := req.RecvBuffer
	if recvBuffer == 0 {
		recvBuffer = DefaultRecvBuffer
	}

	pointToPoint := n.config.Flags.Has(FlagPointToPoint)
	slot, err := n.registry.Add(addr, capabilities, recvBuffer, pointToPoint)
	if err != nil {
		log.Warn("Connection rejected", zap.Stringer("from", addr), zap.Error(err))
		return nil
	}

	log.Info("New connection",
		zap.Stringer("from", addr),
		zap.Int("slot", slot),
		zap.Stringer("capabilities", capabilities),
		zap.Uint32("recvBuffer", recvBuffer))

	if pointToPoint {
		n.session.DataAddress.IP = append(net.IP(nil), addr.IP...)
	}

	return n.send(ctx, &wire.ConnectReply{
		ClientID:     uint32(slot),
		BlockSize:    uint32(n.session.BlockSize),
		Capabilities: n.session.Capabilities,
		DataAddress:  n.session.DataAddress.IP,
	}, addr)
}

// SendHello announces the session on the control address.
func (n *negotiator) SendHello(ctx context.Context) error {
	return n.send(ctx, &wire.Hello{
		Capabilities: n.session.Capabilities,
		DataAddress:  n.session.DataAddress.IP,
		BlockSize:    n.session.BlockSize,
	}, n.session.ControlAddress)
}

func (n *negotiator) send(ctx context.Context, msg wire.Message, addr *net.UDPAddr) error {
	buf, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	if err := n.limiter.Pace(ctx, len(buf)); err != nil {
		return err
	}
	if _, err := n.conn.WriteToUDP(buf, addr); err != nil {
		return errors.Wrapf(err, "sending %s to %s failed", msg.Opcode(), addr)
	}
	return nil
}
