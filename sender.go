package udpcast

import (
	"context"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/udpcast/console"
	"github.com/outofforest/udpcast/ratelimit"
	"github.com/outofforest/udpcast/socket"
)

// endpoints are the sockets and addresses used by the session.
type endpoints struct {
	netIf       *socket.NetIf
	conns       []*net.UDPConn
	controlAddr *net.UDPAddr
	dataAddr    *net.UDPAddr
}

func (e *endpoints) Close() {
	for _, conn := range e.conns {
		_ = conn.Close()
	}
}

// closeSecondary closes all the sockets except the primary one which carries data.
func (e *endpoints) closeSecondary() {
	for _, conn := range e.conns[1:] {
		_ = conn.Close()
	}
}

// RunSender negotiates the session with receivers and sends the input to them.
func RunSender(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	ctx = logger.WithLogger(ctx, logger.Get(ctx).With(zap.Stringer("session", uuid.New())))
	log := logger.Get(ctx)

	netIf, err := socket.FindInterface(config.Interface)
	if err != nil {
		return err
	}

	ep, err := openEndpoints(ctx, config, netIf)
	if err != nil {
		return err
	}
	defer ep.Close()

	var keys socket.KeySource
	if !config.Flags.Has(FlagNoKeyboard) {
		c, err := console.Open(config.FileName == "")
		if err != nil {
			log.Warn("Keyboard is not available", zap.Error(err))
		}
		if c != nil {
			defer func() {
				_ = c.Restore()
			}()
			keys = c
		}
	}

	poller, err := socket.NewPoller(keys, ep.conns...)
	if err != nil {
		return err
	}

	log.Info("Sender started",
		zap.String("input", inputName(config)),
		zap.Bool("filtered", config.FilterCommand != ""),
		zap.String("interface", netIf.Name()),
		zap.Stringer("ip", netIf.IP),
		zap.Stringer("control", ep.controlAddr),
		zap.Stringer("data", ep.dataAddr))

	return runSession(ctx, config, sessionIO{
		conn:        ep.conns[0],
		mux:         poller,
		keyboard:    keys != nil,
		controlAddr: ep.controlAddr,
		dataAddr:    ep.dataAddr,
		beforeTransfer: func(session Session) error {
			ep.closeSecondary()
			if session.DataAddress.IP.IsMulticast() {
				return socket.SetMulticastDestination(ep.conns[0], netIf, config.TTL)
			}
			return nil
		},
	})
}

type sessionIO struct {
	conn           packetWriter
	mux            multiplexer
	keyboard       bool
	controlAddr    *net.UDPAddr
	dataAddr       *net.UDPAddr
	beforeTransfer func(session Session) error
}

func runSession(ctx context.Context, config Config, sio sessionIO) error {
	limiter := ratelimit.New(config.RateLimit)

	params := &Session{
		BlockSize:      config.BlockSize,
		ControlAddress: sio.controlAddr,
		DataAddress:    cloneAddr(sio.dataAddr),
		Capabilities:   senderCapabilities(config.Flags),
		Flags:          config.Flags,
	}
	registry := NewRegistry()
	defer registry.Clear()

	n := newNegotiator(config, params, registry, sio.mux, sio.conn, limiter, sio.keyboard)
	if err := n.SendHello(ctx); err != nil {
		return err
	}
	if err := n.Run(ctx); err != nil {
		return err
	}
	if sio.keyboard {
		_ = sio.mux.ReleaseKeys()
	}

	session, err := Reconcile(*params, registry)
	if err != nil {
		return err
	}

	if sio.beforeTransfer != nil {
		if err := sio.beforeTransfer(session); err != nil {
			return err
		}
	}

	return runTransfer(ctx, config, session, sio.conn, limiter, registry)
}

func openEndpoints(ctx context.Context, config Config, netIf *socket.NetIf) (*endpoints, error) {
	ep := &endpoints{netIf: netIf}

	primary, err := socket.Listen(ctx, &net.UDPAddr{IP: netIf.IP, Port: senderPort(config.PortBase)})
	if err != nil {
		return nil, err
	}
	ep.conns = append(ep.conns, primary)

	if config.RequestedBufSize > 0 {
		if err := socket.SetSendBuffer(primary, config.RequestedBufSize); err != nil {
			ep.Close()
			return nil, err
		}
	}

	if netIf.Broadcast != nil {
		if bcast, err := socket.Listen(ctx, &net.UDPAddr{
			IP:   netIf.Broadcast,
			Port: senderPort(config.PortBase),
		}); err == nil {
			ep.conns = append(ep.conns, bcast)
		} else {
			logger.Get(ctx).Debug("Broadcast socket not available", zap.Error(err))
		}
	}

	if config.TTL == 1 && config.McastRendezvous == nil && netIf.Broadcast != nil {
		ep.controlAddr = &net.UDPAddr{IP: netIf.Broadcast, Port: receiverPort(config.PortBase)}
		if err := socket.SetBroadcast(primary); err != nil {
			ep.Close()
			return nil, err
		}
	}

	if ep.controlAddr == nil {
		rdv := config.McastRendezvous
		if rdv == nil {
			rdv = DefaultMcastAllGroup
		}
		ep.controlAddr = &net.UDPAddr{IP: rdv, Port: receiverPort(config.PortBase)}

		if rdv.IsMulticast() {
			if err := socket.SetMulticastDestination(primary, netIf, config.TTL); err != nil {
				ep.Close()
				return nil, err
			}
			mcast, err := socket.ListenMulticast(ctx, netIf, &net.UDPAddr{
				IP:   rdv,
				Port: senderPort(config.PortBase),
			})
			if err != nil {
				ep.Close()
				return nil, err
			}
			ep.conns = append(ep.conns, mcast)
		}
	}

	ep.dataAddr = &net.UDPAddr{Port: receiverPort(config.PortBase)}
	switch {
	case config.Flags.Has(FlagPointToPoint):
	case config.DataAddress != nil:
		ep.dataAddr.IP = config.DataAddress
	default:
		ep.dataAddr.IP = socket.DefaultMulticastAddress(netIf.IP)
		logger.Get(ctx).Info("Using default multicast address", zap.Stringer("address", ep.dataAddr.IP))
	}

	return ep, nil
}

func inputName(config Config) string {
	if config.FileName == "" {
		return "(stdin)"
	}
	return config.FileName
}

var _ multiplexer = (*socket.Poller)(nil)
