package udpcast

import (
	"net"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/outofforest/udpcast/wire"
)

var (
	// ErrPointToPointCount is returned when point-to-point session does not have exactly one receiver.
	ErrPointToPointCount = errors.New("point-to-point mode requires exactly one participant")

	// ErrIncompatibleEndianness is returned when participants do not support big endian protocol.
	ErrIncompatibleEndianness = errors.New("peer with incompatible endianness")
)

// Session is the configuration of the transfer.
type Session struct {
	BlockSize      uint16
	ControlAddress *net.UDPAddr
	DataAddress    *net.UDPAddr
	Capabilities   wire.Capabilities
	Flags          Flags

	// Fields below are set by Reconcile.
	RecvBuffer   uint32
	PointToPoint bool
	Participants []Participant
	Destinations []*net.UDPAddr
}

// Reconcile computes final session configuration from the registered participants.
func Reconcile(params Session, registry *Registry) (Session, error) {
	count := registry.Count()
	if params.Flags.Has(FlagPointToPoint) && count != 1 {
		return Session{}, errors.Wrapf(ErrPointToPointCount, "%d participants registered", count)
	}

	s := params
	s.DataAddress = cloneAddr(params.DataAddress)
	s.PointToPoint = isPointToPoint(s.Flags, count)
	s.Capabilities = reduceCapabilities(params.Capabilities, registry)
	s.RecvBuffer = minRecvBuffer(registry)
	s.Participants = registry.Participants()

	if s.PointToPoint {
		s.DataAddress.IP = append(net.IP(nil), s.Participants[0].Address.IP...)
	}

	if !s.Capabilities.Has(wire.CapBigEndian) {
		return Session{}, errors.Wrapf(ErrIncompatibleEndianness, "capabilities %s", s.Capabilities)
	}

	redirected := false
	if !s.Capabilities.Has(wire.CapNewGen) {
		s.DataAddress = cloneAddr(s.ControlAddress)
		s.Flags &^= FlagSequenced | FlagAsync
		redirected = true
	}
	if !s.Capabilities.Has(wire.CapSequenced) {
		s.Flags &^= FlagSequenced
	}
	if s.Flags.Has(FlagBroadcast) {
		s.DataAddress = cloneAddr(s.ControlAddress)
		redirected = true
	}

	if s.PointToPoint && !redirected {
		s.Destinations = lo.Map(s.Participants, func(p Participant, _ int) *net.UDPAddr {
			return &net.UDPAddr{IP: p.Address.IP, Port: s.DataAddress.Port}
		})
	} else {
		s.Destinations = []*net.UDPAddr{s.DataAddress}
	}

	return s, nil
}

func isPointToPoint(flags Flags, count int) bool {
	if flags.Has(FlagPointToPoint) {
		return true
	}
	if flags.Any(FlagNoPointToPoint | FlagAsync) {
		return false
	}
	return count == 1
}

// reduceCapabilities intersects own capabilities with those of every participant.
func reduceCapabilities(own wire.Capabilities, registry *Registry) wire.Capabilities {
	registry.ForEach(func(p Participant) {
		own &= p.Capabilities
	})
	return own
}

// minRecvBuffer returns the smallest declared receive buffer, zero if none is declared.
func minRecvBuffer(registry *Registry) uint32 {
	var recvBuffer uint32
	registry.ForEach(func(p Participant) {
		if p.RecvBuffer != 0 && (recvBuffer == 0 || p.RecvBuffer < recvBuffer) {
			recvBuffer = p.RecvBuffer
		}
	})
	return recvBuffer
}
