package wire

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
)

const (
	headerSize  = 4
	addressSize = 16
)

// Sizes of encoded messages.
const (
	SizeGo           = headerSize
	SizeDisconnect   = headerSize
	SizeConnectReq   = headerSize + 4 + 4
	SizeConnectReply = headerSize + 4 + 4 + 4 + addressSize
	SizeHello        = headerSize + 4 + addressSize + 2

	// MaxSize is the size of the largest control message.
	MaxSize = SizeConnectReply
)

var (
	// ErrShortMessage is returned when datagram is too short to carry an opcode.
	ErrShortMessage = errors.New("short control message")

	// ErrUnknownOpcode is returned when datagram carries an opcode not known to the protocol.
	ErrUnknownOpcode = errors.New("unknown opcode")
)

// Size returns the encoded size of the message.
func Size(msg Message) (int, error) {
	switch msg.(type) {
	case *Hello:
		return SizeHello, nil
	case *ConnectReq:
		return SizeConnectReq, nil
	case *ConnectReply:
		return SizeConnectReply, nil
	case *Go:
		return SizeGo, nil
	case *Disconnect:
		return SizeDisconnect, nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Marshal encodes message into its fixed big-endian layout.
func Marshal(msg Message) ([]byte, error) {
	size, err := Size(msg)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf, uint16(msg.Opcode()))

	switch msg2 := msg.(type) {
	case *Hello:
		binary.BigEndian.PutUint32(buf[4:], uint32(msg2.Capabilities))
		putAddress(buf[8:], msg2.DataAddress)
		binary.BigEndian.PutUint16(buf[24:], msg2.BlockSize)
	case *ConnectReq:
		binary.BigEndian.PutUint32(buf[4:], uint32(msg2.Capabilities))
		binary.BigEndian.PutUint32(buf[8:], msg2.RecvBuffer)
	case *ConnectReply:
		binary.BigEndian.PutUint32(buf[4:], msg2.ClientID)
		binary.BigEndian.PutUint32(buf[8:], msg2.BlockSize)
		binary.BigEndian.PutUint32(buf[12:], uint32(msg2.Capabilities))
		putAddress(buf[16:], msg2.DataAddress)
	}

	return buf, nil
}

// Unmarshal decodes control message.
// Known messages shorter than their layout are accepted, missing fields are zero, because
// older receivers send truncated requests.
func Unmarshal(buf []byte) (Message, error) {
	if len(buf) < 2 {
		return nil, errors.Wrapf(ErrShortMessage, "received %d bytes", len(buf))
	}

	opcode := Opcode(binary.BigEndian.Uint16(buf))

	var size int
	switch opcode {
	case OpHello:
		size = SizeHello
	case OpConnectReq:
		size = SizeConnectReq
	case OpConnectReply:
		size = SizeConnectReply
	case OpGo:
		size = SizeGo
	case OpDisconnect:
		size = SizeDisconnect
	default:
		return nil, errors.Wrapf(ErrUnknownOpcode, "opcode %s", opcode)
	}

	if len(buf) < size {
		padded := make([]byte, size)
		copy(padded, buf)
		buf = padded
	}

	switch opcode {
	case OpHello:
		return &Hello{
			Capabilities: Capabilities(binary.BigEndian.Uint32(buf[4:])),
			DataAddress:  address(buf[8:]),
			BlockSize:    binary.BigEndian.Uint16(buf[24:]),
		}, nil
	case OpConnectReq:
		return &ConnectReq{
			Capabilities: Capabilities(binary.BigEndian.Uint32(buf[4:])),
			RecvBuffer:   binary.BigEndian.Uint32(buf[8:]),
		}, nil
	case OpConnectReply:
		return &ConnectReply{
			ClientID:     binary.BigEndian.Uint32(buf[4:]),
			BlockSize:    binary.BigEndian.Uint32(buf[8:]),
			Capabilities: Capabilities(binary.BigEndian.Uint32(buf[12:])),
			DataAddress:  address(buf[16:]),
		}, nil
	case OpGo:
		return &Go{}, nil
	default:
		return &Disconnect{}, nil
	}
}

func putAddress(buf []byte, ip net.IP) {
	if ip == nil {
		return
	}
	if ip4 := ip.To4(); ip4 != nil {
		copy(buf[:net.IPv4len], ip4)
		return
	}
	copy(buf[:addressSize], ip.To16())
}

// address decodes the 16-byte address field. Zero trailing bytes denote IPv4.
func address(buf []byte) net.IP {
	buf = buf[:addressSize]
	for _, b := range buf[net.IPv4len:] {
		if b != 0 {
			ip := make(net.IP, net.IPv6len)
			copy(ip, buf)
			return ip
		}
	}
	return net.IPv4(buf[0], buf[1], buf[2], buf[3]).To4()
}
