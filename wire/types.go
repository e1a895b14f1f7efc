package wire

import (
	"fmt"
	"net"
)

// Opcode tags control messages.
type Opcode uint16

// Supported opcodes.
const (
	OpGo           Opcode = 0x0003
	OpConnectReq   Opcode = 0x0004
	OpDisconnect   Opcode = 0x0005
	OpConnectReply Opcode = 0x0007
	OpHello        Opcode = 0x0500
)

func (o Opcode) String() string {
	switch o {
	case OpGo:
		return "GO"
	case OpConnectReq:
		return "CONNECT_REQ"
	case OpDisconnect:
		return "DISCONNECT"
	case OpConnectReply:
		return "CONNECT_REPLY"
	case OpHello:
		return "HELLO"
	default:
		return fmt.Sprintf("0x%04x", uint16(o))
	}
}

// Capabilities is the bitset of protocol features advertised by peers.
type Capabilities uint32

// Capability bits.
const (
	CapNewGen       Capabilities = 0x0001
	CapBigEndian    Capabilities = 0x0008
	CapLittleEndian Capabilities = 0x0010
	CapAsync        Capabilities = 0x0020
	CapSequenced    Capabilities = 0x0040
)

// SenderCapabilities are the capabilities announced by the sender before negotiation.
const SenderCapabilities = CapNewGen | CapBigEndian

// Has reports whether all bits of c2 are set.
func (c Capabilities) Has(c2 Capabilities) bool {
	return c&c2 == c2
}

func (c Capabilities) String() string {
	return fmt.Sprintf("%08x", uint32(c))
}

// Message is implemented by all control messages.
type Message interface {
	Opcode() Opcode
}

// Hello is periodically announced by the sender to attract receivers.
type Hello struct {
	Capabilities Capabilities
	DataAddress  net.IP
	BlockSize    uint16
}

// Opcode returns opcode of the message.
func (m *Hello) Opcode() Opcode {
	return OpHello
}

// ConnectReq is sent by a receiver joining the session.
type ConnectReq struct {
	Capabilities Capabilities
	RecvBuffer   uint32
}

// Opcode returns opcode of the message.
func (m *ConnectReq) Opcode() Opcode {
	return OpConnectReq
}

// ConnectReply is the answer of the sender to ConnectReq.
type ConnectReply struct {
	ClientID     uint32
	BlockSize    uint32
	Capabilities Capabilities
	DataAddress  net.IP
}

// Opcode returns opcode of the message.
func (m *ConnectReply) Opcode() Opcode {
	return OpConnectReply
}

// Go asks the sender to start the transfer immediately.
type Go struct{}

// Opcode returns opcode of the message.
func (m *Go) Opcode() Opcode {
	return OpGo
}

// Disconnect is sent by a receiver leaving the session.
type Disconnect struct{}

// Opcode returns opcode of the message.
func (m *Disconnect) Opcode() Opcode {
	return OpDisconnect
}
