package udpcast

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

const (
	// defaults for when not provided in Config
	DefaultPortBase   uint16 = 9000
	DefaultBlockSize  uint16 = 1456
	DefaultTTL        int    = 1
	DefaultFifoBlocks int    = 64
	DefaultRecvBuffer uint32 = 65536
)

// MaxBlockSize is the largest payload of an IPv4 UDP datagram.
const MaxBlockSize = 65507

// DefaultPollInterval is the readiness poll interval used when receivers are present.
const DefaultPollInterval = 2 * time.Second

// DefaultMcastAllGroup is the control rendezvous address used when none is configured.
var DefaultMcastAllGroup = net.IPv4(224, 0, 0, 1)

// Flags modify behaviour of the sender.
type Flags uint32

// Supported flags.
const (
	// FlagPointToPoint restricts session to exactly one receiver addressed directly.
	FlagPointToPoint Flags = 1 << iota
	// FlagNoPointToPoint disables implicit point-to-point mode for a single receiver.
	FlagNoPointToPoint
	// FlagAsync makes the sender ignore client messages and start on its own schedule.
	FlagAsync
	// FlagBroadcast sends data to the control (broadcast) address.
	FlagBroadcast
	// FlagNoKeyboard disables the "start now" keyboard input.
	FlagNoKeyboard
	// FlagSequenced announces session sequencing (full duplex mode), kept only if all receivers support it.
	FlagSequenced
	// FlagNotSequenced selects half duplex mode, the sender never announces sequencing.
	FlagNotSequenced
)

// Has reports whether all flags of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Any reports whether any flag of f2 is set.
func (f Flags) Any(f2 Flags) bool {
	return f&f2 != 0
}

// Config is the configuration of the sender.
type Config struct {
	// FileName is the file to send, stdin is used if empty.
	FileName string
	// FilterCommand is a shell command transforming the input before it is sent.
	FilterCommand string

	Interface        string
	PortBase         uint16
	TTL              int
	BlockSize        uint16
	Flags            Flags
	RateLimit        uint64 // bits per second, 0 means unlimited
	RequestedBufSize int

	// DataAddress overrides the multicast address used for data.
	DataAddress net.IP
	// McastRendezvous is the address used for control messages instead of the default.
	McastRendezvous net.IP

	MinReceivers        int
	MinReceiversWait    time.Duration
	MaxReceiversWait    time.Duration
	RexmitHelloInterval time.Duration
	Autostart           int

	FifoBlocks       int
	AbortOnSendError bool
}

// DefaultConfig returns config with default values.
func DefaultConfig() Config {
	return Config{
		PortBase:   DefaultPortBase,
		TTL:        DefaultTTL,
		BlockSize:  DefaultBlockSize,
		FifoBlocks: DefaultFifoBlocks,
	}
}

// Validate verifies config.
func (c Config) Validate() error {
	if c.BlockSize == 0 || c.BlockSize > MaxBlockSize {
		return errors.Errorf("invalid BlockSize=%d", c.BlockSize)
	}

	if c.PortBase == 0 || c.PortBase == 0xffff {
		return errors.Errorf("invalid PortBase=%d", c.PortBase)
	}

	if c.TTL < 0 || c.TTL > 255 {
		return errors.Errorf("invalid TTL=%d", c.TTL)
	}

	if c.FifoBlocks <= 0 {
		return errors.Errorf("invalid FifoBlocks=%d", c.FifoBlocks)
	}

	if c.MinReceivers < 0 {
		return errors.Errorf("invalid MinReceivers=%d", c.MinReceivers)
	}

	if c.MinReceiversWait < 0 || c.MaxReceiversWait < 0 || c.RexmitHelloInterval < 0 {
		return errors.Errorf("invalid wait durations min=%s max=%s rexmit=%s",
			c.MinReceiversWait, c.MaxReceiversWait, c.RexmitHelloInterval)
	}

	if c.Autostart < 0 {
		return errors.Errorf("invalid Autostart=%d", c.Autostart)
	}

	if c.Flags.Has(FlagPointToPoint) && c.Flags.Any(FlagNoPointToPoint|FlagAsync|FlagBroadcast) {
		return errors.Errorf("point-to-point mode conflicts with flags %08x", uint32(c.Flags))
	}

	if c.Flags.Has(FlagSequenced | FlagNotSequenced) {
		return errors.New("full duplex and half duplex modes are mutually exclusive")
	}

	if c.DataAddress != nil && c.DataAddress.To4() == nil && c.DataAddress.To16() == nil {
		return errors.Errorf("invalid DataAddress=%s", c.DataAddress)
	}

	return nil
}

// tracksFirstConnection reports whether any wait policy is configured.
func (c Config) tracksFirstConnection() bool {
	return c.MinReceivers > 0 || c.MinReceiversWait > 0 || c.MaxReceiversWait > 0
}

func senderPort(portBase uint16) int {
	return int(portBase) + 1
}

func receiverPort(portBase uint16) int {
	return int(portBase)
}
