package main

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/outofforest/run"
	"github.com/outofforest/udpcast"
)

type flagSwitch struct {
	name string
	flag udpcast.Flags
	help string
}

var switches = []flagSwitch{
	{name: "pointopoint", flag: udpcast.FlagPointToPoint, help: "point-to-point mode, exactly one receiver"},
	{name: "nopointopoint", flag: udpcast.FlagNoPointToPoint, help: "never switch to point-to-point mode"},
	{name: "async", flag: udpcast.FlagAsync, help: "asynchronous mode, ignore receiver messages"},
	{name: "broadcast", flag: udpcast.FlagBroadcast, help: "send data to the broadcast address"},
	{name: "nokbd", flag: udpcast.FlagNoKeyboard, help: "do not read start signal from the keyboard"},
	{name: "full-duplex", flag: udpcast.FlagSequenced, help: "announce session sequencing"},
	{name: "half-duplex", flag: udpcast.FlagNotSequenced, help: "never announce session sequencing"},
}

func main() {
	run.New().Run(context.Background(), "udp-sender", func(ctx context.Context) error {
		config, err := parseConfig(os.Args[1:])
		if err != nil {
			return err
		}
		return udpcast.RunSender(ctx, config)
	})
}

func parseConfig(args []string) (udpcast.Config, error) {
	config := udpcast.DefaultConfig()

	flags := pflag.NewFlagSet("udp-sender", pflag.ContinueOnError)
	// Logger flags are consumed by the runner.
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.StringVarP(&config.FileName, "file", "f", "", "file to send, stdin if not set")
	flags.StringVarP(&config.FilterCommand, "pipe", "p", "", "shell command filtering the input")
	flags.StringVarP(&config.Interface, "interface", "i", "", "network interface name or address")
	flags.Uint16Var(&config.PortBase, "portbase", config.PortBase, "base UDP port")
	flags.IntVar(&config.TTL, "ttl", config.TTL, "multicast TTL")
	flags.Uint16VarP(&config.BlockSize, "blocksize", "b", config.BlockSize, "size of data blocks")
	flags.Uint64Var(&config.RateLimit, "max-bitrate", 0, "rate limit in bits per second, 0 disables limiting")
	flags.IntVar(&config.RequestedBufSize, "sendbuf", 0, "requested socket send buffer size")
	flags.IntVar(&config.MinReceivers, "min-receivers", 0, "start automatically once this many receivers joined")
	flags.DurationVar(&config.MinReceiversWait, "min-wait", 0, "minimum time to wait after the first receiver joined")
	flags.DurationVar(&config.MaxReceiversWait, "max-wait", 0, "start at the latest this long after the first receiver joined")
	flags.DurationVar(&config.RexmitHelloInterval, "rexmit-hello-interval", 0, "hello retransmission interval")
	flags.IntVar(&config.Autostart, "autostart", 0, "start after this many hello retransmissions")
	flags.IntVar(&config.FifoBlocks, "fifo-blocks", config.FifoBlocks, "number of blocks buffered between disk and network")
	flags.BoolVar(&config.AbortOnSendError, "abort-on-send-error", false, "abort transfer when sending a block fails")
	mcastData := flags.IP("mcast-data-address", nil, "multicast address for data")
	mcastRdv := flags.IP("mcast-rdv-address", nil, "multicast rendezvous address for control messages")

	enabled := make([]*bool, len(switches))
	for i, s := range switches {
		enabled[i] = flags.Bool(s.name, false, s.help)
	}

	if err := flags.Parse(args); err != nil {
		return udpcast.Config{}, errors.WithStack(err)
	}
	if flags.NArg() > 0 {
		return udpcast.Config{}, errors.Errorf("unexpected arguments: %v", flags.Args())
	}

	for i, s := range switches {
		if *enabled[i] {
			config.Flags |= s.flag
		}
	}
	config.DataAddress = nonZeroIP(*mcastData)
	config.McastRendezvous = nonZeroIP(*mcastRdv)

	return config, config.Validate()
}

func nonZeroIP(ip net.IP) net.IP {
	if len(ip) == 0 || ip.IsUnspecified() {
		return nil
	}
	return ip
}
