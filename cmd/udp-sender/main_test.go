package main

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/udpcast"
)

func TestParseConfigDefaults(t *testing.T) {
	requireT := require.New(t)

	config, err := parseConfig(nil)
	requireT.NoError(err)
	requireT.Equal(udpcast.DefaultConfig(), config)
}

func TestParseConfig(t *testing.T) {
	requireT := require.New(t)

	config, err := parseConfig([]string{
		"-f", "/tmp/image",
		"--pipe", "gzip -c",
		"-i", "eth0",
		"--portbase", "9100",
		"--ttl", "4",
		"-b", "1024",
		"--max-bitrate", "1000000",
		"--min-receivers", "3",
		"--min-wait", "5s",
		"--max-wait", "1m",
		"--rexmit-hello-interval", "500ms",
		"--autostart", "10",
		"--mcast-data-address", "239.1.2.3",
		"--mcast-rdv-address", "239.1.2.4",
		"--nokbd",
		"--full-duplex",
	})
	requireT.NoError(err)

	requireT.Equal("/tmp/image", config.FileName)
	requireT.Equal("gzip -c", config.FilterCommand)
	requireT.Equal("eth0", config.Interface)
	requireT.EqualValues(9100, config.PortBase)
	requireT.Equal(4, config.TTL)
	requireT.EqualValues(1024, config.BlockSize)
	requireT.EqualValues(1000000, config.RateLimit)
	requireT.Equal(3, config.MinReceivers)
	requireT.Equal(5*time.Second, config.MinReceiversWait)
	requireT.Equal(time.Minute, config.MaxReceiversWait)
	requireT.Equal(500*time.Millisecond, config.RexmitHelloInterval)
	requireT.Equal(10, config.Autostart)
	requireT.True(net.IPv4(239, 1, 2, 3).Equal(config.DataAddress))
	requireT.True(net.IPv4(239, 1, 2, 4).Equal(config.McastRendezvous))
	requireT.Equal(udpcast.FlagNoKeyboard|udpcast.FlagSequenced, config.Flags)
}

func TestParseConfigRejectsConflictingFlags(t *testing.T) {
	requireT := require.New(t)

	_, err := parseConfig([]string{"--pointopoint", "--async"})
	requireT.Error(err)
}

func TestParseConfigRejectsArguments(t *testing.T) {
	requireT := require.New(t)

	_, err := parseConfig([]string{"extra"})
	requireT.Error(err)
}

func TestParseConfigLeavesLoggerFlags(t *testing.T) {
	requireT := require.New(t)

	config, err := parseConfig([]string{"--log-format", "json", "--nokbd"})
	requireT.NoError(err)
	requireT.Equal(udpcast.FlagNoKeyboard, config.Flags)
}

func TestParseConfigRejectsInvalidBlockSize(t *testing.T) {
	requireT := require.New(t)

	_, err := parseConfig([]string{"-b", "65535"})
	requireT.Error(err)
}
