package udpcast

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/udpcast/disk"
	"github.com/outofforest/udpcast/ratelimit"
	"github.com/outofforest/udpcast/stats"
)

// ErrNothingDelivered is returned when no block of the input could be sent to any destination.
var ErrNothingDelivered = errors.New("no data block delivered")

type transfer struct {
	session          Session
	conn             packetWriter
	limiter          *ratelimit.Limiter
	stats            *stats.Tracker
	fifo             *fifo
	abortOnSendError bool
}

// runTransfer streams the input to the session destinations and clears the registry when done.
func runTransfer(
	ctx context.Context,
	config Config,
	session Session,
	conn packetWriter,
	limiter *ratelimit.Limiter,
	registry *Registry,
) error {
	defer registry.Clear()

	log := logger.Get(ctx)

	input, err := disk.Open(config.FileName)
	if err != nil {
		return err
	}
	defer input.Close()

	t := &transfer{
		session:          session,
		conn:             conn,
		limiter:          limiter,
		stats:            stats.New(input.Size),
		fifo:             newFifo(config.FifoBlocks, int(session.BlockSize)),
		abortOnSendError: config.AbortOnSendError,
	}

	var in io.Reader = input
	var filter *disk.Filter
	if config.FilterCommand != "" {
		filter = disk.NewFilter(config.FilterCommand, input.File)
		in = filter
	}

	log.Info("Starting transfer",
		zap.String("input", input.Name),
		zap.Int64("size", input.Size),
		zap.Stringer("capabilities", session.Capabilities),
		zap.Int("participants", len(session.Participants)),
		zap.Bool("pointToPoint", session.PointToPoint),
		zap.Stringer("dataAddress", session.DataAddress),
		zap.Uint32("recvBuffer", session.RecvBuffer))

	var filterErr error
	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("sender", parallel.Continue, t.sendStage)
		if filter != nil {
			spawn("filter", parallel.Continue, func(ctx context.Context) error {
				filterErr = filter.Run(ctx)
				if errors.Is(filterErr, disk.ErrFilterFailed) {
					return nil
				}
				return filterErr
			})
		}

		err := t.readStage(ctx, in)
		if filter != nil {
			// Unblocks the filter if reading stopped before its output was drained.
			_ = filter.Close()
		}
		return err
	})
	if err != nil {
		return err
	}

	snapshot := t.stats.Snapshot()
	log.Info("Transfer complete", zap.Stringer("stats", snapshot))

	if snapshot.Blocks == 0 && snapshot.FailedBlocks > 0 {
		return errors.Wrapf(ErrNothingDelivered, "%d blocks failed", snapshot.FailedBlocks)
	}
	return filterErr
}

// readStage fills the fifo with blocks read from the input until EOF.
func (t *transfer) readStage(ctx context.Context, in io.Reader) error {
	defer t.fifo.Close()

	for {
		b := t.fifo.Alloc()
		n, err := io.ReadFull(in, b.B)
		if n > 0 {
			b.B = b.B[:n]
			if err := t.fifo.Put(ctx, b); err != nil {
				return err
			}
		} else {
			t.fifo.Release(b)
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return errors.Wrap(err, "reading input failed")
		}
	}
}

// sendStage sends blocks from the fifo to all the destinations until the fifo is closed.
func (t *transfer) sendStage(ctx context.Context) error {
	for {
		b, ok, err := t.fifo.Take(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		err = t.sendBlock(ctx, b.B)
		t.fifo.Release(b)
		if err != nil {
			return err
		}
	}
}

func (t *transfer) sendBlock(ctx context.Context, data []byte) error {
	var sendTime time.Duration
	delivered := false
	for _, dst := range t.session.Destinations {
		if err := t.limiter.Pace(ctx, len(data)); err != nil {
			return err
		}

		start := time.Now()
		_, err := t.conn.WriteToUDP(data, dst)
		sendTime += time.Since(start)

		if err != nil {
			if t.abortOnSendError {
				return errors.Wrapf(err, "sending block to %s failed", dst)
			}
			logger.Get(ctx).Warn("Sending block failed", zap.Stringer("to", dst), zap.Error(err))
			continue
		}
		delivered = true
	}

	if delivered {
		t.stats.Add(len(data), sendTime)
	} else {
		t.stats.Fail()
	}
	return nil
}

var _ packetWriter = (*net.UDPConn)(nil)
