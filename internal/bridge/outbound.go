package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"concierge/callbridge/internal/realtime"
)

var (
	errOutboundClosed = errors.New("outbound closed")
	errOutboundStall  = errors.New("outbound queue stalled")
)

type frame struct {
	data  []byte
	audio bool
}

// outbound serializes writes to one connection through a bounded queue.
// Audio is dropped when the queue is full; control messages wait up to
// writeTimeout. close drains what is queued and then closes the connection.
type outbound struct {
	dir          string
	conn         realtime.Conn
	q            chan frame
	writeTimeout time.Duration
	log          *slog.Logger
	onError      func(error)

	closed    atomic.Bool
	closing   chan string
	closeOnce sync.Once
	done      chan struct{}
}

func newOutbound(dir string, conn realtime.Conn, size int, writeTimeout time.Duration, log *slog.Logger, onError func(error)) *outbound {
	if size <= 0 {
		size = 64
	}
	o := &outbound{
		dir:          dir,
		conn:         conn,
		q:            make(chan frame, size),
		writeTimeout: writeTimeout,
		log:          log,
		onError:      onError,
		closing:      make(chan string, 1),
		done:         make(chan struct{}),
	}
	go o.run()
	return o
}

// sendAudio never blocks. It reports false when the frame was dropped.
func (o *outbound) sendAudio(b []byte) bool {
	if o.closed.Load() {
		return false
	}
	select {
	case o.q <- frame{data: b, audio: true}:
		return true
	default:
		metricAudioDrops.WithLabelValues(o.dir).Inc()
		return false
	}
}

func (o *outbound) sendControl(b []byte) error {
	if o.closed.Load() {
		return errOutboundClosed
	}
	select {
	case o.q <- frame{data: b}:
		return nil
	default:
	}
	t := time.NewTimer(o.writeTimeout)
	defer t.Stop()
	select {
	case o.q <- frame{data: b}:
		return nil
	case <-t.C:
		return errOutboundStall
	}
}

// close is idempotent and does not wait; see wait.
func (o *outbound) close(reason string) {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		o.closing <- reason
	})
}

func (o *outbound) wait() { <-o.done }

func (o *outbound) run() {
	defer close(o.done)
	failed := false
	write := func(f frame) {
		if failed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), o.writeTimeout)
		err := o.conn.Write(ctx, f.data)
		cancel()
		if err != nil {
			failed = true
			o.log.Debug("outbound write failed", "dir", o.dir, "err", err)
			if o.onError != nil {
				o.onError(err)
			}
		}
	}
	for {
		select {
		case f := <-o.q:
			write(f)
		case reason := <-o.closing:
		drain:
			for {
				select {
				case f := <-o.q:
					write(f)
				default:
					break drain
				}
			}
			if err := o.conn.Close(reason); err != nil {
				o.log.Debug("outbound close", "dir", o.dir, "err", err)
			}
			return
		}
	}
}
