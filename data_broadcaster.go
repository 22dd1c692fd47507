package seriesplot

import (
	"context"
	"errors"
	"io"
	"runtime/trace"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Frame is one dashboard worth of charts, built from one result set.
type Frame struct {
	Seq    int
	Charts []MountedChart

	streamEnded bool
	streamErr   error
}

// StreamEnded reports whether this frame is the end-of-stream marker, and the
// error the stream ended with, if any.
func (f Frame) StreamEnded() (bool, error) {
	return f.streamEnded, f.streamErr
}

type FrameBroadcaster struct {
	// The result sets to be read from.
	input     ResultSetReader
	dashboard Dashboard

	mutex sync.Mutex
	wg    sync.WaitGroup

	// If the stream is ended or not
	streamEnded atomic.Bool
	err         error // The error emitted by run(), if any. Only read after streamEnded == true.

	// Channels of open websockets we are sending frames to. Channels should be
	// buffered, to not block the FrameBroadcaster.
	channelsForLiveUpdate []chan<- Frame

	// The most recent frames. They are sent to a channel upon registration so a
	// new client sees the recent history. See RegisterChannel for details.
	frameBuffer *ThreadUnsafeRing[Frame]

	// The end-of-stream marker, kept apart from frameBuffer so it never evicts
	// a frame with charts.
	endFrame *Frame

	// Sequence number of the next frame.
	numFramesEmitted int

	logger logrus.FieldLogger
}

func NewFrameBroadcaster(input ResultSetReader, dashboard Dashboard, history int) *FrameBroadcaster {
	return &FrameBroadcaster{
		input:     input,
		dashboard: dashboard,

		mutex:                 sync.Mutex{},
		channelsForLiveUpdate: make([]chan<- Frame, 0),
		frameBuffer:           NewRing[Frame](Max(history, 1)),
		numFramesEmitted:      0,
		logger:                logrus.WithField("tag", "FrameBroadcaster"),
	}
}

func (b *FrameBroadcaster) Start(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		err := b.run(ctx)

		b.err = err

		// Everything read after the broadcaster completes must be set before
		// this store; the atomic releases it (see the Go memory model).
		b.streamEnded.Store(true)

		// The end marker is cached too so that clients connecting later still
		// learn that the stream is over.
		b.cacheAndBroadcastFrame(ctx, Frame{
			Seq:         -1,
			streamEnded: true,
			streamErr:   err,
		})

		logger := b.logger.WithField("numFramesEmitted", b.numFramesEmitted)
		if err != nil {
			logger.WithError(err).Error("frame broadcaster stream ended with error")
			return
		}
		logger.Info("frame broadcaster stream ended")
	}()
}

func (b *FrameBroadcaster) Wait() {
	b.wg.Wait()
}

// Ended reports whether the source is exhausted or failed.
func (b *FrameBroadcaster) Ended() bool {
	return b.streamEnded.Load()
}

// Err returns the error the stream ended with. It is nil while the stream
// is still running.
func (b *FrameBroadcaster) Err() error {
	if !b.streamEnded.Load() {
		return nil
	}
	return b.err
}

// Latest returns the newest frame with charts, if any has been built.
func (b *FrameBroadcaster) Latest() (Frame, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.frameBuffer.Latest()
}

// Register a new channel. Called from the HTTP server when a new websocket
// connection is initiated.
//
//   - ctx: is the HTTP call context.
//   - c: is the channel to send frames on. This should be a buffered channel
//     as a blocked channel blocks every other client too.
func (b *FrameBroadcaster) RegisterChannel(ctx context.Context, c chan<- Frame) {
	// The lock is held while the cached frames are pushed and the channel is
	// added to the live list, so no frame is missed or sent twice between the
	// two steps. Registration is rare (a new browser tab) so the short stall
	// of the other clients is acceptable.
	traceCtx, task := trace.NewTask(ctx, "RegisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", b.mutex.Lock)
	defer b.mutex.Unlock()

	trace.WithRegion(traceCtx, "pushBufferedFramesToChannel", func() {
		b.pushBufferedFramesToChannel(c)
	})

	b.channelsForLiveUpdate = append(b.channelsForLiveUpdate, c)

	b.logger.WithField("channels", len(b.channelsForLiveUpdate)).Info("registered channel")
}

// Deregister a channel. Called when a websocket client disconnects. The
// channel must not be closed until this method returns.
func (b *FrameBroadcaster) DeregisterChannel(ctx context.Context, c chan<- Frame) {
	traceCtx, task := trace.NewTask(ctx, "DeregisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", b.mutex.Lock)
	defer b.mutex.Unlock()

	b.channelsForLiveUpdate = Filter(b.channelsForLiveUpdate, func(channel chan<- Frame) bool {
		return channel != c
	})

	b.logger.WithField("channels", len(b.channelsForLiveUpdate)).Info("deregistered channel")
}

func (b *FrameBroadcaster) run(ctx context.Context) error {
	for {
		traceCtx, task := trace.NewTask(ctx, "FrameBroadcasterLoop")

		var set ResultSet
		var err error
		trace.WithRegion(traceCtx, "ResultSetRead", func() {
			set, err = b.input.Read(traceCtx)
		})

		if errors.Is(err, io.EOF) {
			// The source ended. Cached frames stay available to new clients.
			task.End()
			return nil
		} else if err != nil {
			task.End()
			return err
		}

		var charts []MountedChart
		trace.WithRegion(traceCtx, "Build", func() {
			charts, err = b.dashboard.Build(set)
		})
		if err != nil {
			task.End()
			return err
		}

		b.cacheAndBroadcastFrame(traceCtx, Frame{
			Seq:    b.numFramesEmitted,
			Charts: charts,
		})
		b.numFramesEmitted++
		task.End()
	}
}

func (b *FrameBroadcaster) cacheAndBroadcastFrame(traceCtx context.Context, frame Frame) {
	trace.WithRegion(traceCtx, "Lock", b.mutex.Lock)
	defer b.mutex.Unlock()

	b.logger.WithFields(logrus.Fields{
		"seq":    frame.Seq,
		"charts": len(frame.Charts),
	}).Debug("new frame")

	trace.WithRegion(traceCtx, "Cache", func() {
		if frame.streamEnded {
			b.endFrame = &frame
			return
		}
		b.frameBuffer.Push(frame)
	})

	trace.WithRegion(traceCtx, "Broadcast", func() {
		for _, c := range b.channelsForLiveUpdate {
			c <- frame
		}
	})
}

func (b *FrameBroadcaster) pushBufferedFramesToChannel(c chan<- Frame) {
	for _, frame := range b.frameBuffer.ReadAllOrdered() {
		c <- frame
	}

	if b.endFrame != nil {
		c <- *b.endFrame
	}
}
