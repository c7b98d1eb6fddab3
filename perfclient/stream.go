package perfclient

import (
	"sync"
	"time"

	"github.com/URNOTCharlotte/msquic/metrics"
	"github.com/URNOTCharlotte/msquic/transport"
)

// minRequestLen is the size of a request that carries no upload body:
// just the eight-byte download-size header baked into requestBuffer.
const minRequestLen = 8

// Stream drives one request/response exchange against the ideal-send-
// buffer pacing signal: send while BytesOutstanding stays under
// IdealSendBuffer, re-entering the loop whenever the transport reports
// more room or acks more bytes, then accumulate the download until
// both directions report an end time.
type Stream struct {
	conn   *Connection
	stream transport.Stream

	mu               sync.Mutex
	startTime        time.Time
	sendEndTime      time.Time
	recvStartTime    time.Time
	recvEndTime      time.Time
	bytesSent        uint64
	bytesOutstanding uint64
	bytesAcked       uint64
	bytesReceived    uint64
	idealSendBuffer  uint64
	sendComplete     bool
	sending          bool
	recvAborted      bool
	done             bool
}

func newStream(cw *Connection) *Stream {
	return &Stream{
		conn:            cw,
		startTime:       time.Now(),
		idealSendBuffer: uint64(cw.worker.client.IoSize),
	}
}

// start opens the transport stream and kicks off the send loop on its
// own goroutine so sibling streams on the same connection aren't
// serialized behind a single slow Send.
func (s *Stream) start() {
	events := transport.StreamEvents{
		OnReceive:                s.onReceive,
		OnSendComplete:           s.onSendComplete,
		OnPeerSendAborted:        s.onPeerSendAborted,
		OnPeerReceiveAborted:     s.onPeerReceiveAborted,
		OnSendShutdownComplete:   s.onSendShutdownComplete,
		OnShutdownComplete:       s.onShutdownComplete,
		OnIdealSendBufferChanged: s.onIdealSendBufferChanged,
	}
	ts, err := s.conn.conn.OpenStream(events)
	if err != nil {
		s.conn.worker.client.log.WithError(err).Debug("open stream failed")
		s.finalize()
		return
	}
	s.stream = ts
	go s.trySend()
}

// trySend is the ideal-send-buffer pacing loop: while not SendComplete
// and BytesOutstanding stays under IdealSendBuffer, hand the transport
// one more chunk. It re-enters itself safely from onSendComplete and
// onIdealSendBufferChanged; the "sending" flag keeps only one goroutine
// actually inside the loop at a time, and every field read that decides
// the next chunk happens under the lock, so a concurrent update can
// never be missed between the check and the flag flip.
func (s *Stream) trySend() {
	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return
	}
	s.sending = true
	s.mu.Unlock()

	c := s.conn.worker.client
	for {
		s.mu.Lock()
		if s.sendComplete || s.bytesOutstanding >= s.idealSendBuffer {
			s.sending = false
			s.mu.Unlock()
			return
		}

		var bytesLeftToSend uint64
		switch {
		case c.Timed:
			bytesLeftToSend = ^uint64(0)
		case c.Upload > 0:
			bytesLeftToSend = c.Upload - s.bytesSent
		default:
			bytesLeftToSend = minRequestLen - s.bytesSent
		}

		dataLength := uint64(c.IoSize)
		fin := false
		if dataLength >= bytesLeftToSend {
			dataLength = bytesLeftToSend
			fin = true
			s.sendComplete = true
		} else if c.Timed && time.Since(s.startTime) >= time.Duration(c.Upload)*time.Millisecond {
			fin = true
			s.sendComplete = true
		}

		buf := c.requestBuf.Bytes()
		if uint64(len(buf)) < dataLength {
			dataLength = uint64(len(buf))
		}
		chunk := buf[:dataLength]

		s.bytesSent += dataLength
		s.bytesOutstanding += dataLength
		s.mu.Unlock()

		if err := s.stream.Send(chunk, fin); err != nil {
			s.abort(err)
			return
		}
		metrics.BytesSent.Add(float64(dataLength))
	}
}

// onSendComplete credits acked bytes (unless the send was canceled) and
// re-enters the send loop: more outstanding room may now be available.
func (s *Stream) onSendComplete(length uint32, canceled bool) {
	s.mu.Lock()
	s.bytesOutstanding -= uint64(length)
	if !canceled {
		s.bytesAcked += uint64(length)
	}
	s.mu.Unlock()
	s.trySend()
}

// onIdealSendBufferChanged re-enters the send loop whenever the
// transport's pacing hint changes and send-buffering isn't doing that job
// already. A stream with nothing to upload (and not running timed) has
// nothing to gain from more outstanding room, so it's ignored there.
func (s *Stream) onIdealSendBufferChanged(bytes uint64) {
	c := s.conn.worker.client
	if c.UseSendBuffering || (c.Upload == 0 && !c.Timed) {
		return
	}
	s.mu.Lock()
	changed := bytes != s.idealSendBuffer
	if changed {
		s.idealSendBuffer = bytes
	}
	s.mu.Unlock()
	if changed {
		s.trySend()
	}
}

// abort forces both directions closed after a transport-level send
// failure. SendSuccess can still hold at finalize when there is no
// upload, since it then only checks SendEndTime, but RecvSuccess stays
// false unless the peer had already replied (RecvStartTime is otherwise
// unset), so no bogus latency sample is recorded.
func (s *Stream) abort(err error) {
	s.conn.worker.client.log.WithError(err).Debug("stream send failed")
	s.mu.Lock()
	if s.sendEndTime.IsZero() {
		s.sendEndTime = time.Now()
	}
	if s.recvEndTime.IsZero() {
		s.recvEndTime = time.Now()
	}
	s.sendComplete = true
	s.mu.Unlock()
	s.finalize()
}

// onReceive accumulates the download, stamps RecvStartTime on the first
// byte and RecvEndTime on fin, and — in timed mode — aborts the receive
// side once Download (interpreted as milliseconds) has elapsed since
// the first byte.
func (s *Stream) onReceive(length uint64, fin bool) {
	c := s.conn.worker.client

	s.mu.Lock()
	if s.recvStartTime.IsZero() {
		s.recvStartTime = time.Now()
	}
	s.bytesReceived += length
	if fin && s.recvEndTime.IsZero() {
		s.recvEndTime = time.Now()
	}
	abortNow := false
	if c.Timed && !s.recvAborted && s.recvEndTime.IsZero() &&
		time.Since(s.recvStartTime) >= time.Duration(c.Download)*time.Millisecond {
		s.recvEndTime = time.Now()
		s.recvAborted = true
		abortNow = true
	}
	s.mu.Unlock()

	metrics.BytesReceived.Add(float64(length))

	if abortNow {
		s.stream.AbortReceive()
	}
	if fin || abortNow {
		s.maybeFinalize()
	}
}

// onPeerSendAborted fires when the peer gives up sending to us: our
// receive side is done, one way or another, and there's nothing left to
// read, so the stream itself is torn down.
func (s *Stream) onPeerSendAborted() {
	s.mu.Lock()
	if s.recvEndTime.IsZero() {
		s.recvEndTime = time.Now()
	}
	s.mu.Unlock()
	s.stream.Shutdown()
	s.maybeFinalize()
}

// onPeerReceiveAborted fires when the peer gives up reading from us:
// further sends are pointless, so the send side is marked done and
// aborted.
func (s *Stream) onPeerReceiveAborted() {
	s.mu.Lock()
	if s.sendEndTime.IsZero() {
		s.sendEndTime = time.Now()
	}
	s.sendComplete = true
	s.mu.Unlock()
	s.stream.AbortSend()
	s.maybeFinalize()
}

// onSendShutdownComplete stamps SendEndTime once our send side has
// fully drained.
func (s *Stream) onSendShutdownComplete() {
	s.mu.Lock()
	if s.sendEndTime.IsZero() {
		s.sendEndTime = time.Now()
	}
	s.mu.Unlock()
	s.maybeFinalize()
}

// onShutdownComplete is the transport's authoritative terminal event
// for this stream; finalize unconditionally, whatever SendEndTime and
// RecvEndTime currently hold.
func (s *Stream) onShutdownComplete() {
	s.finalize()
}

// maybeFinalize finalizes as soon as both directions have an end time,
// without waiting for the transport's own per-stream OnShutdownComplete.
func (s *Stream) maybeFinalize() {
	s.mu.Lock()
	ready := !s.sendEndTime.IsZero() && !s.recvEndTime.IsZero() && !s.done
	s.mu.Unlock()
	if ready {
		s.finalize()
	}
}

// finalize is idempotent: runs exactly once, however the stream got
// here. It evaluates SendSuccess and RecvSuccess, records a latency
// sample only when both hold, and always hands the stream back to its
// Connection so the run can make progress regardless of success.
func (s *Stream) finalize() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	sendEndTime := s.sendEndTime
	recvStartTime := s.recvStartTime
	recvEndTime := s.recvEndTime
	bytesAcked := s.bytesAcked
	bytesReceived := s.bytesReceived
	startTime := s.startTime
	s.mu.Unlock()

	c := s.conn.worker.client

	sendSuccess := !sendEndTime.IsZero()
	if sendSuccess && (c.Upload > 0 || c.Timed) {
		want := uint64(minRequestLen)
		if !c.Timed && c.Upload > want {
			want = c.Upload
		}
		sendSuccess = bytesAcked >= want
	}

	recvSuccess := !recvStartTime.IsZero() && !recvEndTime.IsZero()
	if recvSuccess && (c.Download > 0 || c.Timed) {
		if c.Timed {
			recvSuccess = bytesReceived > 0
		} else {
			recvSuccess = bytesReceived >= c.Download
		}
	}

	if c.PrintStreams {
		c.log.WithField("send_success", sendSuccess).WithField("recv_success", recvSuccess).Debug("stream finished")
	}

	if sendSuccess && recvSuccess {
		c.latency.Record(uint64(recvEndTime.Sub(startTime).Microseconds()))
		s.conn.worker.streamsCompleted.Add(1)
		metrics.StreamsCompleted.Inc()
	}

	if s.stream != nil {
		s.stream.Shutdown()
	}
	s.conn.onStreamDone()
}
