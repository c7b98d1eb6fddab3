package transport

import (
	"context"
	"encoding/binary"
	"net/netip"
	"sync"
)

// FakeEngine is an in-memory transport used by perfclient's tests. It
// understands just enough of the wire contract (first 8 bytes of the
// initial upload encode the requested download size, little-endian)
// to drive the real Stream/Connection/Worker state machines without a
// real QUIC or TCP peer.
type FakeEngine struct {
	mu    sync.Mutex
	conns []*FakeConnection
}

func NewFakeEngine() *FakeEngine { return &FakeEngine{} }

func (e *FakeEngine) NewConnection() Connection {
	c := &FakeConnection{engine: e}
	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()
	return c
}

// Connections returns every Connection built so far, for assertions.
func (e *FakeEngine) Connections() []*FakeConnection {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*FakeConnection, len(e.conns))
	copy(out, e.conns)
	return out
}

type FakeConnection struct {
	engine *FakeEngine

	FailConnect bool
	FailOpen    bool

	local    netip.AddrPort
	events   ConnectionEvents
	mu       sync.Mutex
	streams  []*FakeStream
	shutOnce sync.Once
}

func (c *FakeConnection) Connect(_ context.Context, opts ConnectOptions, events ConnectionEvents) error {
	if c.FailConnect {
		return ErrDial
	}
	c.local = opts.LocalAddr
	c.events = events
	if events.OnConnected != nil {
		events.OnConnected()
	}
	return nil
}

func (c *FakeConnection) OpenStream(events StreamEvents) (Stream, error) {
	if c.FailOpen {
		return nil, ErrTransportOpenFailed
	}
	s := &FakeStream{conn: c, events: events}
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
	return s, nil
}

func (c *FakeConnection) LocalAddr() netip.AddrPort { return c.local }
func (c *FakeConnection) Statistics() Stats         { return Stats{} }

func (c *FakeConnection) Shutdown() {
	c.shutOnce.Do(func() {
		if c.events.OnShutdownComplete != nil {
			c.events.OnShutdownComplete()
		}
	})
}

// FakeStream echoes back exactly the number of bytes requested in the
// first 8 bytes of the upload (or Download, when explicitly set, which
// takes precedence).
type FakeStream struct {
	conn   *FakeConnection
	events StreamEvents

	Download uint64

	mu           sync.Mutex
	readHdr      bool
	reqBytes     uint64
	sent         uint64
	replied      bool
	sendDone     bool
	recvDone     bool
	shutdownOnce sync.Once
}

func (s *FakeStream) Send(buf []byte, fin bool) error {
	s.mu.Lock()
	if !s.readHdr && len(buf) >= 8 {
		s.reqBytes = binary.LittleEndian.Uint64(buf[:8])
		s.readHdr = true
	}
	s.sent += uint64(len(buf))
	s.mu.Unlock()

	if s.events.OnSendComplete != nil {
		s.events.OnSendComplete(uint32(len(buf)), false)
	}

	if fin {
		if s.events.OnSendShutdownComplete != nil {
			s.events.OnSendShutdownComplete()
		}
		s.markSendDone()
		go s.reply()
	}
	return nil
}

func (s *FakeStream) reply() {
	s.mu.Lock()
	if s.replied {
		s.mu.Unlock()
		return
	}
	s.replied = true
	want := s.Download
	if want == 0 {
		want = s.reqBytes
	}
	s.mu.Unlock()

	if want == 0 {
		if s.events.OnReceive != nil {
			s.events.OnReceive(0, true)
		}
		s.markRecvDone()
		return
	}

	const chunk = 4096
	remaining := want
	for remaining > chunk {
		if s.events.OnReceive != nil {
			s.events.OnReceive(chunk, false)
		}
		remaining -= chunk
	}
	if s.events.OnReceive != nil {
		s.events.OnReceive(remaining, true)
	}
	s.markRecvDone()
}

func (s *FakeStream) markSendDone() {
	s.mu.Lock()
	s.sendDone = true
	both := s.recvDone
	s.mu.Unlock()
	if both {
		s.fireShutdownComplete()
	}
}

func (s *FakeStream) markRecvDone() {
	s.mu.Lock()
	s.recvDone = true
	both := s.sendDone
	s.mu.Unlock()
	if both {
		s.fireShutdownComplete()
	}
}

func (s *FakeStream) fireShutdownComplete() {
	s.shutdownOnce.Do(func() {
		if s.events.OnShutdownComplete != nil {
			s.events.OnShutdownComplete()
		}
	})
}

func (s *FakeStream) AbortReceive() {
	if s.events.OnPeerSendAborted != nil {
		s.events.OnPeerSendAborted()
	}
	s.markRecvDone()
}

func (s *FakeStream) AbortSend() {
	s.markSendDone()
}

func (s *FakeStream) Shutdown() {}
