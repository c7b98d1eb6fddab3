package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
)

// frame flags for the TCP stream-multiplexing header. Raw TCP has no
// native stream concept, so every logical stream is carried as a
// sequence of length-prefixed frames over one TLS connection, tagged
// with a 32-bit stream id.
const (
	flagOpen  byte = 1 << 0
	flagFin   byte = 1 << 1
	flagAbort byte = 1 << 2

	frameHeaderLen = 4 + 1 + 4 // streamID + flags + length
)

type tcpEngine struct {
	tlsConfig *tls.Config
}

// NewTCPEngine builds the Engine used when -tcp:1. TCP mode always
// carries QUIC_CREDENTIAL_FLAG_NO_CERTIFICATE_VALIDATION, so
// InsecureSkipVerify is unconditional here.
func NewTCPEngine() Engine {
	return &tcpEngine{
		tlsConfig: &tls.Config{InsecureSkipVerify: true},
	}
}

func (e *tcpEngine) NewConnection() Connection {
	return &tcpConnection{engine: e}
}

type tcpConnection struct {
	engine *tcpEngine

	conn  *tls.Conn
	local netip.AddrPort

	writeMu sync.Mutex

	mu       sync.Mutex
	streams  map[uint32]*tcpStream
	nextID   atomic.Uint32
	shutdown chan struct{}
}

func (c *tcpConnection) Connect(ctx context.Context, opts ConnectOptions, events ConnectionEvents) error {
	c.streams = make(map[uint32]*tcpStream)
	c.shutdown = make(chan struct{})

	dialer := &net.Dialer{}
	if opts.LocalAddr.IsValid() {
		dialer.LocalAddr = net.TCPAddrFromAddrPort(opts.LocalAddr)
	}

	tlsConf := c.engine.tlsConfig.Clone()
	tlsConf.ServerName = opts.ServerName

	raw, err := dialer.DialContext(ctx, "tcp", net.TCPAddrFromAddrPort(opts.Remote).String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTCPDial, err)
	}
	if addr, ok := raw.LocalAddr().(*net.TCPAddr); ok {
		c.local = addr.AddrPort()
	}

	tlsConn := tls.Client(raw, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return fmt.Errorf("%w: %v", ErrTCPDial, err)
	}
	c.conn = tlsConn

	if events.OnConnected != nil {
		events.OnConnected()
	}

	go c.recvLoop(events)
	return nil
}

// ErrTCPDial is returned (wrapped) when the TCP+TLS transport fails to
// connect or complete its handshake.
var ErrTCPDial = fmt.Errorf("tcp dial failed")

func (c *tcpConnection) recvLoop(events ConnectionEvents) {
	defer func() {
		close(c.shutdown)
		if events.OnShutdownComplete != nil {
			events.OnShutdownComplete()
		}
	}()

	header := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			return
		}
		streamID := binary.LittleEndian.Uint32(header[0:4])
		flags := header[4]
		length := binary.LittleEndian.Uint32(header[5:9])

		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			if _, err := io.ReadFull(c.conn, payload); err != nil {
				return
			}
		}

		c.mu.Lock()
		s := c.streams[streamID]
		c.mu.Unlock()
		if s == nil {
			continue
		}

		if flags&flagAbort != 0 {
			if s.events.OnPeerSendAborted != nil {
				s.events.OnPeerSendAborted()
			}
			s.markRecvDone()
			continue
		}
		fin := flags&flagFin != 0
		if s.events.OnReceive != nil {
			s.events.OnReceive(uint64(len(payload)), fin)
		}
		if fin {
			s.markRecvDone()
		}
	}
}

func (c *tcpConnection) OpenStream(events StreamEvents) (Stream, error) {
	id := c.nextID.Add(1)
	s := &tcpStream{conn: c, id: id, events: events, open: true}
	c.mu.Lock()
	c.streams[id] = s
	c.mu.Unlock()
	return s, nil
}

func (c *tcpConnection) LocalAddr() netip.AddrPort { return c.local }

func (c *tcpConnection) Statistics() Stats { return Stats{} }

func (c *tcpConnection) Shutdown() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *tcpConnection) writeFrame(id uint32, flags byte, payload []byte) error {
	header := make([]byte, frameHeaderLen)
	binary.LittleEndian.PutUint32(header[0:4], id)
	header[4] = flags
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(payload)))

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := c.conn.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

type tcpStream struct {
	conn   *tcpConnection
	id     uint32
	events StreamEvents

	mu           sync.Mutex
	open         bool
	sendDone     bool
	recvDone     bool
	shutdownOnce sync.Once
}

func (s *tcpStream) Send(buf []byte, fin bool) error {
	s.mu.Lock()
	open := s.open
	s.open = false
	s.mu.Unlock()

	var flags byte
	if open {
		flags |= flagOpen
	}
	if fin {
		flags |= flagFin
	}

	err := s.conn.writeFrame(s.id, flags, buf)
	if s.events.OnSendComplete != nil {
		// A TCP write is "complete" once handed to the kernel socket
		// buffer; like the QUIC transport, there is no per-frame ack
		// signal on the public net/tls API, so sent and acked are
		// treated as the same event.
		s.events.OnSendComplete(uint32(len(buf)), err != nil)
	}
	if fin || err != nil {
		if fin && err == nil && s.events.OnSendShutdownComplete != nil {
			s.events.OnSendShutdownComplete()
		}
		s.markSendDone()
	}
	return err
}

func (s *tcpStream) markSendDone() {
	s.mu.Lock()
	s.sendDone = true
	both := s.recvDone
	s.mu.Unlock()
	if both {
		s.fireShutdownComplete()
	}
}

func (s *tcpStream) markRecvDone() {
	s.mu.Lock()
	s.recvDone = true
	both := s.sendDone
	s.mu.Unlock()
	if both {
		s.fireShutdownComplete()
	}
}

func (s *tcpStream) fireShutdownComplete() {
	s.shutdownOnce.Do(func() {
		if s.events.OnShutdownComplete != nil {
			s.events.OnShutdownComplete()
		}
	})
}

// AbortReceive and AbortSend both write the same abort frame: the
// frame protocol has no flag distinguishing which direction gave up, so
// a peer always observes it as OnPeerSendAborted. OnPeerReceiveAborted
// is consequently never raised by this transport.
func (s *tcpStream) AbortReceive() {
	_ = s.conn.writeFrame(s.id, flagAbort, nil)
	s.markRecvDone()
}

func (s *tcpStream) AbortSend() {
	_ = s.conn.writeFrame(s.id, flagAbort, nil)
	s.markSendDone()
}

func (s *tcpStream) Shutdown() {
	s.conn.mu.Lock()
	delete(s.conn.streams, s.id)
	s.conn.mu.Unlock()
}
