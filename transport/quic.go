package transport

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// quicEngine builds QUIC-backed Connections. One instance is shared by
// every worker; it is read-only after construction, so workers never
// contend on it.
type quicEngine struct {
	tlsConfig  *tls.Config
	quicConfig *quic.Config
}

// NewQUICEngine constructs the Engine used when -tcp:0 (the default).
// insecureSkipVerify controls certificate verification. enablePacing is
// accepted but not used. Connections built by this engine do not act on
// ConnectOptions.DisableEncryption, CibirID or ShareBinding: every
// connection is fully encrypted, carries no CIBIR id, and binds its own
// UDP socket.
func NewQUICEngine(insecureSkipVerify bool, alpn string, enablePacing bool) Engine {
	return &quicEngine{
		tlsConfig: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify,
			NextProtos:         []string{alpn},
		},
		quicConfig: &quic.Config{
			DisablePathMTUDiscovery: false,
		},
	}
}

func (e *quicEngine) NewConnection() Connection {
	return &quicConnection{engine: e}
}

type quicConnection struct {
	engine *quicEngine

	mu       sync.Mutex
	conn     quic.Connection
	local    netip.AddrPort
	streams  map[*quicStream]struct{}
	idealBuf atomic.Uint64
	closeCh  chan struct{}
}

func (c *quicConnection) Connect(ctx context.Context, opts ConnectOptions, events ConnectionEvents) error {
	c.streams = make(map[*quicStream]struct{})
	c.closeCh = make(chan struct{})
	c.idealBuf.Store(64 * 1024)

	tlsConf := c.engine.tlsConfig.Clone()
	tlsConf.ServerName = opts.ServerName

	var udpConn net.PacketConn
	var err error
	if opts.LocalAddr.IsValid() {
		udpConn, err = net.ListenUDP("udp", net.UDPAddrFromAddrPort(opts.LocalAddr))
	} else {
		udpConn, err = net.ListenUDP("udp", nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDial, err)
	}

	if addr, ok := udpConn.LocalAddr().(*net.UDPAddr); ok {
		c.local = addr.AddrPort()
	}

	remote := net.UDPAddrFromAddrPort(opts.Remote)
	tr := &quic.Transport{Conn: udpConn}
	conn, err := tr.Dial(ctx, remote, tlsConf, c.engine.quicConfig)
	if err != nil {
		udpConn.Close()
		return fmt.Errorf("%w: %v", ErrDial, err)
	}
	c.conn = conn

	if events.OnConnected != nil {
		events.OnConnected()
	}

	go c.watchShutdown(events)
	go c.pumpIdealSendBuffer()
	return nil
}

// ErrDial is returned (wrapped) when the QUIC transport fails to dial.
var ErrDial = fmt.Errorf("quic dial failed")

// ErrTransportOpenFailed is returned (wrapped) when OpenStream fails.
var ErrTransportOpenFailed = fmt.Errorf("failed to open transport connection")

func (c *quicConnection) watchShutdown(events ConnectionEvents) {
	<-c.conn.Context().Done()
	close(c.closeCh)
	if events.OnShutdownComplete != nil {
		events.OnShutdownComplete()
	}
}

// pumpIdealSendBuffer approximates MsQuic's ideal-send-buffer-size
// event. quic-go does not expose the congestion controller's send
// window publicly, so this grows a local estimate the same shape a
// slow-start window would, capped well above typical BDPs, and stops
// as soon as the connection closes.
func (c *quicConnection) pumpIdealSendBuffer() {
	const maxBuf = 4 << 20
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
			cur := c.idealBuf.Load()
			if cur >= maxBuf {
				continue
			}
			next := cur * 2
			if next > maxBuf {
				next = maxBuf
			}
			c.idealBuf.Store(next)

			c.mu.Lock()
			streams := make([]*quicStream, 0, len(c.streams))
			for s := range c.streams {
				streams = append(streams, s)
			}
			c.mu.Unlock()
			for _, s := range streams {
				if s.events.OnIdealSendBufferChanged != nil {
					s.events.OnIdealSendBufferChanged(next)
				}
			}
		}
	}
}

func (c *quicConnection) OpenStream(events StreamEvents) (Stream, error) {
	qs, err := c.conn.OpenStreamSync(context.Background())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportOpenFailed, err)
	}
	s := &quicStream{conn: c, stream: qs, events: events}
	c.mu.Lock()
	c.streams[s] = struct{}{}
	c.mu.Unlock()
	go s.recvLoop()
	return s, nil
}

// markSendDone/markRecvDone track the two halves of a quic-go stream's
// lifetime independently, since Write/Close and Read complete on
// separate goroutines here; OnShutdownComplete fires exactly once, the
// first time both halves are observed done.
func (s *quicStream) markSendDone() {
	s.mu.Lock()
	s.sendDone = true
	both := s.recvDone
	s.mu.Unlock()
	if both {
		s.fireShutdownComplete()
	}
}

func (s *quicStream) markRecvDone() {
	s.mu.Lock()
	s.recvDone = true
	both := s.sendDone
	s.mu.Unlock()
	if both {
		s.fireShutdownComplete()
	}
}

func (s *quicStream) fireShutdownComplete() {
	s.shutdownOnce.Do(func() {
		if s.events.OnShutdownComplete != nil {
			s.events.OnShutdownComplete()
		}
	})
}

func (c *quicConnection) LocalAddr() netip.AddrPort { return c.local }

func (c *quicConnection) Statistics() Stats {
	return Stats{}
}

func (c *quicConnection) Shutdown() {
	if c.conn != nil {
		c.conn.CloseWithError(0, "")
	}
}

type quicStream struct {
	conn   *quicConnection
	stream quic.Stream
	events StreamEvents

	mu           sync.Mutex
	sendDone     bool
	recvDone     bool
	shutdownOnce sync.Once
}

func (s *quicStream) Send(buf []byte, fin bool) error {
	n, err := s.stream.Write(buf)
	if err != nil {
		if streamErr, ok := err.(*quic.StreamError); ok {
			_ = streamErr
			if s.events.OnPeerReceiveAborted != nil {
				s.events.OnPeerReceiveAborted()
			}
			s.markSendDone()
		}
		return err
	}
	if fin {
		s.stream.Close() // half-close: no more writes, carries FIN
	}
	if s.events.OnSendComplete != nil {
		// quic-go's Write blocks until the data is handed to the send
		// buffer, not until it is acknowledged; lacking a per-write ack
		// callback in the public API, sent and acked are treated as the
		// same event here.
		s.events.OnSendComplete(uint32(n), false)
	}
	if fin {
		if s.events.OnSendShutdownComplete != nil {
			s.events.OnSendShutdownComplete()
		}
		s.markSendDone()
	}
	return nil
}

func (s *quicStream) recvLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 && s.events.OnReceive != nil {
			s.events.OnReceive(uint64(n), false)
		}
		if err != nil {
			if err == io.EOF {
				if s.events.OnReceive != nil {
					s.events.OnReceive(0, true)
				}
			} else if streamErr, ok := err.(*quic.StreamError); ok {
				_ = streamErr
				if s.events.OnPeerSendAborted != nil {
					s.events.OnPeerSendAborted()
				}
			}
			s.markRecvDone()
			return
		}
	}
}

func (s *quicStream) AbortReceive() {
	s.stream.CancelRead(0)
}

func (s *quicStream) AbortSend() {
	s.stream.CancelWrite(0)
}

func (s *quicStream) Shutdown() {
	s.stream.Close()
}

// decodeCibir turns a hex string (<=6 bytes decoded) into the
// zero-offset-byte-prefixed sequence the transport conveys.
func decodeCibir(hexStr string) ([]byte, error) {
	if len(hexStr) == 0 {
		return nil, nil
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, err
	}
	if len(raw) > 6 {
		return nil, fmt.Errorf("cibir id must be <= 6 bytes")
	}
	out := make([]byte, len(raw)+1)
	out[0] = 0
	copy(out[1:], raw)
	return out, nil
}

// DecodeCibir is the exported form used by perfclient option parsing.
func DecodeCibir(hexStr string) ([]byte, error) { return decodeCibir(hexStr) }
