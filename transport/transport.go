// Package transport defines the boundary between the perfclient driver
// and the two external collaborators named out of scope by the core
// spec: the QUIC transport implementation and the TCP/TLS engine.
// perfclient never imports quic-go or crypto/tls directly; it only
// talks to the interfaces here.
package transport

import (
	"context"
	"net/netip"
)

// AddressFamily hints how a hostname should be resolved.
type AddressFamily int

const (
	Unspecified AddressFamily = iota
	IPv4
	IPv6
)

// ConnectOptions carries everything a Connection needs to start a
// handshake to a resolved remote.
type ConnectOptions struct {
	Family      AddressFamily
	ServerName  string
	Remote      netip.AddrPort
	LocalAddr   netip.AddrPort // zero value: let the transport choose
	ShareBinding bool          // QUIC_PARAM_CONN_SHARE_UDP_BINDING equivalent; not acted on by the transports here

	// DisableEncryption maps to QUIC_PARAM_CONN_DISABLE_1RTT_ENCRYPTION.
	// Ignored by the TCP transport (useTCP+!encrypt fails Init before a
	// Connection is ever built) and by the quic-go transport.
	DisableEncryption bool

	// CibirID is the raw byte sequence meant for the transport: a zero
	// offset byte followed by the decoded hex bytes. No transport in this
	// package sends it.
	CibirID []byte
}

// ConnectionEvents are invoked synchronously, never concurrently with
// each other, on the goroutine that owns this Connection.
type ConnectionEvents struct {
	OnConnected        func()
	OnShutdownComplete func()
}

// StreamEvents mirror the per-stream callback surface of a QUIC or
// TCP-multiplexed stream. Every field is optional; a nil field means
// the caller doesn't care about that event.
type StreamEvents struct {
	OnReceive                func(length uint64, fin bool)
	OnSendComplete           func(length uint32, canceled bool)
	OnPeerSendAborted        func()
	OnPeerReceiveAborted     func()
	OnSendShutdownComplete   func()
	OnShutdownComplete       func()
	OnIdealSendBufferChanged func(bytes uint64)
}

// Stats is the subset of per-connection/per-stream statistics a
// transport can report. Every transport in this package returns a zero
// Stats, and the perfclient driver does not call Statistics.
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
	RttMicros     uint64
}

// Connection is a single transport-level connection: one QUIC
// connection, or one TLS-over-TCP connection carrying a stream
// multiplexing frame header.
type Connection interface {
	Connect(ctx context.Context, opts ConnectOptions, events ConnectionEvents) error
	OpenStream(events StreamEvents) (Stream, error)
	// LocalAddr returns the local address actually bound, valid only
	// after Connect returns successfully. The perfclient driver does not
	// call it, so a worker's later connections do not reuse an address
	// the transport picked for an earlier one.
	LocalAddr() netip.AddrPort
	Statistics() Stats
	Shutdown()
}

// Stream is a single request/response stream, QUIC-native or
// TCP-multiplexed.
type Stream interface {
	// Send enqueues buf for sending. fin marks the final send.
	Send(buf []byte, fin bool) error
	AbortReceive()
	AbortSend()
	Shutdown()
}

// Engine constructs Connections of one transport kind. Each Worker
// owns one Engine instance (shared, read-only after construction).
type Engine interface {
	NewConnection() Connection
}
