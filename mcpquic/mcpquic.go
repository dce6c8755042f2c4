// Package mcpquic serves MCP sessions over QUIC streams.
//
// One QUIC connection carries one MCP session on a single bidirectional
// stream. The client opens the stream and sends a 4-byte magic prefix
// before the first JSON-RPC frame, so a server can reject protocol
// confusion (an HTTP/3 client dialed the wrong port) before parsing
// anything. ALPN pins the protocol version.
package mcpquic

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// ALPNProtocolMCP is the ALPN token negotiated for MCP sessions.
	ALPNProtocolMCP = "mcp-quic-v1"

	// MagicBytesMCP is written by the client as the first bytes of the
	// stream, before any JSON-RPC traffic.
	MagicBytesMCP = "MCP1"

	// MaxMessageSize caps a single JSON-RPC frame; it sizes the per-stream
	// receive window.
	MaxMessageSize = 10 * 1024 * 1024

	DefaultIdleTimeout = 5 * time.Minute
	DefaultKeepAlive   = 30 * time.Second
)

// Application-level connection close codes.
const (
	ConnErrorNoError           quic.ApplicationErrorCode = 0x00
	ConnErrorUnsupportedALPN   quic.ApplicationErrorCode = 0x01
	ConnErrorProtocolViolation quic.ApplicationErrorCode = 0x03
)

// StreamErrorProtocolConfusion aborts a stream whose first bytes are not
// the MCP magic prefix.
const StreamErrorProtocolConfusion quic.StreamErrorCode = 0x01

var (
	ErrInvalidMagicBytes = errors.New("mcpquic: invalid magic bytes")
	ErrUnsupportedALPN   = errors.New("mcpquic: unsupported ALPN protocol")
	ErrConnectionClosed  = errors.New("mcpquic: connection closed")
)

// ConnectionError wraps a transport failure with the remote address and
// the application close code sent to the peer.
type ConnectionError struct {
	RemoteAddr string
	Code       quic.ApplicationErrorCode
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcpquic: connection %s closed with 0x%02x: %v", e.RemoteAddr, uint64(e.Code), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendMagicBytes writes the MCP magic prefix. The client calls this right
// after opening the stream.
func SendMagicBytes(w io.Writer) error {
	if _, err := io.WriteString(w, MagicBytesMCP); err != nil {
		return fmt.Errorf("mcpquic: send magic bytes: %w", err)
	}
	return nil
}

// ValidateMagicBytes reads and checks the magic prefix. A short read or a
// mismatch both fail; the caller should abort the stream.
func ValidateMagicBytes(r io.Reader) error {
	buf := make([]byte, len(MagicBytesMCP))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMagicBytes, err)
	}
	if string(buf) != MagicBytesMCP {
		return fmt.Errorf("%w: got %q", ErrInvalidMagicBytes, string(buf))
	}
	return nil
}

// ProductionQUICConfig returns the quic.Config used by both ends: idle
// timeout, keepalive, receive window sized to MaxMessageSize, 0-RTT off
// (replayable early data has no place in an RPC protocol).
func ProductionQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:         DefaultIdleTimeout,
		KeepAlivePeriod:        DefaultKeepAlive,
		MaxStreamReceiveWindow: MaxMessageSize,
		Allow0RTT:              false,
	}
}

// ServerTLSConfig loads a certificate pair from disk.
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocolMCP},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// SelfSignedTLSConfig generates an ephemeral self-signed certificate for
// localhost. Development and single-host deployments only; clients must
// dial with ClientTLSConfig(true).
func SelfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("mcpquic: serial: %w", err)
	}

	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "mcpquic"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: create certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
		NextProtos: []string{ALPNProtocolMCP},
		MinVersion: tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig returns the client-side TLS config. insecure skips
// server certificate verification, for self-signed servers.
func ClientTLSConfig(insecure bool) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: insecure,
		NextProtos:         []string{ALPNProtocolMCP},
		MinVersion:         tls.VersionTLS13,
	}
}
