package replication

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

// ALPN is the protocol negotiated on QUIC connections.
const ALPN = "authority-replication"

var _ Conn = (*QUICConn)(nil)

// QUICConn carries length-prefixed frames on one bidirectional stream.
type QUICConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	closed int32

	writeMu sync.Mutex
	header  [4]byte
}

func (c *QUICConn) Send(data []byte) error {
	if atomic.LoadInt32(&c.closed) == 1 {
		return ErrConnectionClosed
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	binary.BigEndian.PutUint32(c.header[:], uint32(len(data)))
	if _, err := c.stream.Write(c.header[:]); err != nil {
		return errors.Wrap(err, "failed to write frame header")
	}
	if _, err := c.stream.Write(data); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

func (c *QUICConn) Receive() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.stream, header[:]); err != nil {
		if atomic.LoadInt32(&c.closed) == 1 || err == io.EOF {
			return nil, ErrConnectionClosed
		}
		return nil, errors.Wrap(err, "failed to read frame header")
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "peer announced %d bytes", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(c.stream, data); err != nil {
		return nil, errors.Wrap(err, "failed to read frame")
	}
	return data, nil
}

func (c *QUICConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *QUICConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	_ = c.stream.Close()
	return c.conn.CloseWithError(0, "closed")
}

// QUICListener accepts replication peers over QUIC.
type QUICListener struct {
	listener *quic.Listener
}

// ListenQUIC listens on addr. A nil tlsConf uses a generated self-signed
// certificate.
func ListenQUIC(addr string, tlsConf *tls.Config, idleTimeout time.Duration) (*QUICListener, error) {
	if tlsConf == nil {
		var err error
		if tlsConf, err = SelfSignedTLS(); err != nil {
			return nil, err
		}
	}
	l, err := quic.ListenAddr(addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: idleTimeout / 3,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to start QUIC listener")
	}
	return &QUICListener{listener: l}, nil
}

// Accept waits for a peer and its replication stream.
func (l *QUICListener) Accept(ctx context.Context) (*QUICConn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to accept QUIC connection")
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return nil, errors.Wrap(err, "failed to accept QUIC stream")
	}
	return &QUICConn{conn: conn, stream: stream}, nil
}

func (l *QUICListener) Addr() net.Addr { return l.listener.Addr() }

func (l *QUICListener) Close() error { return l.listener.Close() }

// DialQUIC connects to a QUIC listener and opens the replication stream. The
// stream becomes visible to the listener with the first frame sent.
func DialQUIC(ctx context.Context, addr string, tlsConf *tls.Config, idleTimeout time.Duration) (*QUICConn, error) {
	if tlsConf == nil {
		tlsConf = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{ALPN},
			MinVersion:         tls.VersionTLS13,
		}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: idleTimeout / 3,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return nil, errors.Wrap(err, "failed to open QUIC stream")
	}
	return &QUICConn{conn: conn, stream: stream}, nil
}

// LoadTLS reads a certificate pair for the QUIC listener.
func LoadTLS(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load TLS certificate")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// SelfSignedTLS generates a throwaway certificate for development and tests.
func SelfSignedTLS() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate key")
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"Authority"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:     []string{"localhost"},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create certificate")
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load generated key pair")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
