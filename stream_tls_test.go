//go:build linux

package reactor

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func selfSignedCertificate(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "reactor-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"reactor-test"},
		IsCA:         true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestTlsClientServerHandshakeAndEcho(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer func() { _ = unix.Close(fds[0]) }()
	defer func() { _ = unix.Close(fds[1]) }()

	certificate := selfSignedCertificate(t)
	pool := x509.NewCertPool()
	parsed, err := x509.ParseCertificate(certificate.Certificate[0])
	require.NoError(t, err)
	pool.AddCert(parsed)

	serverConfiguration := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{certificate},
		NextProtos:   []string{"h2", "http/1.1"},
	}
	clientConfiguration := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
		ServerName: "reactor-test",
		NextProtos: []string{"h2"},
	}

	type sideResult struct {
		info    PostHandshakeInformation
		counter ByteCounter
		err     *CompleteError
	}
	serverResults := make(chan sideResult, 1)

	go func() {
		var result sideResult
		_, _, result.err = startCoroutine(nil, func(yielder *Yielder) *CompleteError {
			generic := newGenericStream(fds[1], yielder)
			factory := &TlsServerStreamFactory{Configuration: serverConfiguration}
			stream, err := factory.NewStreamAndHandshake(generic, nil)
			if err != nil {
				return asCompleteError(err)
			}
			result.info = stream.PostHandshakeInformation()
			result.counter = *stream.Counter()

			var buffer [5]byte
			read := 0
			for read < len(buffer) {
				n, err := stream.ReadData(buffer[read:])
				if err != nil {
					return asCompleteError(err)
				}
				read += n
			}
			if _, err := stream.WriteData(buffer[:]); err != nil {
				return asCompleteError(err)
			}
			return asCompleteError(stream.Finish())
		})
		serverResults <- result
	}()

	var clientInfo PostHandshakeInformation
	var clientCounterAtHandshake ByteCounter
	var echoed [5]byte
	_, completed, cerr := startCoroutine(nil, func(yielder *Yielder) *CompleteError {
		generic := newGenericStream(fds[0], yielder)
		factory := &TlsClientStreamFactory{Configuration: clientConfiguration}
		stream, err := factory.NewStreamAndHandshake(generic, "")
		if err != nil {
			return asCompleteError(err)
		}
		clientInfo = stream.PostHandshakeInformation()
		clientCounterAtHandshake = *stream.Counter()

		if _, err := stream.WriteData([]byte("hello")); err != nil {
			return asCompleteError(err)
		}
		read := 0
		for read < len(echoed) {
			n, err := stream.ReadData(echoed[read:])
			if err != nil {
				return asCompleteError(err)
			}
			read += n
		}
		return nil
	})
	require.True(t, completed)
	require.Nil(t, cerr)

	serverResult := <-serverResults
	require.Nil(t, serverResult.err)

	assert.Equal(t, "hello", string(echoed[:]))

	// A successful handshake implies both peers moved TLS records before
	// any application read returned data.
	assert.NotZero(t, clientCounterAtHandshake.BytesRead)
	assert.NotZero(t, clientCounterAtHandshake.BytesWritten)
	assert.NotZero(t, serverResult.counter.BytesRead)
	assert.NotZero(t, serverResult.counter.BytesWritten)

	assert.GreaterOrEqual(t, clientInfo.NegotiatedTlsVersion, uint16(tls.VersionTLS12))
	assert.NotZero(t, clientInfo.NegotiatedCipherSuite)
	assert.Equal(t, "h2", clientInfo.AlpnProtocol)
	assert.NotEmpty(t, clientInfo.PeerCertificates)

	assert.Equal(t, "reactor-test", serverResult.info.ServerNameIndication)
	assert.Equal(t, clientInfo.NegotiatedTlsVersion, serverResult.info.NegotiatedTlsVersion)
}

func TestTlsHandshakeFailureIsTyped(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer func() { _ = unix.Close(fds[0]) }()

	// Peer closes immediately: the client's first handshake write fails.
	require.NoError(t, unix.Close(fds[1]))

	_, completed, cerr := startCoroutine(nil, func(yielder *Yielder) *CompleteError {
		generic := newGenericStream(fds[0], yielder)
		factory := &TlsClientStreamFactory{Configuration: &tls.Config{InsecureSkipVerify: true}}
		_, err := factory.NewStreamAndHandshake(generic, "")
		return asCompleteError(err)
	})
	require.True(t, completed)
	require.NotNil(t, cerr)
	assert.Equal(t, CompleteTls, cerr.Kind)
}
