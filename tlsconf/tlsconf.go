// Package tlsconf carries the negotiated TLS defaults consumed by the
// reactor runtime's TLS stream factories: protocol versions, cipher-suite
// preference order, session-cache sizes, and the IANA ALPN registry.
//
// Certificate, private-key and trust-store loading are deliberately out of
// scope; callers populate those fields on the returned configurations.
package tlsconf

import (
	"crypto/tls"
	"errors"
)

// Negotiated defaults.
const (
	// MinimumProtocolVersion is TLS 1.2; nothing older is negotiated.
	MinimumProtocolVersion = tls.VersionTLS12

	// MaximumProtocolVersion is TLS 1.3.
	MaximumProtocolVersion = tls.VersionTLS13

	// SessionBufferSize is the per-session plaintext buffer, 16 KiB: the
	// TLS maximum record size.
	SessionBufferSize = 16 * 1024

	// ServerSessionCacheSize is the default server-side session cache size.
	// NewServerConfiguration does not apply it.
	ServerSessionCacheSize = 256

	// ClientSessionCacheSize bounds the client-side session cache.
	ClientSessionCacheSize = 32
)

// CipherSuites is the preference-ordered suite list: TLS 1.3 suites first
// (ChaCha20-Poly1305 leading for constant-time performance without AES
// hardware), then the ECDHE AEAD suites for TLS 1.2.
//
// The TLS 1.3 entries are informational: the standard library does not
// permit configuring 1.3 suites, and negotiates from the same set.
var CipherSuites = []uint16{
	tls.TLS_CHACHA20_POLY1305_SHA256,
	tls.TLS_AES_256_GCM_SHA384,
	tls.TLS_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// configurableCipherSuites filters CipherSuites down to the TLS 1.2 suites
// crypto/tls accepts in Config.CipherSuites.
func configurableCipherSuites() []uint16 {
	suites := make([]uint16, 0, len(CipherSuites))
	for _, suite := range CipherSuites {
		switch suite {
		case tls.TLS_CHACHA20_POLY1305_SHA256, tls.TLS_AES_256_GCM_SHA384, tls.TLS_AES_128_GCM_SHA256:
		default:
			suites = append(suites, suite)
		}
	}
	return suites
}

// Application-layer protocol names, per the IANA ALPN protocol ID registry.
const (
	Http11OverTls = "http/1.1"
	Http10OverTls = "http/1.0"
	Http2OverTls  = "h2"

	// Http2OverTcp is cleartext HTTP/2. It must never appear in a TLS ALPN
	// list; ValidateAlpnProtocols enforces this.
	Http2OverTcp = "h2c"
)

// ErrHttp2OverTcpInAlpnList is returned by ValidateAlpnProtocols when the
// cleartext HTTP/2 identifier appears in a TLS ALPN list.
var ErrHttp2OverTcpInAlpnList = errors.New("tlsconf: h2c must not appear in a TLS ALPN list")

// ValidateAlpnProtocols rejects ALPN lists that include the cleartext
// HTTP/2 identifier.
func ValidateAlpnProtocols(protocols []string) error {
	for _, protocol := range protocols {
		if protocol == Http2OverTcp {
			return ErrHttp2OverTcpInAlpnList
		}
	}
	return nil
}

// NewServerConfiguration returns the server-side defaults: TLS 1.2/1.3
// only, the preference-ordered suites with the server ignoring client
// cipher order, and no early data. It configures no server-side session
// cache; ServerSessionCacheSize is not applied.
//
// The caller supplies certificates and any ALPN list (validated here).
func NewServerConfiguration(alpnProtocols []string) (*tls.Config, error) {
	if err := ValidateAlpnProtocols(alpnProtocols); err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   MinimumProtocolVersion,
		MaxVersion:   MaximumProtocolVersion,
		CipherSuites: configurableCipherSuites(),
		NextProtos:   alpnProtocols,
	}, nil
}

// NewClientConfiguration returns the client-side defaults: TLS 1.2/1.3
// only, the preference-ordered suites, a bounded session cache, and no
// server name by default (set Config.ServerName explicitly to enable SNI;
// the default avoids leaking names on the wire).
func NewClientConfiguration(alpnProtocols []string) (*tls.Config, error) {
	if err := ValidateAlpnProtocols(alpnProtocols); err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:         MinimumProtocolVersion,
		MaxVersion:         MaximumProtocolVersion,
		CipherSuites:       configurableCipherSuites(),
		NextProtos:         alpnProtocols,
		ClientSessionCache: tls.NewLRUClientSessionCache(ClientSessionCacheSize),
	}, nil
}
