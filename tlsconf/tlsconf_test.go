package tlsconf

import (
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherSuitePreferenceOrder(t *testing.T) {
	expected := []uint16{
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
	assert.Equal(t, expected, CipherSuites)
}

func TestValidateAlpnProtocolsRejectsCleartextHttp2(t *testing.T) {
	assert.NoError(t, ValidateAlpnProtocols([]string{Http2OverTls, Http11OverTls}))
	assert.ErrorIs(t, ValidateAlpnProtocols([]string{Http2OverTls, Http2OverTcp}), ErrHttp2OverTcpInAlpnList)
	assert.NoError(t, ValidateAlpnProtocols(nil))
}

func TestServerConfigurationDefaults(t *testing.T) {
	configuration, err := NewServerConfiguration([]string{Http2OverTls, Http11OverTls})
	require.NoError(t, err)

	assert.Equal(t, uint16(tls.VersionTLS12), uint16(configuration.MinVersion))
	assert.Equal(t, uint16(tls.VersionTLS13), uint16(configuration.MaxVersion))
	assert.Equal(t, []string{"h2", "http/1.1"}, configuration.NextProtos)
	// Only TLS 1.2 suites are configurable through crypto/tls.
	for _, suite := range configuration.CipherSuites {
		assert.NotContains(t, []uint16{
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_AES_128_GCM_SHA256,
		}, suite)
	}

	_, err = NewServerConfiguration([]string{Http2OverTcp})
	assert.ErrorIs(t, err, ErrHttp2OverTcpInAlpnList)
}

func TestClientConfigurationDefaults(t *testing.T) {
	configuration, err := NewClientConfiguration(nil)
	require.NoError(t, err)

	assert.Equal(t, uint16(tls.VersionTLS12), uint16(configuration.MinVersion))
	assert.NotNil(t, configuration.ClientSessionCache)
	// SNI stays disabled until the caller opts in with a server name.
	assert.Empty(t, configuration.ServerName)
}
