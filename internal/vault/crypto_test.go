package vault

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)

	b, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyToken(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)

	assert.True(t, VerifyToken(token, token))
	assert.False(t, VerifyToken("wrong", token))
	assert.False(t, VerifyToken(token, "other"))
	assert.False(t, VerifyToken("", token))
	assert.False(t, VerifyToken("anything", ""), "an empty expected token never matches")
	assert.False(t, VerifyToken("", ""))
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, parsed.DNSNames, "localhost")
	assert.NoError(t, parsed.VerifyHostname("localhost"))
}
