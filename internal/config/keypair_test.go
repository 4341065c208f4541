package config

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertPEM_Deterministic(t *testing.T) {
	pemBytes := encryptedPEM(t, "secret")

	first, err := ConvertPEM(pemBytes, "secret")
	require.NoError(t, err)
	second, err := ConvertPEM(pemBytes, "secret")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	plain, err := ConvertPEM(unencryptedPEM(t), "")
	require.NoError(t, err)
	assert.Equal(t, first, plain)
}

func TestConvertPEM_PKCS1(t *testing.T) {
	pkcs1 := x509.MarshalPKCS1PrivateKey(rsaKey(t))

	t.Run("plain", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: pkcs1})
		der, err := ConvertPEM(data, "")
		require.NoError(t, err)

		key, err := x509.ParsePKCS8PrivateKey(der)
		require.NoError(t, err)
		assert.True(t, rsaKey(t).Equal(key))
	})

	t.Run("legacy encrypted", func(t *testing.T) {
		//nolint:staticcheck
		block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", pkcs1, []byte("secret"), x509.PEMCipherAES256)
		require.NoError(t, err)
		data := pem.EncodeToMemory(block)

		_, err = ConvertPEM(data, "wrong")
		var keyErr *KeyFormatError
		assert.True(t, errors.As(err, &keyErr))

		der, err := ConvertPEM(data, "secret")
		require.NoError(t, err)
		assert.NotEmpty(t, der)
	})
}

func TestConvertPEM_Errors(t *testing.T) {
	tests := []struct {
		name       string
		pem        []byte
		passphrase string
		contains   string
	}{
		{name: "not pem", pem: []byte("hello"), contains: "no PEM block"},
		{name: "wrong block type", pem: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1}}), contains: "unsupported PEM block"},
		{name: "corrupt pkcs8", pem: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1, 2, 3}}), contains: "failed to parse PKCS8"},
		{name: "passphrase on plain key", pem: unencryptedPEM(t), passphrase: "secret", contains: "not encrypted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConvertPEM(tt.pem, tt.passphrase)
			require.Error(t, err)

			var keyErr *KeyFormatError
			require.True(t, errors.As(err, &keyErr))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestNormalizePEM(t *testing.T) {
	escaped := strings.ReplaceAll(string(unencryptedPEM(t)), "\n", `\n`)

	der, err := ConvertPEM([]byte(normalizePEM(escaped)), "")
	require.NoError(t, err)
	assert.NotEmpty(t, der)

	// real newlines are left alone
	assert.Equal(t, "a\nb", normalizePEM("  a\nb\n"))
}

func TestKeySource_String(t *testing.T) {
	assert.Equal(t, "FROM_ENVIRONMENT_VARIABLE", FromEnvironmentVariable.String())
	assert.Equal(t, "FROM_LOCAL_FILE", FromLocalFile.String())
}
