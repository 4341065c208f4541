package config

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/youmark/pkcs8"
)

// KeySource tells where PEM text was read from.
type KeySource int

const (
	FromLocalFile KeySource = iota
	FromEnvironmentVariable
)

func (s KeySource) String() string {
	switch s {
	case FromEnvironmentVariable:
		return "FROM_ENVIRONMENT_VARIABLE"
	case FromLocalFile:
		return "FROM_LOCAL_FILE"
	default:
		return "UNKNOWN"
	}
}

// PrivateKeyMaterial is the PEM form of a private key as read from its
// source. It only lives until DER is called.
type PrivateKeyMaterial struct {
	PEM        []byte
	Passphrase string
	Source     KeySource
}

// DER parses the PEM text with the optional passphrase and re-encodes the key
// as unencrypted DER PKCS8, the form the Snowflake driver authenticates with.
func (m *PrivateKeyMaterial) DER() ([]byte, error) {
	key, err := parsePrivateKey(m.PEM, m.Passphrase)
	if err != nil {
		return nil, &KeyFormatError{Source: m.Source, Err: err}
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, &KeyFormatError{Source: m.Source, Err: errors.Wrap(err, "failed to encode key as PKCS8")}
	}
	return der, nil
}

// ConvertPEM is a shorthand for PrivateKeyMaterial{...}.DER().
func ConvertPEM(pemBytes []byte, passphrase string) ([]byte, error) {
	m := &PrivateKeyMaterial{PEM: pemBytes, Passphrase: passphrase}
	return m.DER()
}

func parsePrivateKey(pemBytes []byte, passphrase string) (any, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		if passphrase == "" {
			return nil, errors.New("key is encrypted but no passphrase was given")
		}
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, errors.Wrap(err, "failed to decrypt PKCS8 key")
		}
		return key, nil

	case "PRIVATE KEY":
		if passphrase != "" {
			return nil, errors.New("passphrase given but key is not encrypted")
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse PKCS8 key")
		}
		return key, nil

	case "RSA PRIVATE KEY":
		der := block.Bytes
		//nolint:staticcheck // legacy OpenSSL encryption is still produced by `openssl genrsa -des3`
		if x509.IsEncryptedPEMBlock(block) {
			if passphrase == "" {
				return nil, errors.New("key is encrypted but no passphrase was given")
			}
			var err error
			//nolint:staticcheck
			der, err = x509.DecryptPEMBlock(block, []byte(passphrase))
			if err != nil {
				return nil, errors.Wrap(err, "failed to decrypt PKCS1 key")
			}
		} else if passphrase != "" {
			return nil, errors.New("passphrase given but key is not encrypted")
		}
		key, err := x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse PKCS1 key")
		}
		return key, nil

	default:
		return nil, errors.Errorf("unsupported PEM block type %q", block.Type)
	}
}

// normalizePEM turns CI secrets stored with literal "\n" escapes back into
// multi-line PEM text.
func normalizePEM(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "\n") && strings.Contains(s, `\n`) {
		s = strings.ReplaceAll(s, `\n`, "\n")
	}
	return s
}

func readKeyFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}
	return os.ReadFile(path)
}
