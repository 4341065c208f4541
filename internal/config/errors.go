package config

import "fmt"

// ConfigurationError reports a missing or invalid configuration source.
type ConfigurationError struct {
	Variable string
	Reason   string
	Err      error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration error: %s (%s)", e.Reason, e.Variable)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// KeyFormatError reports a private key that could not be parsed or decrypted.
type KeyFormatError struct {
	Source KeySource
	Err    error
}

func (e *KeyFormatError) Error() string {
	return fmt.Sprintf("invalid private key (%s): %v", e.Source, e.Err)
}

func (e *KeyFormatError) Unwrap() error { return e.Err }
