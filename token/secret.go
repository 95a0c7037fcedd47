package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

const (
	SecretEnvVar = "IDBOX_TOKEN_SECRET"
)

// SecretFromEnv reads a base64 signing secret from varname and clears the
// variable so it does not leak to child processes.
func SecretFromEnv(varname string, getfn func(string) string, setfn func(string, string) error) ([]byte, error) {
	if getfn == nil {
		getfn = os.Getenv
	}
	if setfn == nil {
		setfn = os.Setenv
	}
	val := getfn(varname)
	setfn(varname, "")
	if val == "" {
		return nil, fmt.Errorf("token: environment variable %v is empty", varname)
	}
	secret, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return nil, fmt.Errorf("token: cannot decode secret from %v, cause %v", varname, err)
	} else if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("token: decoded secret too short got %v expecting at least %v bytes", len(secret), MinSecretBytes)
	}
	return secret, nil
}

// GenerateSecret returns a new random secret encoded as base64.
func GenerateSecret() (string, error) {
	buf := make([]byte, MinSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: unable to generate secret, cause %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
