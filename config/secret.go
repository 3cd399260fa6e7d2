package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sethvargo/go-password/password"
)

const secretLength = 50

// EnsureSecret loads the path-hashing secret from path, generating and
// persisting one on first run. An empty result is impossible: failure to
// read or create the secret is a fatal configuration error.
func EnsureSecret(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("secret file path not set")
	}

	buf, err := os.ReadFile(path)
	if err == nil {
		secret := strings.TrimSpace(string(buf))
		if secret == "" {
			return "", fmt.Errorf("secret file %s is empty", path)
		}
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read secret file: %w", err)
	}

	secret, err := password.Generate(secretLength, 10, 10, false, true)
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create secret dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return "", fmt.Errorf("persist secret: %w", err)
	}
	return secret, nil
}
