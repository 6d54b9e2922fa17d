package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "smtpq"

// ErrNotFound is returned when no credential is stored under a key.
var ErrNotFound = errors.New("credential not found")

// dirEnv names an encrypted-file keyring directory. When set, only the
// file backend is used.
const dirEnv = "SMTPQ_KEYRING_DIR"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if os.Getenv(dirEnv) != "" {
		backends = []keyring.BackendType{keyring.FileBackend}
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  fileDir(),
		FilePasswordFunc:         keyring.FixedStringPrompt("smtpq-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func fileDir() string {
	if dir := os.Getenv(dirEnv); dir != "" {
		return dir
	}
	return filepath.Join("~", ".config", serviceName, "credentials")
}

// SMTPKey returns the keyring key holding the SMTP password for user.
func SMTPKey(user string) string {
	return "smtp-" + user
}

// IMAPKey returns the keyring key holding the IMAP password for user.
func IMAPKey(user string) string {
	return "imap-" + user
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// Password resolves a password from env first, then the keyring. An empty
// result with a nil error means no password is configured.
func Password(env, key string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	pass, err := Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return pass, err
}
