package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName   = "com.tuyable.credentials"
	keyringSecretService = "secret"
	keyringDirectory     = "~/.tuya_ble_keys"
	secretPrefixKeyring  = "keyring:"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

// prompt reads a line from the terminal without echoing it.
func prompt(message string) (string, error) {
	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		} else {
			w = os.Stderr
		}
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", message)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	return string(b), nil
}

func (c *Config) getPassword(message string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}
	password, err := prompt(message)
	if err != nil {
		return "", err
	}
	c.password = &password
	return password, nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	if c.Debug {
		keyring.Debug = true
	}
	return keyring.Open(c.Backend)
}

func secretKey(name string) string {
	return keyringSecretService + "." + name
}

// LoadSecret reads the secret called name from the system keyring.
func (c *Config) LoadSecret(name string) (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(secretKey(name))
	if err != nil {
		return "", fmt.Errorf("could not load secret '%s': %w", name, err)
	}
	return string(item.Data), nil
}

// SaveSecret writes value to the system keyring under name. The secret can then be referenced
// from the configuration file as "keyring:<name>".
func (c *Config) SaveSecret(name, value string) error {
	if value == "" {
		return ErrSecretMissing
	}
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	if err := kr.Set(keyring.Item{
		Key:   secretKey(name),
		Data:  []byte(value),
		Label: "Tuya BLE " + name,
	}); err != nil {
		return fmt.Errorf("failed to enroll secret in keyring: %s", err)
	}
	return nil
}

// DeleteSecret removes the secret called name from the system keyring.
func (c *Config) DeleteSecret(name string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(secretKey(name))
}

// ResolveSecret returns value, or the keyring entry it names if it has the form "keyring:NAME".
func (c *Config) ResolveSecret(value string) (string, error) {
	name, ok := strings.CutPrefix(value, secretPrefixKeyring)
	if !ok {
		return value, nil
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty keyring reference", ErrSecretMissing)
	}
	return c.LoadSecret(name)
}
