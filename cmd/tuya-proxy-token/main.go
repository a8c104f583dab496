// Utility for creating the proxy's token secret and issuing bearer tokens

package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/cli"
	"github.com/tuyable/credential-cache/pkg/proxy"
)

const (
	defaultSecretName = "proxy.jwt_secret"
	secretLength      = 32
	envSecret         = "TUYA_CREDS_PROXY_JWT_SECRET"
)

var ErrUnknownScope = errors.New("unknown scope")

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Creates the secret used by tuya-creds-proxy to verify bearer tokens, and issues or verifies tokens.

  create               Generate a secret and save it in the system keyring. Prints the reference
                       to use as proxy.jwt_secret. Existing secrets are kept unless invoked with -f.
  sign SUBJECT SCOPE...
                       Print a token for SUBJECT granting the given scopes (credentials, cache).
  verify [TOKEN_FILE]  Verify a token read from TOKEN_FILE or stdin and print its claims.

The secret used by sign and verify is taken from -secret, $TUYA_CREDS_PROXY_JWT_SECRET, or the keyring
entry named by -secret-name, in that order. -secret and the environment variable may themselves be
"keyring:NAME" references.`

func cliUsage() {
	usage(flag.CommandLine.Output())
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [OPTION...] create|sign|verify\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

func readStdinOrFile(filenamePosition int) ([]byte, error) {
	if flag.NArg() <= filenamePosition {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(flag.Arg(filenamePosition))
}

// generateSecret returns a random secret suitable for HS256.
func generateSecret() (string, error) {
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// checkScopes rejects scopes the proxy does not know.
func checkScopes(scopes []string) error {
	if len(scopes) == 0 {
		return fmt.Errorf("%w: at least one scope is required", ErrUnknownScope)
	}
	for _, scope := range scopes {
		if scope != proxy.ScopeCredentials && scope != proxy.ScopeCache {
			return fmt.Errorf("%w: '%s'", ErrUnknownScope, scope)
		}
	}
	return nil
}

func loadSecret(config *cli.Config, value, name string) (string, error) {
	if value == "" {
		value = os.Getenv(envSecret)
	}
	if value != "" {
		return config.ResolveSecret(value)
	}
	return config.LoadSecret(name)
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		overwrite  bool
		debug      bool
		secretName string
		secret     string
		ttl        time.Duration
	)
	flag.Usage = cliUsage
	flag.BoolVar(&overwrite, "f", false, "Overwrite existing secret when using 'create'")
	flag.BoolVar(&debug, "debug", false, "Enable debugging of keyring")
	flag.StringVar(&secretName, "secret-name", defaultSecretName, "Keyring `name` of the token secret")
	flag.StringVar(&secret, "secret", "", "Token secret, or a keyring:NAME reference")
	flag.DurationVar(&ttl, "ttl", 365*24*time.Hour, "Token lifetime when using 'sign'. Zero issues tokens that do not expire.")

	config, err := cli.NewConfig(cli.FlagKeyring)
	if err != nil {
		writeErr("Failed to load configuration: %s", err)
		return
	}
	config.RegisterCommandLineFlags()
	flag.Parse()
	if debug {
		log.SetLevel(log.LevelDebug)
	}
	config.ReadFromEnvironment()

	if flag.NArg() == 0 {
		writeErr("Missing command (create/sign/verify)")
		return
	}

	switch flag.Arg(0) {
	case "create":
		if !overwrite {
			if _, err := config.LoadSecret(secretName); err == nil {
				writeErr("Secret '%s' already exists. Use -f to overwrite it.", secretName)
				return
			} else if !errors.Is(err, cli.ErrKeyNotFound) {
				writeErr("Error checking keyring: %s", err)
				return
			}
		}
		value, err := generateSecret()
		if err != nil {
			writeErr("Failed to generate secret: %s", err)
			return
		}
		if err := config.SaveSecret(secretName, value); err != nil {
			writeErr("Failed to save secret: %s", err)
			return
		}
		fmt.Printf("keyring:%s\n", secretName)
	case "sign":
		if flag.NArg() < 2 {
			writeErr("Missing SUBJECT")
			return
		}
		scopes := flag.Args()[2:]
		if err := checkScopes(scopes); err != nil {
			writeErr("%s", err)
			return
		}
		value, err := loadSecret(config, secret, secretName)
		if err != nil {
			writeErr("Failed to load secret: %s", err)
			return
		}
		token, err := proxy.NewToken([]byte(value), flag.Arg(1), ttl, scopes...)
		if err != nil {
			writeErr("Failed to create token: %s", err)
			return
		}
		fmt.Println(token)
	case "verify":
		tokenBytes, err := readStdinOrFile(1)
		if err != nil {
			writeErr("Failed to read token: %s", err)
			return
		}
		value, err := loadSecret(config, secret, secretName)
		if err != nil {
			writeErr("Failed to load secret: %s", err)
			return
		}
		claims, err := proxy.ParseToken([]byte(value), strings.TrimSpace(string(tokenBytes)))
		if err != nil {
			writeErr("Invalid token: %s", err)
			return
		}
		encoded, err := json.Marshal(claims)
		if err != nil {
			writeErr("Failed to encode claims as JSON: %s", err)
			return
		}
		fmt.Printf("%s\n", encoded)
	default:
		writeErr("Unrecognized command: %s", flag.Arg(0))
		return
	}
	status = 0
}
