/*
Package cli facilitates building command-line applications that resolve Tuya BLE device
credentials. It defines a [Config] type that can be used to register common command-line flags
(using the Golang flag package) and environment variable equivalents, load the YAML configuration
file, and open the local store.

The package uses [keyring]'s platform-agnostic interface for storing sensitive values (account
access secrets and passwords) in an OS-dependent credential store. Secrets in the configuration file
may reference keyring entries as "keyring:NAME".

# Examples

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for the store, account, etc.
	flag.Parse()
	config.ReadFromEnvironment() // Fills in missing fields using environment variables
	if err := config.LoadFile(); err != nil {
		panic(err)
	}
	defer config.Close()

	manager, err := config.Manager()
	if err != nil {
		panic(err)
	}
	creds, err := manager.DeviceCredentials(ctx, "DC:23:4D:00:11:22", false, true)
*/
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/account"
	"github.com/tuyable/credential-cache/pkg/cache"
	"github.com/tuyable/credential-cache/pkg/cloud"
	"github.com/tuyable/credential-cache/pkg/store"
)

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvConfigFile   = "TUYA_BLE_CONFIG"
	EnvStorePath    = "TUYA_BLE_STORE"
	EnvCountry      = "TUYA_BLE_COUNTRY"
	EnvAccessID     = "TUYA_BLE_ACCESS_ID"
	EnvAccessSecret = "TUYA_BLE_ACCESS_SECRET"
	EnvUsername     = "TUYA_BLE_USERNAME"
	EnvPassword     = "TUYA_BLE_PASSWORD"
	EnvBtAdapter    = "TUYA_BLE_BT_ADAPTER"
	EnvKeyringType  = "TUYA_BLE_KEYRING_TYPE"
	EnvKeyringPass  = "TUYA_BLE_KEYRING_PASSWORD"
	EnvKeyringPath  = "TUYA_BLE_KEYRING_PATH"
	EnvKeyringDebug = "TUYA_BLE_KEYRING_DEBUG"
)

const (
	defaultStoreFile = "store.db"
	defaultStoreDir  = "tuya-ble-creds"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagStore   Flag = 1 // Enable configuration file and store options.
	FlagAccount Flag = 2 // Enable cloud account options, used when adding an account.
	FlagBLE     Flag = 4 // Enable Bluetooth adapter options.
	FlagKeyring Flag = 8 // Enable keyring options.
	FlagAll     Flag = FlagStore | FlagAccount | FlagBLE | FlagKeyring
)

var (
	ErrNoAccount     = errors.New("account details not provided (country, access ID and username are required)")
	ErrKeyNotFound   = keyring.ErrKeyNotFound
	ErrNoStore       = errors.New("store is not enabled for this configuration")
	ErrSecretMissing = errors.New("secret not provided")
)

// Config fields determine where credentials are stored and how a client logs in to the directory.
type Config struct {
	Flags          Flag // Controls which set of environment variables/CLI flags to use.
	ConfigFilename string
	StorePath      string
	Country        string
	AccessID       string
	Username       string
	BtAdapterID    string
	Backend        keyring.Config
	BackendType    backendType
	Debug          bool // Enable keyring debug messages

	// File is the loaded configuration file. It is populated with defaults if no file is used.
	File *File

	password     *string // keyring password
	accessSecret string
	userPassword string
	store        *store.BoltStore
	manager      *cloud.Manager
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	if c.Flags.isSet(FlagStore) {
		flag.StringVar(&c.ConfigFilename, "config", "", "Load configuration from YAML `file`. Defaults to $TUYA_BLE_CONFIG.")
		flag.StringVar(&c.StorePath, "store", "", "Credential store `file`. Defaults to $TUYA_BLE_STORE.")
	}
	if c.Flags.isSet(FlagAccount) {
		flag.StringVar(&c.Country, "country", "", "`Country` of the Tuya account, e.g. Germany. Defaults to $TUYA_BLE_COUNTRY.")
		flag.StringVar(&c.AccessID, "access-id", "", "Cloud project access `ID`. Defaults to $TUYA_BLE_ACCESS_ID.")
		flag.StringVar(&c.Username, "username", "", "Account `username`. Defaults to $TUYA_BLE_USERNAME.")
	}
	if c.Flags.isSet(FlagKeyring) {
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		flag.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $TUYA_BLE_KEYRING_TYPE.")
		flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		flag.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
	c.registerCommandLineFlagsOsSpecific()
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	if c.Flags.isSet(FlagStore) {
		if c.ConfigFilename == "" {
			c.ConfigFilename = os.Getenv(EnvConfigFile)
			log.Debug("Set configuration file to '%s'", c.ConfigFilename)
		}
		if c.StorePath == "" {
			c.StorePath = os.Getenv(EnvStorePath)
			log.Debug("Set store to '%s'", c.StorePath)
		}
	}
	if c.Flags.isSet(FlagAccount) {
		if c.Country == "" {
			c.Country = os.Getenv(EnvCountry)
			log.Debug("Set country to '%s'", c.Country)
		}
		if c.AccessID == "" {
			c.AccessID = os.Getenv(EnvAccessID)
			log.Debug("Set access ID to '%s'", c.AccessID)
		}
		if c.Username == "" {
			c.Username = os.Getenv(EnvUsername)
			log.Debug("Set username to '%s'", c.Username)
		}
		if c.accessSecret == "" {
			c.accessSecret = os.Getenv(EnvAccessSecret)
		}
		if c.userPassword == "" {
			c.userPassword = os.Getenv(EnvPassword)
		}
	}
	if c.Flags.isSet(FlagBLE) && c.BtAdapterID == "" {
		c.BtAdapterID = os.Getenv(EnvBtAdapter)
	}
	if c.Flags.isSet(FlagKeyring) {
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Backend.FileDir == "" {
			c.Backend.FileDir = os.Getenv(EnvKeyringPath)
			log.Debug("Set keyring File Path to '%s'", c.Backend.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
}

// DefaultStorePath returns the store location used when none is configured.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return defaultStoreDir + ".db"
	}
	return filepath.Join(dir, defaultStoreDir, defaultStoreFile)
}

// LoadFile reads c.ConfigFilename, if set, into c.File and applies its log level. The store
// location is taken from the command line or environment, then the file, then
// [DefaultStorePath].
func (c *Config) LoadFile() error {
	if c.ConfigFilename == "" {
		c.File = DefaultFile()
	} else {
		file, err := LoadFile(c.ConfigFilename)
		if err != nil {
			return err
		}
		c.File = file
	}
	if c.File.Log.Level != "" {
		level, err := log.ParseLevel(c.File.Log.Level)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}
	if c.StorePath == "" {
		c.StorePath = c.File.Store.Path
	}
	if c.StorePath == "" {
		c.StorePath = DefaultStorePath()
	}
	return nil
}

func (c *Config) file() *File {
	if c.File == nil {
		c.File = DefaultFile()
	}
	return c.File
}

// OpenStore opens the credential store, creating it if needed. The store is opened once and
// shared by later calls; release it with [Config.Close].
func (c *Config) OpenStore() (*store.BoltStore, error) {
	if c.store != nil {
		return c.store, nil
	}
	if !c.Flags.isSet(FlagStore) {
		return nil, ErrNoStore
	}
	path := c.StorePath
	if path == "" {
		path = DefaultStorePath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	log.Debug("Opening store %s...", path)
	s, err := store.NewBoltStore(path)
	if err != nil {
		return nil, err
	}
	c.store = s
	return s, nil
}

// Accounts returns the accounts listed in the configuration file with secrets resolved.
func (c *Config) Accounts() ([]cloud.LocalConfig, error) {
	logins, err := c.fileLogins()
	if err != nil {
		return nil, err
	}
	var contexts []cloud.LocalConfig
	for i, login := range logins {
		if login, err = c.resolveLogin(login); err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		contexts = append(contexts, cloud.LocalConfig{Login: login})
	}
	return contexts, nil
}

// fileLogins returns the configuration file's accounts with country names expanded. Secrets are
// left as written.
func (c *Config) fileLogins() ([]account.Login, error) {
	var logins []account.Login
	for i, a := range c.file().Accounts {
		login := a.Login
		if a.Country != "" && (login.Endpoint == "" || login.CountryCode == "") {
			country, ok := account.CountryByName(a.Country)
			if !ok {
				return nil, fmt.Errorf("accounts[%d]: %w", i, &cloud.ErrUnknownCountry{Country: a.Country})
			}
			if login.Endpoint == "" {
				login.Endpoint = country.Endpoint
			}
			if login.CountryCode == "" {
				login.CountryCode = country.CountryCode
			}
		}
		logins = append(logins, login)
	}
	return logins, nil
}

// resolveLogin replaces keyring references in login's secrets.
func (c *Config) resolveLogin(login account.Login) (account.Login, error) {
	var err error
	if login.AccessSecret, err = c.ResolveSecret(login.AccessSecret); err != nil {
		return account.Login{}, err
	}
	if login.Password, err = c.ResolveSecret(login.Password); err != nil {
		return account.Login{}, err
	}
	return login, nil
}

// Store returns the credential store together with the accounts from the configuration file.
// Accounts from the file come first in [cloud.Store.Contexts].
func (c *Config) Store() (cloud.Store, error) {
	s, err := c.OpenStore()
	if err != nil {
		return nil, err
	}
	accounts, err := c.fileLogins()
	if err != nil {
		return nil, err
	}
	return &configStore{BoltStore: s, accounts: accounts, resolve: c.resolveLogin}, nil
}

// Manager returns a [cloud.Manager] using the Tuya OpenAPI directory, a new session cache and
// [Config.Store]. The Manager is created once.
func (c *Config) Manager() (*cloud.Manager, error) {
	if c.manager != nil {
		return c.manager, nil
	}
	s, err := c.Store()
	if err != nil {
		return nil, err
	}
	client := account.NewClient("")
	resolver, err := cloud.NewResolver(client, cache.New(), c.file().Directory)
	if err != nil {
		return nil, err
	}
	c.manager, err = cloud.NewManager(resolver, s)
	return c.manager, err
}

// LoginInput assembles the account details for adding an account, prompting for the access secret
// and password if they were not provided through the environment.
func (c *Config) LoginInput() (cloud.LoginInput, error) {
	if c.Country == "" || c.AccessID == "" || c.Username == "" {
		return cloud.LoginInput{}, ErrNoAccount
	}
	var err error
	if c.accessSecret == "" {
		if c.accessSecret, err = prompt("Access secret"); err != nil {
			return cloud.LoginInput{}, err
		}
	}
	if c.userPassword == "" {
		if c.userPassword, err = prompt("Password for " + c.Username); err != nil {
			return cloud.LoginInput{}, err
		}
	}
	return cloud.LoginInput{
		Country:      c.Country,
		AccessID:     c.AccessID,
		AccessSecret: c.accessSecret,
		Username:     c.Username,
		Password:     c.userPassword,
	}, nil
}

// SaveAccount stores login in the credential store. If secretName is not empty, the access secret
// and password are saved to the keyring and the store only keeps "keyring:" references to them.
func (c *Config) SaveAccount(login account.Login, secretName string) error {
	s, err := c.OpenStore()
	if err != nil {
		return err
	}
	if secretName != "" {
		secretKey, passwordKey := secretName+".access_secret", secretName+".password"
		if err := c.SaveSecret(secretKey, login.AccessSecret); err != nil {
			return err
		}
		if err := c.SaveSecret(passwordKey, login.Password); err != nil {
			return err
		}
		login.AccessSecret = secretPrefixKeyring + secretKey
		login.Password = secretPrefixKeyring + passwordKey
		log.Info("Saved secrets for %s to keyring as '%s'", login.Label(), secretName)
	}
	return s.SaveAccount(cloud.LocalConfig{Login: login})
}

// Close releases the store.
func (c *Config) Close() error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	c.manager = nil
	return err
}

// configStore adds the configuration file's accounts to a BoltStore and resolves keyring
// references in saved logins. Logins read with references are saved back with them.
type configStore struct {
	*store.BoltStore
	accounts []account.Login
	resolve  func(account.Login) (account.Login, error)

	lock sync.Mutex
	refs map[cache.Fingerprint]account.Login
}

func (s *configStore) resolveLogin(login account.Login) (account.Login, error) {
	resolved, err := s.resolve(login)
	if err != nil {
		return account.Login{}, err
	}
	if resolved != login {
		s.lock.Lock()
		if s.refs == nil {
			s.refs = make(map[cache.Fingerprint]account.Login)
		}
		s.refs[cache.FingerprintOf(resolved)] = login
		s.lock.Unlock()
	}
	return resolved, nil
}

func (s *configStore) Contexts(ctx context.Context) ([]cloud.LocalConfig, error) {
	saved, err := s.BoltStore.Contexts(ctx)
	if err != nil {
		return nil, err
	}
	var contexts []cloud.LocalConfig
	for _, login := range s.accounts {
		resolved, err := s.resolveLogin(login)
		if err != nil {
			log.Warning("Skipping %s: %s", login.Label(), err)
			continue
		}
		contexts = append(contexts, cloud.LocalConfig{Login: resolved})
	}
	for _, local := range saved {
		login, err := s.resolveLogin(local.Login)
		if err != nil {
			log.Warning("Skipping %s: %s", local.Login.Label(), err)
			continue
		}
		local.Login = login
		contexts = append(contexts, local)
	}
	return contexts, nil
}

func (s *configStore) Device(ctx context.Context, address string) (cloud.LocalConfig, bool, error) {
	local, found, err := s.BoltStore.Device(ctx, address)
	if err != nil || !found {
		return local, found, err
	}
	local.Login, err = s.resolveLogin(local.Login)
	return local, found, err
}

func (s *configStore) SaveDevice(ctx context.Context, local cloud.LocalConfig) error {
	s.lock.Lock()
	if login, ok := s.refs[cache.FingerprintOf(local.Login)]; ok {
		local.Login = login
	}
	s.lock.Unlock()
	return s.BoltStore.SaveDevice(ctx, local)
}
