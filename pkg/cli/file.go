package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tuyable/credential-cache/pkg/account"
	"github.com/tuyable/credential-cache/pkg/cloud"
	"github.com/tuyable/credential-cache/pkg/discovery/mqtt"
)

const (
	DefaultProxyHost    = "localhost"
	DefaultProxyPort    = 4443
	DefaultProxyTimeout = 60 * time.Second
)

// AccountConfig is a cloud account listed in the configuration file. Country may replace
// endpoint and country_code. access_secret and password may be "keyring:NAME" references.
type AccountConfig struct {
	account.Login `yaml:",inline"`
	Country       string `yaml:"country,omitempty"`
}

// ProxyConfig configures the HTTP proxy.
type ProxyConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// JWTSecret verifies bearer tokens. It may be a "keyring:NAME" reference.
	JWTSecret string        `yaml:"jwt_secret"`
	Timeout   time.Duration `yaml:"timeout"`
}

// File is the YAML configuration file.
type File struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Directory cloud.Options   `yaml:"directory"`
	Accounts  []AccountConfig `yaml:"accounts"`
	MQTT      mqtt.Config     `yaml:"mqtt"`
	Proxy     ProxyConfig     `yaml:"proxy"`
}

// DefaultFile returns the configuration used when no file is given.
func DefaultFile() *File {
	var f File
	f.applyDefaults()
	return &f
}

func (f *File) applyDefaults() {
	if f.Directory.CallTimeout == 0 {
		f.Directory.CallTimeout = cloud.DefaultCallTimeout
	}
	if f.Directory.Parallelism == 0 {
		f.Directory.Parallelism = cloud.DefaultParallelism
	}
	if f.MQTT.TopicPrefix == "" {
		f.MQTT.TopicPrefix = mqtt.DefaultTopicPrefix
	}
	if f.Proxy.Host == "" {
		f.Proxy.Host = DefaultProxyHost
	}
	if f.Proxy.Port == 0 {
		f.Proxy.Port = DefaultProxyPort
	}
	if f.Proxy.Timeout == 0 {
		f.Proxy.Timeout = DefaultProxyTimeout
	}
}

// LoadFile reads a YAML configuration file and applies defaults for missing values.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	f.applyDefaults()
	if f.Directory.CallTimeout < 0 {
		return nil, fmt.Errorf("directory.call_timeout must not be negative")
	}
	if f.Directory.Parallelism < 0 {
		return nil, fmt.Errorf("directory.parallelism must not be negative")
	}
	return &f, nil
}
