package account

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// AuthType selects which login flow the directory uses for an account.
type AuthType int

const (
	// AuthSmartHome logs in with a Tuya Smart or Smart Life app account linked to a cloud project.
	AuthSmartHome AuthType = 0
	// AuthCustom logs in with a user created through the cloud project's own user management.
	AuthCustom AuthType = 1
)

const (
	AppTuyaSmart = "tuyaSmart"
	AppSmartLife = "smartlife"
)

func (a AuthType) String() string {
	switch a {
	case AuthSmartHome:
		return "smart_home"
	case AuthCustom:
		return "custom"
	}
	return fmt.Sprintf("auth_type(%d)", int(a))
}

// Login is the set of account fields needed to open a directory session.
type Login struct {
	Endpoint     string   `json:"endpoint" yaml:"endpoint"`
	AccessID     string   `json:"access_id" yaml:"access_id"`
	AccessSecret string   `json:"access_secret" yaml:"access_secret"`
	AuthType     AuthType `json:"auth_type" yaml:"auth_type"`
	Username     string   `json:"username" yaml:"username"`
	Password     string   `json:"password" yaml:"password"`
	CountryCode  string   `json:"country_code" yaml:"country_code"`
	AppType      string   `json:"app_type" yaml:"app_type"`
}

// Complete returns true if l contains every field needed to log in. An empty AppType is valid
// and selects the custom login.
func (l *Login) Complete() bool {
	return l.Endpoint != "" &&
		l.AccessID != "" &&
		l.AccessSecret != "" &&
		l.Username != "" &&
		l.Password != "" &&
		l.CountryCode != ""
}

// Fingerprint returns a stable identifier for l. Logins with equal fields have equal
// fingerprints. Fields are hashed in a fixed order, so the result does not depend on how the
// login was decoded, and secrets cannot be recovered from it.
func (l *Login) Fingerprint() string {
	h := sha256.New()
	fields := []string{
		l.Endpoint,
		l.AccessID,
		l.AccessSecret,
		l.AuthType.String(),
		l.Username,
		l.Password,
		l.CountryCode,
		l.AppType,
	}
	var length [4]byte
	for _, field := range fields {
		binary.BigEndian.PutUint32(length[:], uint32(len(field)))
		h.Write(length[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Label returns a non-secret description of the account suitable for logs and errors.
func (l *Login) Label() string {
	host := strings.TrimPrefix(strings.TrimPrefix(l.Endpoint, "https://"), "http://")
	return fmt.Sprintf("%s@%s", l.Username, host)
}

// Session is an authenticated directory session.
type Session struct {
	Endpoint     string    `json:"endpoint"`
	AccessID     string    `json:"access_id"`
	AccessSecret string    `json:"-"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	UID          string    `json:"uid"`
	ExpiresIn    int64     `json:"expires_in"`
	ObtainedAt   time.Time `json:"obtained_at"`
}

// Expired returns true if the directory no longer accepts the session's access token at time now.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return true
	}
	if s.ExpiresIn <= 0 {
		return false
	}
	return now.After(s.ObtainedAt.Add(time.Duration(s.ExpiresIn) * time.Second))
}
