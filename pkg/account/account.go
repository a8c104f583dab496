/*
Package account implements a client for the Tuya IoT OpenAPI, the remote directory that knows which
devices belong to an account and the keys needed to talk to them locally.

A [Client] is stateless apart from its HTTP transport; the [Session] returned by [Client.Login]
carries the account's access token and must be passed to every other call.
*/
package account

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	_ "embed" // Used to embed version for use with user agent
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tuyable/credential-cache/internal/log"
)

var (
	//go:embed version.txt
	libraryVersion string
)

// MaxResponseLength is the largest response body the client will read.
const MaxResponseLength = 1000000

const (
	smartHomeLoginPath = "/v1.0/iot-01/associated-users/actions/authorized-login"
	customLoginPath    = "/v1.0/iot-03/users/login"
	factoryInfoPath    = "/v1.0/iot-03/devices/factory-infos"
)

func buildUserAgent(app string) string {
	library := strings.TrimSpace("tuya-ble-creds/" + libraryVersion)
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return library
	}
	path := strings.Split(build.Path, "/")
	if len(path) == 0 {
		return library
	}

	if app == "" {
		app = path[len(path)-1]
		var version string
		if build.Main.Version != "(devel)" && build.Main.Version != "" {
			version = build.Main.Version
		} else {
			for _, info := range build.Settings {
				if info.Key == "vcs.revision" {
					if len(info.Value) > 8 {
						version = info.Value[0:8]
					}
					break
				}
			}
		}

		if version != "" {
			app = fmt.Sprintf("%s/%s", app, version)
		}
	}

	return fmt.Sprintf("%s %s", app, library)
}

// Device is a device registered to an account.
type Device struct {
	ID          string `json:"id"`
	UUID        string `json:"uuid"`
	LocalKey    string `json:"local_key"`
	Category    string `json:"category"`
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Model       string `json:"model"`
	ProductName string `json:"product_name"`
}

// FactoryInfo holds manufacturing data for a device, including its hardware address.
type FactoryInfo struct {
	ID   string `json:"id"`
	UUID string `json:"uuid"`
	SN   string `json:"sn"`
	// MAC is the hardware address as 12 hex digits.
	MAC string `json:"mac"`
}

// Capability is a function or status datapoint from a device specification.
type Capability struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"desc"`
	Type        string `json:"type"`
	Values      string `json:"values"`
}

// Specification describes the datapoints a device supports.
type Specification struct {
	Category  string       `json:"category"`
	Functions []Capability `json:"functions"`
	Status    []Capability `json:"status"`
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
}

type tokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireTime   int64  `json:"expire_time"`
	UID          string `json:"uid"`
}

// Client sends requests to the directory.
type Client struct {
	// The default UserAgent is constructed from the global UserAgent, but can be overridden.
	UserAgent string
	// Lang is sent with every request and controls the language of names and error messages.
	Lang   string
	client http.Client
	now    func() time.Time
}

// NewClient returns a Client. Optional userAgent can be passed in - otherwise it will be
// generated from code.
func NewClient(userAgent string) *Client {
	return &Client{
		UserAgent: buildUserAgent(userAgent),
		Lang:      "en",
		now:       time.Now,
	}
}

// SetTimeout bounds every HTTP exchange. Zero disables the limit; callers normally rely on
// context deadlines instead.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

type request struct {
	method       string
	endpoint     string
	path         string
	query        url.Values
	body         interface{}
	accessID     string
	accessSecret string
	accessToken  string
}

func (c *Client) do(ctx context.Context, r *request, result interface{}) error {
	var body []byte
	if r.body != nil {
		var err error
		if body, err = json.Marshal(r.body); err != nil {
			return err
		}
	}

	target := strings.TrimSuffix(r.endpoint, "/") + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error constructing request to %s: %w", r.path, err)
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := uuid.NewString()
	canonical := stringToSign(r.method, r.path, r.query, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("client_id", r.accessID)
	req.Header.Set("t", timestamp)
	req.Header.Set("nonce", nonce)
	req.Header.Set("sign_method", signMethod)
	req.Header.Set("sign", sign(r.accessID, r.accessSecret, r.accessToken, timestamp, nonce, canonical))
	req.Header.Set("lang", c.Lang)
	if r.accessToken != "" {
		req.Header.Set("access_token", r.accessToken)
	}

	log.Debug("Requesting %s %s...", r.method, r.path)
	response, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", r.path, err)
	}
	defer response.Body.Close()

	reader := io.LimitedReader{R: response.Body, N: MaxResponseLength + 1}
	payload, err := io.ReadAll(&reader)
	if err != nil {
		return err
	}
	if len(payload) > MaxResponseLength {
		return fmt.Errorf("response to %s exceeds maximum length", r.path)
	}
	if response.StatusCode != http.StatusOK {
		return &HTTPError{Code: response.StatusCode, Message: response.Status}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("invalid response to %s: %w", r.path, err)
	}
	if !env.Success {
		log.Debug("Directory rejected %s: %d %s", r.path, env.Code, env.Message)
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("invalid result from %s: %w", r.path, err)
	}
	return nil
}

func (c *Client) sessionRequest(s *Session, method, path string, query url.Values) *request {
	return &request{
		method:       method,
		endpoint:     s.Endpoint,
		path:         path,
		query:        query,
		accessID:     s.AccessID,
		accessSecret: s.AccessSecret,
		accessToken:  s.AccessToken,
	}
}

func hashPassword(password string, authType AuthType) string {
	if authType == AuthCustom {
		digest := sha256.Sum256([]byte(password))
		return hex.EncodeToString(digest[:])
	}
	digest := md5.Sum([]byte(password))
	return hex.EncodeToString(digest[:])
}

// Login opens a session for login.
func (c *Client) Login(ctx context.Context, login Login) (*Session, error) {
	if !login.Complete() {
		return nil, fmt.Errorf("login for %s is incomplete", login.Label())
	}
	r := &request{
		method:       http.MethodPost,
		endpoint:     login.Endpoint,
		accessID:     login.AccessID,
		accessSecret: login.AccessSecret,
	}
	password := hashPassword(login.Password, login.AuthType)
	if login.AuthType == AuthCustom {
		r.path = customLoginPath
		r.body = map[string]string{
			"username": login.Username,
			"password": password,
		}
	} else {
		r.path = smartHomeLoginPath
		r.body = map[string]string{
			"username":     login.Username,
			"password":     password,
			"country_code": login.CountryCode,
			"schema":       login.AppType,
		}
	}

	var token tokenResult
	if err := c.do(ctx, r, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("directory returned no access token for %s", login.Label())
	}
	log.Info("Logged in to %s", login.Label())
	return &Session{
		Endpoint:     login.Endpoint,
		AccessID:     login.AccessID,
		AccessSecret: login.AccessSecret,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		UID:          token.UID,
		ExpiresIn:    token.ExpireTime,
		ObtainedAt:   c.now(),
	}, nil
}

// ListDevices returns the devices registered to the session's user.
func (c *Client) ListDevices(ctx context.Context, s *Session) ([]Device, error) {
	var devices []Device
	path := fmt.Sprintf("/v1.0/users/%s/devices", url.PathEscape(s.UID))
	if err := c.do(ctx, c.sessionRequest(s, http.MethodGet, path, nil), &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// FactoryInfo returns manufacturing data for deviceID.
func (c *Client) FactoryInfo(ctx context.Context, s *Session, deviceID string) (*FactoryInfo, error) {
	var infos []FactoryInfo
	query := url.Values{"device_ids": []string{deviceID}}
	if err := c.do(ctx, c.sessionRequest(s, http.MethodGet, factoryInfoPath, query), &infos); err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].ID == deviceID {
			return &infos[i], nil
		}
	}
	if len(infos) == 1 && infos[0].ID == "" {
		return &infos[0], nil
	}
	return nil, fmt.Errorf("no factory info for device %s", deviceID)
}

// Specification returns the datapoints supported by deviceID.
func (c *Client) Specification(ctx context.Context, s *Session, deviceID string) (*Specification, error) {
	var spec Specification
	path := fmt.Sprintf("/v1.1/devices/%s/specifications", url.PathEscape(deviceID))
	if err := c.do(ctx, c.sessionRequest(s, http.MethodGet, path, nil), &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}
