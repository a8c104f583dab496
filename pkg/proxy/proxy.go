package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/cache"
	"github.com/tuyable/credential-cache/pkg/cloud"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

const (
	DefaultTimeout  = 60 * time.Second
	RequestIDHeader = "X-Request-Id"
)

// Service resolves credentials on behalf of the proxy. [cloud.Manager] implements it.
//
//go:generate mockgen -destination=../../mocks/proxy_service.go -package=mocks -mock_names=Service=ProxyService . Service
type Service interface {
	DeviceCredentials(ctx context.Context, address string, forceUpdate, persist bool) (*credentials.DeviceCredential, error)
	Build(ctx context.Context) (cloud.BuildReport, error)
	Summaries() []cache.EntrySummary
}

var _ Service = (*cloud.Manager)(nil)

type contextKey int

const claimsKey contextKey = 0

// Proxy exposes an HTTP API for resolving device credentials.
type Proxy struct {
	// Timeout bounds the work done for each request.
	Timeout time.Duration

	service Service
	secret  []byte
	router  *mux.Router
}

// New creates an HTTP proxy. Bearer tokens must be signed with secret.
func New(service Service, secret []byte) (*Proxy, error) {
	if service == nil {
		return nil, errors.New("proxy requires a service")
	}
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	p := &Proxy{
		Timeout: DefaultTimeout,
		service: service,
		secret:  secret,
	}

	r := mux.NewRouter()
	withErrorHandlers(r)
	r.HandleFunc("/health", p.handleHealth).Methods(http.MethodGet)

	// Subrouters report their own misses, so they need the JSON handlers as well.
	api := withErrorHandlers(r.PathPrefix("/api/1").Subrouter())
	api.Use(p.authenticate)
	api.HandleFunc("/devices/{address}/credentials", requireScope(ScopeCredentials, p.handleCredentials)).Methods(http.MethodGet)
	api.HandleFunc("/cache/build", requireScope(ScopeCache, p.handleBuild)).Methods(http.MethodPost)
	api.HandleFunc("/cache", requireScope(ScopeCache, p.handleCache)).Methods(http.MethodGet)
	p.router = r
	return p, nil
}

func withErrorHandlers(r *mux.Router) *mux.Router {
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, nil)
	})
	return r
}

// Response contains a server's response to a client request.
type Response struct {
	Response   interface{} `json:"response"`
	Error      string      `json:"error"`
	ErrDetails string      `json:"error_description"`
}

// CredentialResponse is the response to a credentials request.
type CredentialResponse struct {
	Address     string                        `json:"address"`
	Name        string                        `json:"name"`
	Credentials *credentials.DeviceCredential `json:"credentials"`
}

func writeJSON(w http.ResponseWriter, code int, reply *Response) {
	jsonBytes, err := json.Marshal(reply)
	if err != nil {
		log.Error("Error serializing reply: %s", err)
		code = http.StatusInternalServerError
		jsonBytes = []byte("{\"error\": \"internal server error\"}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	jsonBytes = append(jsonBytes, '\n')
	w.Write(jsonBytes)
}

func writeJSONError(w http.ResponseWriter, code int, err error) {
	reply := Response{}
	var notFound *credentials.NotFoundError
	if err == nil {
		reply.Error = http.StatusText(code)
	} else if errors.As(err, &notFound) {
		reply.Error = fmt.Sprintf("%s: %s", credentials.ErrDeviceNotFound, notFound.Address)
		if notFound.Cause != nil {
			reply.ErrDetails = notFound.Cause.Error()
		}
	} else {
		reply.Error = err.Error()
	}
	if code >= http.StatusInternalServerError {
		log.Error("Returning error %s: %s", http.StatusText(code), reply.Error)
	} else {
		log.Debug("Returning error %s: %s", http.StatusText(code), reply.Error)
	}
	writeJSON(w, code, &reply)
}

// statusCode maps a resolution error to an HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, credentials.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, credentials.ErrDeviceNotFound):
		if credentials.Temporary(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusNotFound
	case credentials.Temporary(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)
	log.Info("Received %s request for %s (%s)", req.Method, req.URL.Path, requestID)
	p.router.ServeHTTP(w, req)
}

func (p *Proxy) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, fmt.Errorf("client did not provide a bearer token"))
			return
		}
		claims, err := ParseToken(p.secret, token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, err)
			return
		}
		log.Debug("Authenticated %s", claims.Subject)
		next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), claimsKey, claims)))
	})
}

func requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims, ok := req.Context().Value(claimsKey).(*Claims)
		if !ok || !claims.Allows(scope) {
			writeJSONError(w, http.StatusForbidden, fmt.Errorf("%w '%s'", ErrMissingScope, scope))
			return
		}
		next(w, req)
	}
}

func boolParameter(req *http.Request, name string, defaultValue bool) (bool, error) {
	value := req.URL.Query().Get(name)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid value for '%s': %s", name, value)
	}
	return b, nil
}

func (p *Proxy) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &Response{Response: map[string]string{"status": "ok"}})
}

func (p *Proxy) handleCredentials(w http.ResponseWriter, req *http.Request) {
	raw, err := credentials.AddressBytes(mux.Vars(req)["address"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	address, _ := credentials.NormalizeAddress(raw)

	force, err := boolParameter(req, "force", false)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	persist, err := boolParameter(req, "persist", true)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
	defer cancel()

	log.Debug("Resolving %s (force=%v, persist=%v)", address, force, persist)
	c, err := p.service.DeviceCredentials(ctx, address, force, persist)
	if err != nil {
		writeJSONError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, &Response{Response: &CredentialResponse{
		Address:     address,
		Name:        c.ReadableName(address),
		Credentials: c,
	}})
}

func (p *Proxy) handleBuild(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), p.Timeout)
	defer cancel()

	report, err := p.service.Build(ctx)
	if err != nil {
		writeJSONError(w, statusCode(err), err)
		return
	}
	log.Info("Cache build: %s", report)
	writeJSON(w, http.StatusOK, &Response{Response: report})
}

func (p *Proxy) handleCache(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &Response{Response: struct {
		Entries []cache.EntrySummary `json:"entries"`
	}{p.service.Summaries()}})
}
