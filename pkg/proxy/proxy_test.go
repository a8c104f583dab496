package proxy_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/tuyable/credential-cache/mocks"
	"github.com/tuyable/credential-cache/pkg/cache"
	"github.com/tuyable/credential-cache/pkg/cloud"
	"github.com/tuyable/credential-cache/pkg/credentials"
	"github.com/tuyable/credential-cache/pkg/proxy"
)

const address = "DC:23:4D:00:00:0A"

var secret = []byte("0123456789abcdef0123456789abcdef")

func mustToken(secret []byte, scopes ...string) string {
	token, err := proxy.NewToken(secret, "tester", time.Hour, scopes...)
	Expect(err).NotTo(HaveOccurred())
	return "Bearer " + token
}

func decode(rr *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	Expect(json.Unmarshal(rr.Body.Bytes(), &body)).To(Succeed())
	return body
}

var _ = Describe("Proxy", func() {
	var (
		ctrl    *gomock.Controller
		service *mocks.ProxyService
		p       *proxy.Proxy
		token   string
	)

	sendRequest := func(method, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", token)
		}
		rr := httptest.NewRecorder()
		p.ServeHTTP(rr, req)
		return rr
	}

	BeforeEach(func() {
		var err error
		ctrl = gomock.NewController(GinkgoT())
		service = mocks.NewProxyService(ctrl)
		p, err = proxy.New(service, secret)
		Expect(err).NotTo(HaveOccurred())
		token = mustToken(secret, proxy.ScopeCredentials, proxy.ScopeCache)
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	Context("construction", func() {
		It("rejects short secrets", func() {
			_, err := proxy.New(service, []byte("short"))
			Expect(err).To(MatchError(proxy.ErrSecretTooShort))
		})

		It("requires a service", func() {
			_, err := proxy.New(nil, secret)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("health", func() {
		It("does not require a token", func() {
			rr := sendRequest(http.MethodGet, "/health", "")
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{"response":{"status":"ok"},"error":"","error_description":""}`))
		})

		It("sets a request ID", func() {
			rr := sendRequest(http.MethodGet, "/health", "")
			Expect(rr.Header().Get(proxy.RequestIDHeader)).NotTo(BeEmpty())
		})

		It("echoes the client's request ID", func() {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set(proxy.RequestIDHeader, "abc-123")
			rr := httptest.NewRecorder()
			p.ServeHTTP(rr, req)
			Expect(rr.Header().Get(proxy.RequestIDHeader)).To(Equal("abc-123"))
		})
	})

	Context("authentication", func() {
		It("requires a bearer token", func() {
			rr := sendRequest(http.MethodGet, "/api/1/cache", "")
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects tokens signed with another secret", func() {
			rr := sendRequest(http.MethodGet, "/api/1/cache", mustToken([]byte("fedcba9876543210fedcba9876543210"), proxy.ScopeCache))
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects expired tokens", func() {
			claims := proxy.Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Audience:  jwt.ClaimStrings{proxy.Audience},
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
				},
				Scope: proxy.ScopeCache,
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
			Expect(err).NotTo(HaveOccurred())
			rr := sendRequest(http.MethodGet, "/api/1/cache", "Bearer "+signed)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("rejects tokens for another audience", func() {
			claims := jwt.RegisteredClaims{Audience: jwt.ClaimStrings{"someone-else"}}
			signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
			rr := sendRequest(http.MethodGet, "/api/1/cache", "Bearer "+signed)
			Expect(rr.Code).To(Equal(http.StatusUnauthorized))
		})

		It("enforces scopes", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/credentials", mustToken(secret, proxy.ScopeCache))
			Expect(rr.Code).To(Equal(http.StatusForbidden))
			Expect(decode(rr)["error"]).To(ContainSubstring("credentials"))
		})
	})

	Context("credentials", func() {
		It("returns the resolved credential", func() {
			c := credentials.CheckAndCreate("uuid", "key", "device", "szjqr", "prod",
				credentials.WithNames("Fingerbot", "FB-1", "Fingerbot Plus"))
			service.EXPECT().DeviceCredentials(gomock.Any(), address, false, true).Return(c, nil)

			rr := sendRequest(http.MethodGet, "/api/1/devices/dc-23-4d-00-00-0a/credentials", token)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Header().Get("Content-Type")).To(Equal("application/json"))

			var reply struct {
				Response proxy.CredentialResponse `json:"response"`
			}
			Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.Response.Address).To(Equal(address))
			Expect(reply.Response.Name).To(Equal("Fingerbot"))
			Expect(reply.Response.Credentials).To(Equal(c))
		})

		It("passes force and persist through", func() {
			c := credentials.CheckAndCreate("uuid", "key", "device", "szjqr", "prod")
			service.EXPECT().DeviceCredentials(gomock.Any(), address, true, false).Return(c, nil)
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/credentials?force=true&persist=false", token)
			Expect(rr.Code).To(Equal(http.StatusOK))
		})

		It("rejects invalid parameters", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/credentials?force=maybe", token)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects invalid addresses", func() {
			rr := sendRequest(http.MethodGet, "/api/1/devices/not-an-address/credentials", token)
			Expect(rr.Code).To(Equal(http.StatusBadRequest))
		})

		It("reports unknown devices", func() {
			service.EXPECT().DeviceCredentials(gomock.Any(), address, false, true).Return(nil, credentials.NotFound(address, nil))
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/credentials", token)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			body := decode(rr)
			Expect(body["error"]).To(Equal("device credentials not found: " + address))
			Expect(body["error_description"]).To(BeEmpty())
		})

		It("reports login failures as details", func() {
			cause := &credentials.LoginError{Account: "alice@openapi.tuyaeu.com", Err: errors.New("permission deny")}
			service.EXPECT().DeviceCredentials(gomock.Any(), address, false, true).Return(nil, credentials.NotFound(address, cause))
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/credentials", token)
			Expect(rr.Code).To(Equal(http.StatusNotFound))
			Expect(decode(rr)["error_description"]).To(ContainSubstring("permission deny"))
		})

		It("reports temporary failures as unavailable", func() {
			cause := &credentials.LoginError{Account: "alice@openapi.tuyaeu.com", Err: credentials.NewError("directory unavailable", true)}
			service.EXPECT().DeviceCredentials(gomock.Any(), address, false, true).Return(nil, credentials.NotFound(address, cause))
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/credentials", token)
			Expect(rr.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("applies the timeout", func() {
			p.Timeout = 10 * time.Millisecond
			service.EXPECT().DeviceCredentials(gomock.Any(), address, false, true).DoAndReturn(
				func(ctx context.Context, _ string, _, _ bool) (*credentials.DeviceCredential, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				})
			rr := sendRequest(http.MethodGet, "/api/1/devices/"+address+"/credentials", token)
			Expect(rr.Code).To(Equal(http.StatusGatewayTimeout))
		})

		It("only accepts GET", func() {
			rr := sendRequest(http.MethodPost, "/api/1/devices/"+address+"/credentials", token)
			Expect(rr.Code).To(Equal(http.StatusMethodNotAllowed))
			Expect(decode(rr)["error"]).To(Equal("Method Not Allowed"))

			rr = sendRequest(http.MethodGet, "/api/1/cache/build", token)
			Expect(rr.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Context("cache", func() {
		It("builds the cache", func() {
			service.EXPECT().Build(gomock.Any()).Return(cloud.BuildReport{Contexts: 2, LoggedIn: 2, Devices: 3}, nil)
			rr := sendRequest(http.MethodPost, "/api/1/cache/build", token)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).To(MatchJSON(`{
				"response": {"contexts": 2, "skipped": 0, "logged_in": 2, "login_failures": 0, "devices": 3, "device_failures": 0},
				"error": "",
				"error_description": ""
			}`))
		})

		It("reports build failures", func() {
			service.EXPECT().Build(gomock.Any()).Return(cloud.BuildReport{}, errors.New("store is closed"))
			rr := sendRequest(http.MethodPost, "/api/1/cache/build", token)
			Expect(rr.Code).To(Equal(http.StatusInternalServerError))
			Expect(decode(rr)["error"]).To(Equal("store is closed"))
		})

		It("describes the cache", func() {
			service.EXPECT().Summaries().Return([]cache.EntrySummary{{
				Fingerprint: "0123456789ab",
				Account:     "alice@openapi.tuyaeu.com",
				LoggedIn:    true,
				Generation:  1,
				Devices:     []cache.DeviceSummary{{Address: address, Name: "Fingerbot", Category: "szjqr"}},
			}})
			rr := sendRequest(http.MethodGet, "/api/1/cache", token)
			Expect(rr.Code).To(Equal(http.StatusOK))
			Expect(rr.Body.String()).NotTo(ContainSubstring("local_key"))

			var reply struct {
				Response struct {
					Entries []cache.EntrySummary `json:"entries"`
				} `json:"response"`
			}
			Expect(json.Unmarshal(rr.Body.Bytes(), &reply)).To(Succeed())
			Expect(reply.Response.Entries).To(HaveLen(1))
			Expect(reply.Response.Entries[0].Devices[0].Address).To(Equal(address))
		})
	})

	It("returns JSON for unknown paths", func() {
		rr := sendRequest(http.MethodGet, "/api/2/anything", token)
		Expect(rr.Code).To(Equal(http.StatusNotFound))
		Expect(decode(rr)["error"]).To(Equal("Not Found"))

		rr = sendRequest(http.MethodGet, "/api/1/anything", token)
		Expect(rr.Code).To(Equal(http.StatusNotFound))
		Expect(decode(rr)["error"]).To(Equal("Not Found"))
	})
})

var _ = Describe("Tokens", func() {
	It("round-trips claims", func() {
		signed, err := proxy.NewToken(secret, "home-assistant", 0, proxy.ScopeCredentials)
		Expect(err).NotTo(HaveOccurred())
		claims, err := proxy.ParseToken(secret, signed)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.Subject).To(Equal("home-assistant"))
		Expect(claims.ExpiresAt).To(BeNil())
		Expect(claims.Allows(proxy.ScopeCredentials)).To(BeTrue())
		Expect(claims.Allows(proxy.ScopeCache)).To(BeFalse())
	})

	It("rejects other signing methods", func() {
		claims := proxy.Claims{RegisteredClaims: jwt.RegisteredClaims{Audience: jwt.ClaimStrings{proxy.Audience}}}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
		Expect(err).NotTo(HaveOccurred())
		_, err = proxy.ParseToken(secret, signed)
		Expect(err).To(HaveOccurred())
	})
})
