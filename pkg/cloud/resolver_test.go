package cloud_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/tuyable/credential-cache/mocks"
	"github.com/tuyable/credential-cache/pkg/account"
	"github.com/tuyable/credential-cache/pkg/cache"
	"github.com/tuyable/credential-cache/pkg/cloud"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

type testDeviceAddress struct {
	id      string
	address string
}

// expectAccount registers the directory calls made by one login followed by a full detail fetch.
func expectAccount(dir *mocks.CloudDirectory, login account.Login, devices ...testDeviceAddress) {
	session := testSession(login.Username)
	dir.EXPECT().Login(gomock.Any(), login).Return(session, nil).Times(1)
	var list []account.Device
	for _, d := range devices {
		list = append(list, testDevice(d.id))
		dir.EXPECT().FactoryInfo(gomock.Any(), session, d.id).Return(factoryInfo(d.id, d.address), nil).Times(1)
		dir.EXPECT().Specification(gomock.Any(), session, d.id).Return(testSpecification(), nil).Times(1)
	}
	dir.EXPECT().ListDevices(gomock.Any(), session).Return(list, nil).Times(1)
}

var _ = Describe("Resolver", func() {
	var (
		ctrl     *gomock.Controller
		dir      *mocks.CloudDirectory
		sessions *cache.SessionCache
		resolver *cloud.Resolver
		ctx      context.Context
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		ctrl = gomock.NewController(GinkgoT())
		dir = mocks.NewCloudDirectory(ctrl)
		sessions = cache.New()
		resolver, err = cloud.NewResolver(dir, sessions, cloud.Options{CallTimeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	Context("construction", func() {
		It("requires a directory and a cache", func() {
			_, err := cloud.NewResolver(nil, sessions, cloud.Options{})
			Expect(err).To(MatchError(cloud.ErrNoDirectory))
			_, err = cloud.NewResolver(dir, nil, cloud.Options{})
			Expect(err).To(MatchError(cloud.ErrNoCache))
		})
	})

	Context("complete local configuration", func() {
		It("returns the configured credential without remote calls", func() {
			local := &cloud.LocalConfig{
				Login:   testLogin("alice"),
				Address: addressA,
				Device:  *credentials.CheckAndCreate("uuid", "key", "device", "szjqr", "prod"),
			}
			c, err := resolver.Resolve(ctx, addressA, local, false, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(c).To(Equal(&local.Device))
			Expect(c).NotTo(BeIdenticalTo(&local.Device))
		})
	})

	Context("unknown device", func() {
		It("returns not found without remote calls when no account is known", func() {
			_, err := resolver.Resolve(ctx, addressA, &cloud.LocalConfig{}, false, false)
			Expect(errors.Is(err, credentials.ErrDeviceNotFound)).To(BeTrue())
		})

		It("treats an incomplete login as no login", func() {
			login := testLogin("alice")
			login.Password = ""
			_, err := resolver.Resolve(ctx, addressA, &cloud.LocalConfig{Login: login}, false, false)
			Expect(errors.Is(err, credentials.ErrDeviceNotFound)).To(BeTrue())
		})

		It("accepts a nil local configuration", func() {
			_, err := resolver.Resolve(ctx, addressA, nil, false, true)
			Expect(errors.Is(err, credentials.ErrDeviceNotFound)).To(BeTrue())
		})

		It("returns not found when the account has no such device", func() {
			expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA})
			_, err := resolver.Resolve(ctx, addressB, &cloud.LocalConfig{Login: testLogin("alice")}, false, false)
			Expect(errors.Is(err, credentials.ErrDeviceNotFound)).To(BeTrue())
		})
	})

	Context("cache miss", func() {
		It("logs in, fetches details and persists the result", func() {
			expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA}, testDeviceAddress{"b", addressB})
			local := &cloud.LocalConfig{Login: testLogin("alice")}

			c, err := resolver.Resolve(ctx, "dc:23:4d:00:00:0a", local, false, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Complete()).To(BeTrue())
			Expect(c.DeviceID).To(Equal("a"))
			Expect(c.LocalKey).To(Equal("key-a"))
			Expect(c.DeviceName).To(Equal("Device a"))
			Expect(c.Functions).To(HaveLen(2))
			Expect(c.StatusRange).To(HaveLen(1))

			Expect(local.Address).To(Equal(addressA))
			Expect(local.HasCredentials()).To(BeTrue())
			Expect(local.Device.DeviceID).To(Equal("a"))
			Expect(local.Login).To(Equal(testLogin("alice")))

			entry, ok := sessions.Get(cache.FingerprintOf(testLogin("alice")))
			Expect(ok).To(BeTrue())
			Expect(entry.Credentials).To(HaveLen(2))
		})

		It("serves later requests from the cache", func() {
			expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA}, testDeviceAddress{"b", addressB})
			_, err := resolver.Resolve(ctx, addressA, &cloud.LocalConfig{Login: testLogin("alice")}, false, false)
			Expect(err).NotTo(HaveOccurred())

			c, err := resolver.Resolve(ctx, addressB, &cloud.LocalConfig{Login: testLogin("alice")}, false, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.DeviceID).To(Equal("b"))
		})

		It("finds the account by address when the local configuration has no login", func() {
			expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA})
			_, err := resolver.Resolve(ctx, addressA, &cloud.LocalConfig{Login: testLogin("alice")}, false, false)
			Expect(err).NotTo(HaveOccurred())

			local := &cloud.LocalConfig{}
			c, err := resolver.Resolve(ctx, addressA, local, false, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.DeviceID).To(Equal("a"))
			Expect(local.Login).To(Equal(testLogin("alice")))
		})
	})

	Context("concurrent requests", func() {
		It("logs in once per fingerprint", func() {
			login := testLogin("alice")
			session := testSession("alice")
			var logins atomic.Int32
			dir.EXPECT().Login(gomock.Any(), login).DoAndReturn(func(context.Context, account.Login) (*account.Session, error) {
				logins.Add(1)
				time.Sleep(50 * time.Millisecond)
				return session, nil
			}).Times(1)
			dir.EXPECT().ListDevices(gomock.Any(), session).Return([]account.Device{testDevice("a")}, nil).Times(1)
			dir.EXPECT().FactoryInfo(gomock.Any(), session, "a").Return(factoryInfo("a", addressA), nil).Times(1)
			dir.EXPECT().Specification(gomock.Any(), session, "a").Return(testSpecification(), nil).Times(1)

			const n = 16
			var wg sync.WaitGroup
			results := make([]*credentials.DeviceCredential, n)
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					results[i], errs[i] = resolver.Resolve(ctx, addressA, &cloud.LocalConfig{Login: login}, false, false)
				}(i)
			}
			wg.Wait()

			Expect(logins.Load()).To(Equal(int32(1)))
			for i := 0; i < n; i++ {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(results[i].DeviceID).To(Equal("a"))
			}
		})

		It("lists devices once for an address the account does not own", func() {
			login := testLogin("alice")
			session := testSession("alice")
			var listings atomic.Int32
			dir.EXPECT().Login(gomock.Any(), login).DoAndReturn(func(context.Context, account.Login) (*account.Session, error) {
				time.Sleep(50 * time.Millisecond)
				return session, nil
			}).Times(1)
			dir.EXPECT().ListDevices(gomock.Any(), session).DoAndReturn(func(context.Context, *account.Session) ([]account.Device, error) {
				listings.Add(1)
				return []account.Device{testDevice("a")}, nil
			}).Times(1)
			dir.EXPECT().FactoryInfo(gomock.Any(), session, "a").Return(factoryInfo("a", addressA), nil).Times(1)
			dir.EXPECT().Specification(gomock.Any(), session, "a").Return(testSpecification(), nil).Times(1)

			const n = 8
			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, errs[i] = resolver.Resolve(ctx, addressB, &cloud.LocalConfig{Login: login}, false, false)
				}(i)
			}
			wg.Wait()

			Expect(listings.Load()).To(Equal(int32(1)))
			for _, err := range errs {
				Expect(errors.Is(err, credentials.ErrDeviceNotFound)).To(BeTrue())
			}
		})
	})

	Context("expired sessions", func() {
		It("logs in again instead of reusing an expired session", func() {
			login := testLogin("alice")
			expired := testSession("alice")
			expired.ObtainedAt = time.Now().Add(-3 * time.Hour)
			const n = 4
			dir.EXPECT().Login(gomock.Any(), login).DoAndReturn(func(context.Context, account.Login) (*account.Session, error) {
				time.Sleep(20 * time.Millisecond)
				return expired, nil
			}).Times(n)
			dir.EXPECT().ListDevices(gomock.Any(), gomock.Any()).Return(nil, nil).Times(n)

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := resolver.Resolve(ctx, addressB, &cloud.LocalConfig{Login: login}, false, false)
					Expect(errors.Is(err, credentials.ErrDeviceNotFound)).To(BeTrue())
				}()
			}
			wg.Wait()
			Expect(sessions.Generation(cache.FingerprintOf(login))).To(Equal(uint64(n)))
		})
	})

	Context("force update", func() {
		It("logs in again even when the credential is cached", func() {
			login := testLogin("alice")
			expectAccount(dir, login, testDeviceAddress{"a", addressA})
			local := &cloud.LocalConfig{Login: login}
			_, err := resolver.Resolve(ctx, addressA, local, false, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(local.HasCredentials()).To(BeTrue())

			expectAccount(dir, login, testDeviceAddress{"a", addressA})
			c, err := resolver.Resolve(ctx, addressA, local, true, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.DeviceID).To(Equal("a"))
			Expect(sessions.Generation(cache.FingerprintOf(login))).To(Equal(uint64(2)))
		})
	})

	Context("login failure", func() {
		It("returns not found with the login failure as cause", func() {
			login := testLogin("alice")
			dir.EXPECT().Login(gomock.Any(), login).Return(nil, &account.APIError{Code: 1106, Message: "permission deny"})

			_, err := resolver.Resolve(ctx, addressA, &cloud.LocalConfig{Login: login}, false, false)
			Expect(errors.Is(err, credentials.ErrDeviceNotFound)).To(BeTrue())
			Expect(errors.Is(err, credentials.ErrLoginFailed)).To(BeTrue())
			var apiErr *account.APIError
			Expect(errors.As(err, &apiErr)).To(BeTrue())
			Expect(apiErr.Code).To(Equal(1106))

			_, ok := sessions.Get(cache.FingerprintOf(login))
			Expect(ok).To(BeFalse())
		})

		It("treats a missing session as a failed login", func() {
			login := testLogin("alice")
			dir.EXPECT().Login(gomock.Any(), login).Return(nil, nil)
			_, err := resolver.Resolve(ctx, addressA, &cloud.LocalConfig{Login: login}, false, false)
			Expect(errors.Is(err, credentials.ErrLoginFailed)).To(BeTrue())
		})

		It("applies the call timeout", func() {
			login := testLogin("alice")
			resolver, _ = cloud.NewResolver(dir, sessions, cloud.Options{CallTimeout: 10 * time.Millisecond})
			dir.EXPECT().Login(gomock.Any(), login).DoAndReturn(func(ctx context.Context, _ account.Login) (*account.Session, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
			_, err := resolver.Resolve(ctx, addressA, &cloud.LocalConfig{Login: login}, false, false)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			var loginErr *credentials.LoginError
			Expect(errors.As(err, &loginErr)).To(BeTrue())
			Expect(loginErr.Temporary()).To(BeTrue())
		})
	})

	Context("login from cache", func() {
		It("copies the first logged-in account", func() {
			local := &cloud.LocalConfig{}
			Expect(resolver.LoginFromCache(local)).To(BeFalse())

			expectAccount(dir, testLogin("alice"))
			expectAccount(dir, testLogin("bob"))
			resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{{Login: testLogin("alice")}})
			resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{{Login: testLogin("bob")}})

			Expect(resolver.LoginFromCache(local)).To(BeTrue())
			Expect(local.Login).To(Equal(testLogin("alice")))
		})
	})
})
