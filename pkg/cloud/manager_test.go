package cloud_test

import (
	"context"
	"errors"
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

var _ = Describe("Manager", func() {
	var (
		ctrl     *gomock.Controller
		dir      *mocks.CloudDirectory
		resolver *cloud.Resolver
		ctx      context.Context
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		ctrl = gomock.NewController(GinkgoT())
		dir = mocks.NewCloudDirectory(ctrl)
		resolver, err = cloud.NewResolver(dir, cache.New(), cloud.Options{CallTimeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	It("requires a resolver", func() {
		_, err := cloud.NewManager(nil, nil)
		Expect(err).To(HaveOccurred())
	})

	It("builds the cache for an unknown device and saves the result", func() {
		store := newMemoryStore(cloud.LocalConfig{Login: testLogin("alice")})
		manager, err := cloud.NewManager(resolver, store)
		Expect(err).NotTo(HaveOccurred())
		expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA})

		c, err := manager.DeviceCredentials(ctx, "dc-23-4d-00-00-0a", false, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.DeviceID).To(Equal("a"))

		saved, found, err := store.Device(ctx, addressA)
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(saved.HasCredentials()).To(BeTrue())
		Expect(saved.HasLogin()).To(BeTrue())
		Expect(saved.Address).To(Equal(addressA))

		// The saved configuration is complete, so no directory calls are made.
		c, err = manager.DeviceCredentials(ctx, addressA, false, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.DeviceID).To(Equal("a"))
	})

	It("does not save when persist is false", func() {
		store := newMemoryStore(cloud.LocalConfig{Login: testLogin("alice")})
		manager, _ := cloud.NewManager(resolver, store)
		expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA})

		_, err := manager.DeviceCredentials(ctx, addressA, false, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.saves).To(Equal(0))
	})

	It("reports devices no account knows", func() {
		store := newMemoryStore(cloud.LocalConfig{Login: testLogin("alice")})
		manager, _ := cloud.NewManager(resolver, store)
		expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA})

		_, err := manager.DeviceCredentials(ctx, addressB, false, true)
		Expect(errors.Is(err, credentials.ErrDeviceNotFound)).To(BeTrue())
		Expect(store.saves).To(Equal(0))
	})

	It("works without a store", func() {
		manager, _ := cloud.NewManager(resolver, nil)
		_, err := manager.DeviceCredentials(ctx, addressA, false, true)
		Expect(errors.Is(err, credentials.ErrDeviceNotFound)).To(BeTrue())
		report, err := manager.Build(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report).To(Equal(cloud.BuildReport{}))
	})

	It("summarizes the cache", func() {
		store := newMemoryStore(cloud.LocalConfig{Login: testLogin("alice")})
		manager, _ := cloud.NewManager(resolver, store)
		expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA})
		_, err := manager.Build(ctx)
		Expect(err).NotTo(HaveOccurred())

		summaries := manager.Summaries()
		Expect(summaries).To(HaveLen(1))
		Expect(summaries[0].LoggedIn).To(BeTrue())
		Expect(summaries[0].Devices).To(HaveLen(1))
		Expect(summaries[0].Devices[0].Address).To(Equal(addressA))
	})
})

var _ = Describe("TryLogin", func() {
	var (
		ctrl     *gomock.Controller
		dir      *mocks.CloudDirectory
		sessions *cache.SessionCache
		resolver *cloud.Resolver
		input    cloud.LoginInput
	)

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		dir = mocks.NewCloudDirectory(ctrl)
		sessions = cache.New()
		resolver, _ = cloud.NewResolver(dir, sessions, cloud.Options{})
		input = cloud.LoginInput{
			Country:      "Germany",
			AccessID:     "access-id",
			AccessSecret: "access-secret",
			Username:     "alice",
			Password:     "hunter2",
		}
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	It("rejects unknown countries", func() {
		input.Country = "Atlantis"
		_, err := resolver.TryLogin(context.Background(), input)
		var countryErr *cloud.ErrUnknownCountry
		Expect(errors.As(err, &countryErr)).To(BeTrue())
	})

	It("falls back to a custom login", func() {
		rejected := &account.APIError{Code: 2406, Message: "skill id invalid"}
		gomock.InOrder(
			dir.EXPECT().Login(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, l account.Login) (*account.Session, error) {
				Expect(l.AppType).To(Equal(account.AppTuyaSmart))
				Expect(l.AuthType).To(Equal(account.AuthSmartHome))
				return nil, rejected
			}),
			dir.EXPECT().Login(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, l account.Login) (*account.Session, error) {
				Expect(l.AppType).To(Equal(account.AppSmartLife))
				return nil, rejected
			}),
			dir.EXPECT().Login(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, l account.Login) (*account.Session, error) {
				Expect(l.AppType).To(Equal(""))
				Expect(l.AuthType).To(Equal(account.AuthCustom))
				return testSession("alice"), nil
			}),
		)

		login, err := resolver.TryLogin(context.Background(), input)
		Expect(err).NotTo(HaveOccurred())
		Expect(login.Endpoint).To(Equal(account.EndpointEurope))
		Expect(login.CountryCode).To(Equal("49"))
		Expect(login.AuthType).To(Equal(account.AuthCustom))

		entry, ok := sessions.Get(cache.FingerprintOf(login))
		Expect(ok).To(BeTrue())
		Expect(entry.Session).NotTo(BeNil())
	})

	It("makes a concurrent resolve wait for its login", func() {
		ctx := context.Background()
		session := testSession("alice")
		entered := make(chan struct{})
		release := make(chan struct{})
		dir.EXPECT().Login(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, account.Login) (*account.Session, error) {
			close(entered)
			<-release
			return session, nil
		}).Times(1)
		dir.EXPECT().ListDevices(gomock.Any(), session).Return([]account.Device{testDevice("a")}, nil).Times(1)
		dir.EXPECT().FactoryInfo(gomock.Any(), session, "a").Return(factoryInfo("a", addressA), nil).Times(1)
		dir.EXPECT().Specification(gomock.Any(), session, "a").Return(testSpecification(), nil).Times(1)

		loggedIn := make(chan error, 1)
		go func() {
			_, err := resolver.TryLogin(ctx, input)
			loggedIn <- err
		}()
		<-entered

		login := account.Login{
			Endpoint:     account.EndpointEurope,
			AccessID:     input.AccessID,
			AccessSecret: input.AccessSecret,
			AuthType:     account.AuthSmartHome,
			Username:     input.Username,
			Password:     input.Password,
			CountryCode:  "49",
			AppType:      account.AppTuyaSmart,
		}
		resolved := make(chan error, 1)
		go func() {
			_, err := resolver.Resolve(ctx, addressA, &cloud.LocalConfig{Login: login}, false, false)
			resolved <- err
		}()
		time.Sleep(20 * time.Millisecond)
		close(release)

		Expect(<-loggedIn).NotTo(HaveOccurred())
		Expect(<-resolved).NotTo(HaveOccurred())
		Expect(sessions.Generation(cache.FingerprintOf(login))).To(Equal(uint64(1)))
	})

	It("reports the last failure", func() {
		dir.EXPECT().Login(gomock.Any(), gomock.Any()).Return(nil, &account.APIError{Code: 2406, Message: "skill id invalid"}).Times(2)
		dir.EXPECT().Login(gomock.Any(), gomock.Any()).Return(nil, &account.APIError{Code: 1106, Message: "permission deny"})

		_, err := resolver.TryLogin(context.Background(), input)
		Expect(errors.Is(err, credentials.ErrLoginFailed)).To(BeTrue())
		var apiErr *account.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.Code).To(Equal(1106))
		Expect(sessions.Len()).To(Equal(0))
	})
})
