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

var _ = Describe("BuildForAllContexts", func() {
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
		resolver, err = cloud.NewResolver(dir, sessions, cloud.Options{CallTimeout: time.Second, Parallelism: 2})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	It("populates every account and is idempotent", func() {
		expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA})
		expectAccount(dir, testLogin("bob"), testDeviceAddress{"b", addressB}, testDeviceAddress{"c", addressC})
		contexts := []cloud.LocalConfig{
			{Login: testLogin("alice")},
			{Login: testLogin("bob")},
		}

		report := resolver.BuildForAllContexts(ctx, contexts)
		Expect(report).To(Equal(cloud.BuildReport{Contexts: 2, LoggedIn: 2, Devices: 3}))
		Expect(sessions.Len()).To(Equal(2))

		// No further directory calls are expected.
		report = resolver.BuildForAllContexts(ctx, contexts)
		Expect(report).To(Equal(cloud.BuildReport{Contexts: 2, Skipped: 2}))
	})

	It("skips contexts without a complete login", func() {
		device := cloud.LocalConfig{
			Address: addressA,
			Device:  *credentials.CheckAndCreate("uuid", "key", "device", "szjqr", "prod"),
		}
		report := resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{device, {}})
		Expect(report).To(Equal(cloud.BuildReport{Contexts: 2, Skipped: 2}))
		Expect(sessions.Len()).To(Equal(0))
	})

	It("shares one login between contexts with the same account", func() {
		expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA})
		contexts := []cloud.LocalConfig{
			{Login: testLogin("alice")},
			{Login: testLogin("alice"), Address: addressA},
			{Login: testLogin("alice"), Address: addressB},
		}
		report := resolver.BuildForAllContexts(ctx, contexts)
		Expect(report.LoggedIn).To(Equal(1))
		Expect(report.Skipped).To(Equal(2))
		Expect(report.Devices).To(Equal(1))
	})

	It("keeps accounts that share a device independently valid", func() {
		expectAccount(dir, testLogin("alice"), testDeviceAddress{"a", addressA}, testDeviceAddress{"shared", addressShared})
		expectAccount(dir, testLogin("bob"), testDeviceAddress{"shared", addressShared}, testDeviceAddress{"c", addressC})

		resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{
			{Login: testLogin("alice")},
			{Login: testLogin("bob")},
		})

		_, entry, ok := sessions.FindByAddress(addressShared)
		Expect(ok).To(BeTrue())
		c, ok := entry.Credential(addressShared)
		Expect(ok).To(BeTrue())
		Expect(c.Complete()).To(BeTrue())

		for user, addresses := range map[string][]string{
			"alice": {addressA, addressShared},
			"bob":   {addressShared, addressC},
		} {
			entry, ok := sessions.Get(cache.FingerprintOf(testLogin(user)))
			Expect(ok).To(BeTrue())
			Expect(entry.Session).NotTo(BeNil())
			Expect(entry.Session.AccessToken).To(Equal("token-" + user))
			Expect(entry.Credentials).To(HaveLen(2))
			for _, address := range addresses {
				c, ok := entry.Credential(address)
				Expect(ok).To(BeTrue())
				Expect(c.Complete()).To(BeTrue())
			}
		}
	})

	It("skips a device whose specification cannot be fetched", func() {
		login := testLogin("alice")
		session := testSession("alice")
		dir.EXPECT().Login(gomock.Any(), login).Return(session, nil)
		dir.EXPECT().ListDevices(gomock.Any(), session).Return([]account.Device{testDevice("a"), testDevice("b"), testDevice("c")}, nil)
		dir.EXPECT().FactoryInfo(gomock.Any(), session, "a").Return(factoryInfo("a", addressA), nil)
		dir.EXPECT().FactoryInfo(gomock.Any(), session, "b").Return(factoryInfo("b", addressB), nil)
		dir.EXPECT().FactoryInfo(gomock.Any(), session, "c").Return(factoryInfo("c", addressC), nil)
		dir.EXPECT().Specification(gomock.Any(), session, "a").Return(testSpecification(), nil)
		dir.EXPECT().Specification(gomock.Any(), session, "b").Return(nil, &account.HTTPError{Code: 503})
		dir.EXPECT().Specification(gomock.Any(), session, "c").Return(testSpecification(), nil)

		report := resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{{Login: login}})
		Expect(report.Devices).To(Equal(2))
		Expect(report.DeviceFailures).To(Equal(1))

		entry, ok := sessions.Get(cache.FingerprintOf(login))
		Expect(ok).To(BeTrue())
		Expect(entry.Credentials).To(HaveLen(2))
		Expect(entry.Credentials).To(HaveKey(addressA))
		Expect(entry.Credentials).To(HaveKey(addressC))
		Expect(entry.Credentials).NotTo(HaveKey(addressB))
	})

	It("drops capabilities whose range cannot be decoded", func() {
		login := testLogin("alice")
		session := testSession("alice")
		spec := testSpecification()
		spec.Functions = append(spec.Functions, account.Capability{Code: "click_sustain_time", Type: "Integer", Values: `{"min":2,`})
		dir.EXPECT().Login(gomock.Any(), login).Return(session, nil)
		dir.EXPECT().ListDevices(gomock.Any(), session).Return([]account.Device{testDevice("a")}, nil)
		dir.EXPECT().FactoryInfo(gomock.Any(), session, "a").Return(factoryInfo("a", addressA), nil)
		dir.EXPECT().Specification(gomock.Any(), session, "a").Return(spec, nil)

		report := resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{{Login: login}})
		Expect(report.Devices).To(Equal(1))

		entry, _ := sessions.Get(cache.FingerprintOf(login))
		c, ok := entry.Credential(addressA)
		Expect(ok).To(BeTrue())
		Expect(c.Functions).To(HaveLen(2))
		_, found := c.FindFunction("click_sustain_time")
		Expect(found).To(BeFalse())
		mode, found := c.FindFunction("mode")
		Expect(found).To(BeTrue())
		values, err := mode.Range()
		Expect(err).NotTo(HaveOccurred())
		Expect(values.Fields).To(HaveKey("range"))
	})

	It("skips devices with bad factory data", func() {
		login := testLogin("alice")
		session := testSession("alice")
		incomplete := testDevice("c")
		incomplete.LocalKey = ""
		dir.EXPECT().Login(gomock.Any(), login).Return(session, nil)
		dir.EXPECT().ListDevices(gomock.Any(), session).Return([]account.Device{testDevice("a"), testDevice("b"), incomplete}, nil)
		dir.EXPECT().FactoryInfo(gomock.Any(), session, "a").Return(nil, errors.New("connection reset"))
		dir.EXPECT().FactoryInfo(gomock.Any(), session, "b").Return(&account.FactoryInfo{ID: "b", MAC: "not-a-mac"}, nil)
		dir.EXPECT().FactoryInfo(gomock.Any(), session, "c").Return(factoryInfo("c", addressC), nil)
		dir.EXPECT().Specification(gomock.Any(), session, "c").Return(testSpecification(), nil)

		report := resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{{Login: login}})
		Expect(report.Devices).To(Equal(0))
		Expect(report.DeviceFailures).To(Equal(3))
		entry, _ := sessions.Get(cache.FingerprintOf(login))
		Expect(entry.Credentials).To(BeEmpty())
	})

	It("continues with other contexts when one fails", func() {
		alice := testLogin("alice")
		aliceSession := testSession("alice")
		dir.EXPECT().Login(gomock.Any(), alice).Return(aliceSession, nil)
		dir.EXPECT().ListDevices(gomock.Any(), aliceSession).Return(nil, &account.APIError{Code: 1010, Message: "token invalid"})

		carol := testLogin("carol")
		dir.EXPECT().Login(gomock.Any(), carol).Return(nil, &account.APIError{Code: 2406, Message: "skill id invalid"})

		expectAccount(dir, testLogin("bob"), testDeviceAddress{"b", addressB})

		report := resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{
			{Login: alice},
			{Login: carol},
			{Login: testLogin("bob")},
		})
		Expect(report).To(Equal(cloud.BuildReport{Contexts: 3, LoggedIn: 2, LoginFailures: 1, Devices: 1}))

		entry, ok := sessions.Get(cache.FingerprintOf(alice))
		Expect(ok).To(BeTrue())
		Expect(entry.Session).NotTo(BeNil())
		Expect(entry.Credentials).To(BeEmpty())
		_, ok = sessions.Get(cache.FingerprintOf(carol))
		Expect(ok).To(BeFalse())
	})

	It("retries an account whose previous fill found nothing", func() {
		login := testLogin("alice")
		session := testSession("alice")
		dir.EXPECT().Login(gomock.Any(), login).Return(session, nil).Times(2)
		dir.EXPECT().ListDevices(gomock.Any(), session).Return(nil, errors.New("timeout"))
		dir.EXPECT().ListDevices(gomock.Any(), session).Return([]account.Device{testDevice("a")}, nil)
		dir.EXPECT().FactoryInfo(gomock.Any(), session, "a").Return(factoryInfo("a", addressA), nil)
		dir.EXPECT().Specification(gomock.Any(), session, "a").Return(testSpecification(), nil)

		resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{{Login: login}})
		report := resolver.BuildForAllContexts(ctx, []cloud.LocalConfig{{Login: login}})
		Expect(report.Devices).To(Equal(1))
	})
})
