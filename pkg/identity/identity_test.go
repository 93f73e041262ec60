package identity_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/identity"
)

var _ = Describe("Identify", func() {
	It("is deterministic for the same kind and components", func() {
		ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		a := identity.Identify(identity.KindEvent, "msg-1", ts, 42)
		b := identity.Identify(identity.KindEvent, "msg-1", ts, 42)
		Expect(a).To(Equal(b))
		Expect(a).NotTo(Equal(identity.Nil))
	})

	It("produces version 5 UUIDs", func() {
		id := identity.Identify(identity.KindWindow, "a")
		Expect(id.Version()).To(BeEquivalentTo(5))
	})

	It("keeps kinds in disjoint identifier spaces", func() {
		Expect(identity.Identify(identity.KindEvent, "x")).
			NotTo(Equal(identity.Identify(identity.KindWindow, "x")))
	})

	It("distinguishes component boundaries", func() {
		Expect(identity.Identify(identity.KindInput, "ab", "c")).
			NotTo(Equal(identity.Identify(identity.KindInput, "a", "bc")))
	})

	It("distinguishes component types", func() {
		Expect(identity.Identify(identity.KindInput, "1")).
			NotTo(Equal(identity.Identify(identity.KindInput, 1)))
	})

	It("is sensitive to component order", func() {
		Expect(identity.Identify(identity.KindInput, "a", "b")).
			NotTo(Equal(identity.Identify(identity.KindInput, "b", "a")))
	})

	It("treats equal instants in different zones as equal", func() {
		utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		local := utc.In(time.FixedZone("X", 3600))
		Expect(identity.Identify(identity.KindEvent, utc)).
			To(Equal(identity.Identify(identity.KindEvent, local)))
	})

	It("encodes structs canonically", func() {
		type params struct {
			Model string  `json:"model"`
			Temp  float64 `json:"temp"`
		}
		a := identity.Identify(identity.KindGeneration, params{Model: "m", Temp: 0.2})
		b := identity.Identify(identity.KindGeneration, map[string]any{"temp": 0.2, "model": "m"})
		Expect(a).To(Equal(b))
	})

	It("panics on non-serializable components", func() {
		Expect(func() { identity.Identify(identity.KindInput, make(chan int)) }).To(Panic())
		Expect(func() { identity.Identify(identity.KindInput, func() {}) }).To(Panic())
		Expect(func() { identity.Identify(identity.KindInput, nil) }).To(Panic())
	})

	It("panics on an empty kind", func() {
		Expect(func() { identity.Identify("", "x") }).To(Panic())
	})

	It("derives stable namespaces for custom kinds", func() {
		ns := identity.Namespace("custom")
		Expect(ns).To(Equal(identity.Namespace("custom")))
		Expect(ns).NotTo(Equal(identity.Namespace("other")))
	})

	It("round trips through Parse", func() {
		id := identity.Identify(identity.KindArtifact, "doc")
		parsed, err := identity.Parse(id.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(id))

		_, err = identity.Parse("not-a-uuid")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("NormalizeURL", func() {
	DescribeTable("canonical forms",
		func(in, want string) {
			Expect(identity.NormalizeURL(in)).To(Equal(want))
		},
		Entry("lower-cases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"),
		Entry("drops default ports", "http://example.com:80/a", "http://example.com/a"),
		Entry("keeps other ports", "http://example.com:8080/a", "http://example.com:8080/a"),
		Entry("sorts query parameters", "https://x.io/s?b=2&a=1", "https://x.io/s?a=1&b=2"),
		Entry("drops fragments", "https://x.io/a#top", "https://x.io/a"),
		Entry("drops a bare trailing slash", "https://x.io/", "https://x.io"),
		Entry("returns non-URLs trimmed", "  not a url ", "not a url"),
	)

	It("gives equivalent URLs the same identity", func() {
		Expect(identity.URL("https://Example.com:443/?b=1&a=2")).
			To(Equal(identity.URL("https://example.com?a=2&b=1")))
	})
})
