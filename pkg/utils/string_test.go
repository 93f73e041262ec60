package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Truncate", func() {
	It("leaves short previews alone", func() {
		Expect(Truncate("window summary", 20)).To(Equal("window summary"))
	})

	It("cuts long previews and marks the cut", func() {
		Expect(Truncate("the team rolled out the new cache", 8)).To(Equal("the team..."))
	})

	It("collapses newlines and repeated spaces", func() {
		Expect(Truncate("## Summary\n\n  rollout   went fine", 40)).To(Equal("## Summary rollout went fine"))
	})

	It("counts runes rather than bytes", func() {
		Expect(Truncate("héllo wörld", 5)).To(Equal("héllo..."))
	})

	It("returns an empty string for a non-positive limit", func() {
		Expect(Truncate("anything", 0)).To(Equal(""))
	})
})
