package spoolcmder_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	spoolcmder "github.com/papercomputeco/spool/cmd/spool"
)

var _ = Describe("NewSpoolCmd", func() {
	It("registers every subcommand", func() {
		cmd := spoolcmder.NewSpoolCmd()
		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements(
			"run", "status", "show", "invalidate", "serve", "config", "auth", "version",
		))
	})

	It("has the global flags", func() {
		cmd := spoolcmder.NewSpoolCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})

	It("prints the version", func() {
		var out bytes.Buffer
		cmd := spoolcmder.NewSpoolCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"version"})
		Expect(cmd.Execute()).To(Succeed())
		Expect(out.String()).To(HavePrefix("spool "))
		Expect(out.String()).To(ContainSubstring("Sha:"))
	})
})
