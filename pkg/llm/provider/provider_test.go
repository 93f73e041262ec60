package provider_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/credentials"
	"github.com/papercomputeco/spool/pkg/llm/provider"
	"github.com/papercomputeco/spool/pkg/logger"
)

var _ = Describe("New", func() {
	BeforeEach(func() {
		GinkgoT().Setenv("OPENAI_API_KEY", "")
		GinkgoT().Setenv("ANTHROPIC_API_KEY", "")
	})

	It("builds each supported provider", func() {
		for _, name := range provider.SupportedProviders() {
			g, err := provider.New(provider.Config{Provider: name, APIKey: "k"}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Name()).To(Equal(name))
		}
	})

	It("resolves keys from the credentials store", func() {
		mgr, err := credentials.NewManager(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		Expect(mgr.SetKey("anthropic", "sk-ant")).To(Succeed())

		g, err := provider.New(provider.Config{Provider: "anthropic", Credentials: mgr}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Name()).To(Equal("anthropic"))
	})

	It("errors without a key unless falling back to ollama", func() {
		_, err := provider.New(provider.Config{Provider: "openai"}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("OPENAI_API_KEY")))

		g, err := provider.New(provider.Config{Provider: "openai", Model: "gpt-4o", FallbackToOllama: true}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Name()).To(Equal("ollama"))
		Expect(g.Model()).To(Equal("llama3.2"))
	})

	It("rejects unknown providers", func() {
		_, err := provider.New(provider.Config{Provider: "palm"}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("unknown provider type")))
	})
})
