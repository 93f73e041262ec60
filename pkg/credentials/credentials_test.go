package credentials_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/credentials"
)

var _ = Describe("Manager", func() {
	var (
		tmpDir string
		mgr    *credentials.Manager
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		mgr, err = credentials.NewManager(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("points at credentials.toml in the override directory", func() {
		Expect(mgr.Path()).To(HaveSuffix(filepath.Join(filepath.Base(tmpDir), "credentials.toml")))
	})

	Describe("Load", func() {
		It("returns empty credentials when no file exists", func() {
			f, err := mgr.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Providers).To(BeEmpty())
		})

		It("loads existing credentials", func() {
			data := "version = 0\n\n[providers.openai]\napi_key = \"sk-test-key\"\n"
			Expect(os.WriteFile(mgr.Path(), []byte(data), 0o600)).To(Succeed())

			f, err := mgr.Load()
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Providers).To(HaveKeyWithValue("openai", credentials.APIKey{Key: "sk-test-key"}))
		})

		It("returns error for malformed TOML", func() {
			Expect(os.WriteFile(mgr.Path(), []byte("not valid [[["), 0o600)).To(Succeed())

			f, err := mgr.Load()
			Expect(err).To(HaveOccurred())
			Expect(f).To(BeNil())
		})
	})

	Describe("Save", func() {
		It("persists credentials with restricted permissions", func() {
			Expect(mgr.SetKey("openai", "sk-test")).To(Succeed())

			info, err := os.Stat(mgr.Path())
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
		})

		It("returns error for nil credentials", func() {
			Expect(mgr.Save(nil)).NotTo(Succeed())
		})
	})

	Describe("keys", func() {
		It("stores, overwrites and removes keys per provider", func() {
			Expect(mgr.SetKey("openai", "sk-old")).To(Succeed())
			Expect(mgr.SetKey("openai", "sk-new")).To(Succeed())
			Expect(mgr.SetKey("anthropic", "sk-ant")).To(Succeed())

			key, err := mgr.GetKey("openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("sk-new"))

			providers, err := mgr.ListProviders()
			Expect(err).NotTo(HaveOccurred())
			Expect(providers).To(Equal([]string{"anthropic", "openai"}))

			Expect(mgr.RemoveKey("openai")).To(Succeed())
			key, err = mgr.GetKey("openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(BeEmpty())

			key, err = mgr.GetKey("anthropic")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("sk-ant"))
		})

		It("treats removing an unknown provider as a no-op", func() {
			Expect(mgr.RemoveKey("nonexistent")).To(Succeed())
		})
	})

	Describe("Resolve", func() {
		It("prefers the stored key over the environment", func() {
			GinkgoT().Setenv("OPENAI_API_KEY", "sk-env")
			Expect(mgr.SetKey("openai", "sk-file")).To(Succeed())

			key, src := mgr.Resolve("openai")
			Expect(key).To(Equal("sk-file"))
			Expect(src).To(Equal(credentials.SourceFile))
		})

		It("falls back to the environment", func() {
			GinkgoT().Setenv("ANTHROPIC_API_KEY", "sk-env")

			key, src := mgr.Resolve("anthropic")
			Expect(key).To(Equal("sk-env"))
			Expect(src).To(Equal(credentials.SourceEnv))
		})

		It("works without a manager", func() {
			GinkgoT().Setenv("OPENAI_API_KEY", "sk-env")

			var none *credentials.Manager
			key, src := none.Resolve("openai")
			Expect(key).To(Equal("sk-env"))
			Expect(src).To(Equal(credentials.SourceEnv))
		})

		It("returns nothing for providers without keys", func() {
			key, src := mgr.Resolve("ollama")
			Expect(key).To(BeEmpty())
			Expect(src).To(Equal(credentials.SourceNone))
		})
	})
})

var _ = Describe("providers", func() {
	It("maps providers to environment variables", func() {
		Expect(credentials.EnvVar("openai")).To(Equal("OPENAI_API_KEY"))
		Expect(credentials.EnvVar("anthropic")).To(Equal("ANTHROPIC_API_KEY"))
		Expect(credentials.EnvVar("unknown")).To(BeEmpty())
	})

	It("lists supported providers", func() {
		Expect(credentials.SupportedProviders()).To(Equal([]string{"anthropic", "openai"}))
		Expect(credentials.IsSupportedProvider("openai")).To(BeTrue())
		Expect(credentials.IsSupportedProvider("ollama")).To(BeFalse())
	})
})
