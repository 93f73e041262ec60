package sqlite_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/sqlite"
	"github.com/papercomputeco/spool/pkg/storage/storagetest"
)

var _ = Describe("SQLiteDriver", func() {
	storagetest.DriverBehavior(func() storage.Driver {
		driver, err := sqlite.NewSQLiteDriver(context.Background(), ":memory:")
		Expect(err).NotTo(HaveOccurred())
		return driver
	})

	Describe("NewSQLiteDriver", func() {
		It("persists state across reopen", func() {
			ctx := context.Background()
			dbPath := filepath.Join(GinkgoT().TempDir(), "spool.db")
			fp := identity.Identify(identity.KindGeneration, "persist")
			key := ledger.Key{Window: identity.Identify(identity.KindWindow, "w"), Stage: ledger.StageEmit}
			hash := identity.Identify(identity.KindInput, "h")

			driver, err := sqlite.NewSQLiteDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.Put(ctx, cache.TierGeneration, fp, []byte("doc"))
			Expect(err).NotTo(HaveOccurred())
			Expect(driver.MarkDone(ctx, key, hash, "artifact")).To(Succeed())
			Expect(driver.Close()).To(Succeed())

			reopened, err := sqlite.NewSQLiteDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			e, ok, err := reopened.Get(ctx, cache.TierGeneration, fp)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(string(e.Value)).To(Equal("doc"))

			r, err := reopened.Status(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(ledger.StatusDone))
			Expect(r.Output).To(Equal("artifact"))
		})

		It("fails for an unwritable path", func() {
			_, err := sqlite.NewSQLiteDriver(context.Background(), "/nonexistent/dir/spool.db")
			Expect(err).To(HaveOccurred())
		})
	})
})
