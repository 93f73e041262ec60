// Package storagetest holds the behavior every storage.Driver must share.
// Driver test suites call DriverBehavior from inside a Describe.
package storagetest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/ledger"
	"github.com/papercomputeco/spool/pkg/storage"
)

// DriverBehavior registers the shared specs. newDriver is called before every
// spec and must return an empty driver.
func DriverBehavior(newDriver func() storage.Driver) {
	var (
		driver storage.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
	})

	AfterEach(func() {
		if driver != nil {
			driver.Close()
		}
	})

	fp := identity.Identify(identity.KindGeneration, "fp")

	Describe("cache", func() {
		It("reports absent entries", func() {
			_, ok, err := driver.Get(ctx, cache.TierGeneration, fp)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("stores and returns entries with metadata", func() {
			created, err := driver.Put(ctx, cache.TierGeneration, fp, []byte("payload"))
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			e, ok, err := driver.Get(ctx, cache.TierGeneration, fp)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(e.Value).To(Equal([]byte("payload")))
			Expect(e.Size).To(Equal(7))
			Expect(e.Tier).To(Equal(cache.TierGeneration))
			Expect(e.CreatedAt).To(BeTemporally("~", time.Now(), time.Minute))
		})

		It("treats an identical put as a no-op", func() {
			_, err := driver.Put(ctx, cache.TierLookup, fp, []byte("same"))
			Expect(err).NotTo(HaveOccurred())

			created, err := driver.Put(ctx, cache.TierLookup, fp, []byte("same"))
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
		})

		It("rejects a conflicting payload", func() {
			_, err := driver.Put(ctx, cache.TierLookup, fp, []byte("one"))
			Expect(err).NotTo(HaveOccurred())

			_, err = driver.Put(ctx, cache.TierLookup, fp, []byte("two"))
			Expect(errors.Is(err, cache.ErrConflict)).To(BeTrue())

			e, _, err := driver.Get(ctx, cache.TierLookup, fp)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Value).To(Equal([]byte("one")))
		})

		It("keeps tiers independent", func() {
			_, err := driver.Put(ctx, cache.TierLookup, fp, []byte("lookup"))
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.Put(ctx, cache.TierGeneration, fp, []byte("generation"))
			Expect(err).NotTo(HaveOccurred())

			n, err := driver.Invalidate(ctx, cache.TierGeneration, cache.All())
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			_, ok, _ := driver.Get(ctx, cache.TierGeneration, fp)
			Expect(ok).To(BeFalse())
			_, ok, _ = driver.Get(ctx, cache.TierLookup, fp)
			Expect(ok).To(BeTrue())
		})

		It("invalidates by predicate", func() {
			keep := identity.Identify(identity.KindLookup, "keep")
			drop := identity.Identify(identity.KindLookup, "drop")
			_, err := driver.Put(ctx, cache.TierLookup, keep, []byte("k"))
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.Put(ctx, cache.TierLookup, drop, []byte("dd"))
			Expect(err).NotTo(HaveOccurred())

			n, err := driver.Invalidate(ctx, cache.TierLookup, func(e cache.Entry) bool {
				return e.Fingerprint == drop
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			_, ok, _ := driver.Get(ctx, cache.TierLookup, keep)
			Expect(ok).To(BeTrue())
		})

		It("prunes entries older than a cutoff", func() {
			_, err := driver.Put(ctx, cache.TierLookup, fp, []byte("old"))
			Expect(err).NotTo(HaveOccurred())

			n, err := driver.Invalidate(ctx, cache.TierLookup, cache.OlderThan(time.Now().Add(-time.Hour)))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			n, err = driver.Invalidate(ctx, cache.TierLookup, cache.OlderThan(time.Now().Add(time.Hour)))
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})
	})

	Describe("ledger", func() {
		window := identity.Identify(identity.KindWindow, "w1")
		key := ledger.Key{Window: window, Stage: ledger.StageGenerate}
		hash := identity.Identify(identity.KindInput, "h1")

		It("returns absent records", func() {
			r, err := driver.Status(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(ledger.StatusAbsent))
			Expect(r.Key).To(Equal(key))
		})

		It("moves a record through pending and done", func() {
			Expect(driver.MarkPending(ctx, key, hash)).To(Succeed())
			r, err := driver.Status(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(ledger.StatusPending))
			Expect(r.Attempts).To(Equal(1))

			Expect(driver.MarkDone(ctx, key, hash, "out")).To(Succeed())
			r, err = driver.Status(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(ledger.StatusDone))
			Expect(r.InputHash).To(Equal(hash))
			Expect(r.Output).To(Equal("out"))
			Expect(r.Attempts).To(Equal(1))
			Expect(ledger.Decide(r, hash)).To(Equal(ledger.Skip))
		})

		It("records failures with reasons", func() {
			Expect(driver.MarkPending(ctx, key, hash)).To(Succeed())
			Expect(driver.MarkFailed(ctx, key, hash, ledger.Failure{Reason: "boom", Terminal: true})).To(Succeed())
			Expect(driver.MarkPending(ctx, key, hash)).To(Succeed())
			Expect(driver.MarkFailed(ctx, key, hash, ledger.Failure{Reason: "boom again", Terminal: true})).To(Succeed())

			r, err := driver.Status(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(ledger.StatusFailed))
			Expect(r.Reason).To(Equal("boom again"))
			Expect(r.Terminal).To(BeTrue())
			Expect(r.Attempts).To(Equal(2))
		})

		It("records provisional completions", func() {
			Expect(driver.MarkProvisional(ctx, key, hash, "fp")).To(Succeed())
			r, err := driver.Status(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(ledger.Decide(r, hash)).To(Equal(ledger.Finalize))
		})

		It("lists and resets records by stage", func() {
			other := ledger.Key{Window: window, Stage: ledger.StageIndex}
			Expect(driver.MarkDone(ctx, key, hash, "")).To(Succeed())
			Expect(driver.MarkDone(ctx, other, hash, "")).To(Succeed())

			all, err := driver.List(ctx, ledger.Filter{Window: window})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))

			idx, err := driver.List(ctx, ledger.Filter{Stage: ledger.StageIndex, Status: ledger.StatusDone})
			Expect(err).NotTo(HaveOccurred())
			Expect(idx).To(HaveLen(1))
			Expect(idx[0].Key).To(Equal(other))

			n, err := driver.Reset(ctx, ledger.StageIndex, ledger.StageEmit)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			r, err := driver.Status(ctx, other)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Status).To(Equal(ledger.StatusAbsent))
		})
	})

	Describe("runs", func() {
		It("saves and lists runs most recent first", func() {
			start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			first := ledger.RunRecord{ID: uuid.New(), StartedAt: start, Status: ledger.RunCompleted}
			second := ledger.RunRecord{
				ID:        uuid.New(),
				StartedAt: start.Add(time.Hour),
				Status:    ledger.RunRunning,
				Counts:    ledger.RunCounts{Windows: 3},
			}
			Expect(driver.SaveRun(ctx, first)).To(Succeed())
			Expect(driver.SaveRun(ctx, second)).To(Succeed())

			second.Status = ledger.RunCompleted
			second.FinishedAt = start.Add(2 * time.Hour)
			second.Counts.Done = 3
			Expect(driver.SaveRun(ctx, second)).To(Succeed())

			runs, err := driver.ListRuns(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(runs).To(HaveLen(2))
			Expect(runs[0].ID).To(Equal(second.ID))
			Expect(runs[0].Status).To(Equal(ledger.RunCompleted))
			Expect(runs[0].Counts.Done).To(Equal(3))
			Expect(runs[0].Duration()).To(Equal(time.Hour))

			limited, err := driver.ListRuns(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(limited).To(HaveLen(1))
		})
	})
}
