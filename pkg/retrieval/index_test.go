package retrieval_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/retrieval"
	storageinmemory "github.com/papercomputeco/spool/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/spool/pkg/utils/test"
	"github.com/papercomputeco/spool/pkg/vector/inmemory"
)

var _ = Describe("Index", func() {
	var (
		ctx      context.Context
		embedder *testutils.MockEmbedder
		vectors  *testutils.FlakyVectorDriver
		store    *cache.Cache
		index    *retrieval.Index
		base     time.Time
	)

	item := func(n int, content string) retrieval.Item {
		return retrieval.Item{
			ArtifactID:  identity.Identify(identity.KindArtifact, n, content),
			WindowID:    identity.Identify(identity.KindWindow, n),
			WindowIndex: n,
			Content:     content,
			CreatedAt:   base.Add(time.Duration(n) * time.Hour),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		base = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		embedder = testutils.NewMockEmbedder()
		vectors = testutils.NewFlakyVectorDriver(inmemory.NewDriver(0))
		store = cache.New(storageinmemory.NewDriver(), logger.Nop())

		var err error
		index, err = retrieval.New(retrieval.Config{
			Vectors:  vectors,
			Embedder: embedder,
			Cache:    store,
			Logger:   logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires every collaborator", func() {
		_, err := retrieval.New(retrieval.Config{Embedder: embedder, Cache: store})
		Expect(err).To(MatchError(ContainSubstring("vector driver is required")))
	})

	Describe("Embed", func() {
		It("calls the backend once per text and model", func() {
			a, err := index.Embed(ctx, "hello world")
			Expect(err).NotTo(HaveOccurred())
			b, err := index.Embed(ctx, "hello world")
			Expect(err).NotTo(HaveOccurred())

			Expect(b).To(Equal(a))
			Expect(embedder.Calls()).To(Equal(1))
			Expect(index.Stats().Embeds).To(BeEquivalentTo(1))
		})

		It("does not reuse vectors across models", func() {
			_, err := index.Embed(ctx, "hello world")
			Expect(err).NotTo(HaveOccurred())

			embedder.ModelName = "other-model"
			_, err = index.Embed(ctx, "hello world")
			Expect(err).NotTo(HaveOccurred())
			Expect(embedder.Calls()).To(Equal(2))
		})
	})

	Describe("Insert", func() {
		It("is idempotent per artifact", func() {
			it := item(1, "deploy rollback notes")

			inserted, err := index.Insert(ctx, it)
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())

			inserted, err = index.Insert(ctx, it)
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeFalse())
			Expect(vectors.Adds()).To(Equal(1))
		})

		It("re-inserts after the retrieval tier is refreshed", func() {
			it := item(1, "deploy rollback notes")
			_, err := index.Insert(ctx, it)
			Expect(err).NotTo(HaveOccurred())

			_, err = store.Refresh(ctx, cache.RefreshRetrieval)
			Expect(err).NotTo(HaveOccurred())

			inserted, err := index.Insert(ctx, it)
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())
			Expect(vectors.Adds()).To(Equal(2))
		})

		It("reports vector store failures", func() {
			vectors.FailAdd = true
			_, err := index.Insert(ctx, item(1, "anything"))
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, retrieval.ErrCache)).To(BeFalse())
		})
	})

	Describe("Query", func() {
		BeforeEach(func() {
			for n, content := range []string{
				"database migration plan",
				"lunch order for friday",
				"database index tuning",
				"database migration rollback",
			} {
				_, err := index.Insert(ctx, item(n, content))
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("returns the most similar artifacts first", func() {
			results, degraded, err := index.Query(ctx, "database migration", 2, retrieval.Scope{})
			Expect(err).NotTo(HaveOccurred())
			Expect(degraded).To(BeFalse())
			Expect(results).To(HaveLen(2))
			for _, r := range results {
				Expect(r.Content).To(ContainSubstring("database"))
			}
			Expect(results[0].Score).To(BeNumerically(">=", results[1].Score))
		})

		It("breaks score ties most recent first", func() {
			_, err := index.Insert(ctx, item(7, "database migration plan"))
			Expect(err).NotTo(HaveOccurred())

			results, _, err := index.Query(ctx, "database migration plan", 2, retrieval.Scope{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].WindowIndex).To(Equal(7))
			Expect(results[1].WindowIndex).To(Equal(0))
		})

		It("only returns earlier windows", func() {
			results, _, err := index.Query(ctx, "database migration rollback", 5,
				retrieval.Earlier(identity.Identify(identity.KindWindow, 3), 3))
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			for _, r := range results {
				Expect(r.WindowIndex).To(BeNumerically("<", 3))
			}
		})

		It("drops results the scope's Keep rejects and still fills k", func() {
			scope := retrieval.Scope{Keep: func(r retrieval.Result) bool {
				return r.WindowIndex != 0 && r.WindowIndex != 3
			}}
			results, _, err := index.Query(ctx, "database migration", 2, scope)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			for _, r := range results {
				Expect(r.WindowIndex).To(BeElementOf(1, 2))
			}
		})

		It("returns nothing before the first window", func() {
			results, degraded, err := index.Query(ctx, "database", 3,
				retrieval.Earlier(identity.Identify(identity.KindWindow, 0), 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(degraded).To(BeFalse())
			Expect(results).To(BeEmpty())
		})

		It("degrades when the vector store is unavailable", func() {
			vectors.FailQuery = func(int) bool { return true }

			results, degraded, err := index.Query(ctx, "database", 3, retrieval.Scope{})
			Expect(err).NotTo(HaveOccurred())
			Expect(degraded).To(BeTrue())
			Expect(results).To(BeEmpty())
		})

		It("degrades when the embedder is unavailable", func() {
			embedder.Err = errors.New("connection refused")

			results, degraded, err := index.Query(ctx, "never embedded", 3, retrieval.Scope{})
			Expect(err).NotTo(HaveOccurred())
			Expect(degraded).To(BeTrue())
			Expect(results).To(BeEmpty())
		})

		It("returns nothing for k of zero", func() {
			results, _, err := index.Query(ctx, "database", 0, retrieval.Scope{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
			Expect(vectors.Queries()).To(BeZero())
		})
	})

	Describe("Prune", func() {
		It("removes artifacts and their markers", func() {
			it := item(1, "deploy rollback notes")
			_, err := index.Insert(ctx, it)
			Expect(err).NotTo(HaveOccurred())

			Expect(index.Prune(ctx, []identity.ID{it.ArtifactID})).To(Succeed())

			results, _, err := index.Query(ctx, "deploy rollback notes", 3, retrieval.Scope{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())

			inserted, err := index.Insert(ctx, it)
			Expect(err).NotTo(HaveOccurred())
			Expect(inserted).To(BeTrue())
		})
	})
})
