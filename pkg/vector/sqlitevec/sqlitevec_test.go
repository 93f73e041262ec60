package sqlitevec_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/vector"
	"github.com/papercomputeco/spool/pkg/vector/sqlitevec"
)

var _ = Describe("SQLiteVecDriver", func() {
	Describe("NewSQLiteVecDriver", func() {
		It("should return an error when DBPath is empty", func() {
			_, err := sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{DBPath: ""}, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("database path is required")))
		})

		It("should error when dimension not specified", func() {
			_, err := sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{DBPath: ":memory:"}, logger.Nop())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("operations", func() {
		var (
			driver *sqlitevec.SQLiteVecDriver
			ctx    context.Context
			t0     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		)

		BeforeEach(func() {
			ctx = context.Background()
			var err error
			driver, err = sqlitevec.NewSQLiteVecDriver(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: 4,
			}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(driver.Close()).To(Succeed())
		})

		It("stores documents and returns the nearest first", func() {
			Expect(driver.Add(ctx, []vector.Document{
				{ID: "a", Embedding: []float32{1, 0, 0, 0}, Metadata: map[string]string{"window_id": "w1"}, CreatedAt: t0},
				{ID: "b", Embedding: []float32{0, 1, 0, 0}, CreatedAt: t0.Add(time.Hour)},
				{ID: "c", Embedding: []float32{0.9, 0.1, 0, 0}},
			})).To(Succeed())

			results, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("a"))
			Expect(results[0].Metadata).To(HaveKeyWithValue("window_id", "w1"))
			Expect(results[0].CreatedAt).To(BeTemporally("==", t0))
			Expect(results[0].Score).To(BeNumerically(">", results[1].Score))
			Expect(results[1].ID).To(Equal("c"))
		})

		It("breaks distance ties most recent first", func() {
			emb := []float32{0, 0, 1, 0}
			Expect(driver.Add(ctx, []vector.Document{
				{ID: "old", Embedding: emb, CreatedAt: t0},
				{ID: "new", Embedding: emb, CreatedAt: t0.Add(2 * time.Hour)},
				{ID: "mid", Embedding: emb, CreatedAt: t0.Add(time.Hour)},
			})).To(Succeed())

			results, err := driver.Query(ctx, emb, 3)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, len(results))
			for i, r := range results {
				ids[i] = r.ID
			}
			Expect(ids).To(Equal([]string{"new", "mid", "old"}))
		})

		It("replaces documents with the same ID", func() {
			Expect(driver.Add(ctx, []vector.Document{{ID: "a", Embedding: []float32{1, 0, 0, 0}}})).To(Succeed())
			Expect(driver.Add(ctx, []vector.Document{{ID: "a", Embedding: []float32{0, 0, 1, 0}, Metadata: map[string]string{"v": "2"}}})).To(Succeed())

			docs, err := driver.Get(ctx, []string{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].Embedding).To(Equal([]float32{0, 0, 1, 0}))
			Expect(docs[0].Metadata).To(HaveKeyWithValue("v", "2"))
		})

		It("rejects embeddings of the wrong size", func() {
			err := driver.Add(ctx, []vector.Document{{ID: "a", Embedding: []float32{1, 0}}})
			Expect(errors.Is(err, vector.ErrDimensions)).To(BeTrue())
		})

		It("deletes documents", func() {
			Expect(driver.Add(ctx, []vector.Document{
				{ID: "a", Embedding: []float32{1, 0, 0, 0}},
				{ID: "b", Embedding: []float32{0, 1, 0, 0}},
			})).To(Succeed())
			Expect(driver.Delete(ctx, []string{"a"})).To(Succeed())

			docs, err := driver.Get(ctx, []string{"a", "b"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].ID).To(Equal("b"))

			results, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})

		It("treats empty inputs as no-ops", func() {
			Expect(driver.Add(ctx, nil)).To(Succeed())
			Expect(driver.Delete(ctx, nil)).To(Succeed())
			docs, err := driver.Get(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(BeEmpty())
		})
	})
})
