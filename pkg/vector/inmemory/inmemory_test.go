package inmemory_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/vector"
	"github.com/papercomputeco/spool/pkg/vector/inmemory"
)

var _ = Describe("Driver", func() {
	var (
		driver *inmemory.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver(0)
	})

	It("ranks by similarity and breaks ties by recency", func() {
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		Expect(driver.Add(ctx, []vector.Document{
			{ID: "old", Embedding: []float32{1, 0}, CreatedAt: t0},
			{ID: "new", Embedding: []float32{2, 0}, CreatedAt: t0.Add(time.Hour)},
			{ID: "far", Embedding: []float32{0, 1}, CreatedAt: t0.Add(2 * time.Hour)},
		})).To(Succeed())

		results, err := driver.Query(ctx, []float32{1, 0}, 10)
		Expect(err).NotTo(HaveOccurred())
		ids := []string{results[0].ID, results[1].ID, results[2].ID}
		Expect(ids).To(Equal([]string{"new", "old", "far"}))
	})

	It("limits results to topK", func() {
		for _, id := range []string{"a", "b", "c"} {
			Expect(driver.Add(ctx, []vector.Document{{ID: id, Embedding: []float32{1, 1}}})).To(Succeed())
		}
		results, err := driver.Query(ctx, []float32{1, 1}, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
	})

	It("pins the dimension of the first document", func() {
		Expect(driver.Add(ctx, []vector.Document{{ID: "a", Embedding: []float32{1, 0, 0}}})).To(Succeed())
		err := driver.Add(ctx, []vector.Document{{ID: "b", Embedding: []float32{1, 0}}})
		Expect(errors.Is(err, vector.ErrDimensions)).To(BeTrue())
	})

	It("gets and deletes by id", func() {
		Expect(driver.Add(ctx, []vector.Document{{ID: "a", Embedding: []float32{1}}, {ID: "b", Embedding: []float32{1}}})).To(Succeed())
		Expect(driver.Delete(ctx, []string{"a"})).To(Succeed())

		docs, err := driver.Get(ctx, []string{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(1))
		Expect(driver.Len()).To(Equal(1))
	})
})

var _ = Describe("CosineSimilarity", func() {
	It("handles degenerate vectors", func() {
		Expect(vector.CosineSimilarity(nil, nil)).To(BeZero())
		Expect(vector.CosineSimilarity([]float32{1}, []float32{1, 0})).To(BeZero())
		Expect(vector.CosineSimilarity([]float32{0, 0}, []float32{1, 0})).To(BeZero())
		Expect(vector.CosineSimilarity([]float32{1, 0}, []float32{3, 0})).To(BeNumerically("~", 1, 1e-6))
	})
})
