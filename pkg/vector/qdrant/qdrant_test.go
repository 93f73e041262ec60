package qdrant_test

import (
	"context"
	"errors"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/vector"
	"github.com/papercomputeco/spool/pkg/vector/qdrant"
)

var _ = Describe("Driver", func() {
	It("requires a host and dimensions", func() {
		_, err := qdrant.NewDriver(context.Background(), qdrant.Config{Dimensions: 4}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("host is required")))

		_, err = qdrant.NewDriver(context.Background(), qdrant.Config{Host: "localhost"}, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("dimensions")))
	})

	Describe("against a live server", func() {
		var (
			driver *qdrant.Driver
			ctx    context.Context
		)

		BeforeEach(func() {
			host := os.Getenv("SPOOL_TEST_QDRANT_HOST")
			if host == "" {
				Skip("SPOOL_TEST_QDRANT_HOST not set")
			}
			ctx = context.Background()

			var err error
			driver, err = qdrant.NewDriver(ctx, qdrant.Config{
				Host:           host,
				CollectionName: "spool_test",
				Dimensions:     3,
			}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(driver.Close)
		})

		It("stores, queries and deletes documents", func() {
			created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
			Expect(driver.Add(ctx, []vector.Document{
				{ID: "artifact-a", Embedding: []float32{1, 0, 0}, Metadata: map[string]string{"window_id": "w"}, CreatedAt: created},
				{ID: "artifact-b", Embedding: []float32{0, 1, 0}},
			})).To(Succeed())

			results, err := driver.Query(ctx, []float32{1, 0, 0}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("artifact-a"))
			Expect(results[0].Metadata).To(HaveKeyWithValue("window_id", "w"))
			Expect(results[0].CreatedAt).To(BeTemporally("==", created))

			Expect(driver.Delete(ctx, []string{"artifact-a", "artifact-b"})).To(Succeed())
			docs, err := driver.Get(ctx, []string{"artifact-a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(BeEmpty())
		})

		It("rejects embeddings of the wrong size", func() {
			err := driver.Add(ctx, []vector.Document{{ID: "x", Embedding: []float32{1}}})
			Expect(errors.Is(err, vector.ErrDimensions)).To(BeTrue())
		})
	})
})
