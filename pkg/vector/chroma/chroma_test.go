package chroma_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	spoollogger "github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/vector"
	"github.com/papercomputeco/spool/pkg/vector/chroma"
)

// fakeChroma serves the subset of the Chroma v2 API the driver uses.
type fakeChroma struct {
	mu   sync.Mutex
	ids  []string
	embs map[string][]float32
	meta map[string]map[string]any
}

func newFakeChroma() *fakeChroma {
	return &fakeChroma{
		embs: map[string][]float32{},
		meta: map[string]map[string]any{},
	}
}

func (f *fakeChroma) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/collections/spool"):
		http.Error(w, "not found", http.StatusNotFound)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/collections"):
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "cid", "name": "spool"})
	case strings.HasSuffix(r.URL.Path, "/cid/upsert"):
		var req struct {
			IDs        []string         `json:"ids"`
			Embeddings [][]float32      `json:"embeddings"`
			Metadatas  []map[string]any `json:"metadatas"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for i, id := range req.IDs {
			if _, ok := f.embs[id]; !ok {
				f.ids = append(f.ids, id)
			}
			f.embs[id] = req.Embeddings[i]
			f.meta[id] = req.Metadatas[i]
		}
		_, _ = w.Write([]byte("{}"))
	case strings.HasSuffix(r.URL.Path, "/cid/query"):
		var req struct {
			NResults int `json:"n_results"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var ids []string
		var dists []float64
		var metas []map[string]any
		for i, id := range f.ids {
			if i >= req.NResults {
				break
			}
			ids = append(ids, id)
			dists = append(dists, float64(i))
			metas = append(metas, f.meta[id])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ids":       [][]string{ids},
			"distances": [][]float64{dists},
			"metadatas": [][]map[string]any{metas},
		})
	case strings.HasSuffix(r.URL.Path, "/cid/get"):
		var req struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var ids []string
		var embs [][]float32
		var metas []map[string]any
		for _, id := range req.IDs {
			if e, ok := f.embs[id]; ok {
				ids = append(ids, id)
				embs = append(embs, e)
				metas = append(metas, f.meta[id])
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ids": ids, "embeddings": embs, "metadatas": metas})
	case strings.HasSuffix(r.URL.Path, "/cid/delete"):
		var req struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, id := range req.IDs {
			delete(f.embs, id)
			delete(f.meta, id)
			for i, have := range f.ids {
				if have == id {
					f.ids = append(f.ids[:i], f.ids[i+1:]...)
					break
				}
			}
		}
		_, _ = w.Write([]byte("{}"))
	default:
		http.Error(w, "unexpected "+r.URL.Path, http.StatusBadRequest)
	}
}

var _ = Describe("Driver", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = spoollogger.Nop()
	})

	Describe("NewDriver", func() {
		It("should return an error when URL is empty", func() {
			_, err := chroma.NewDriver(chroma.Config{URL: ""}, logger)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("chroma URL is required"))
		})

		It("should succeed after retrying when Chroma becomes available", func() {
			var attempts atomic.Int32

			// Each startup attempt is a GET for the collection followed by a
			// POST to create it, so four failures cover two attempts.
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempt := attempts.Add(1)
				if attempt <= 4 {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}

				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]string{
					"id":   "test-collection-id",
					"name": "spool",
				})
			}))
			defer server.Close()

			driver, err := chroma.NewDriver(chroma.Config{
				URL:           server.URL,
				MaxRetries:    5,
				RetryDelay:    10 * time.Millisecond,
				MaxRetryDelay: 50 * time.Millisecond,
			}, logger)
			Expect(err).NotTo(HaveOccurred())
			Expect(driver).NotTo(BeNil())
			Expect(attempts.Load()).To(BeNumerically(">=", int32(5)))
		})

		It("should return an error after exhausting all retries", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			}))
			defer server.Close()

			_, err := chroma.NewDriver(chroma.Config{
				URL:           server.URL,
				MaxRetries:    3,
				RetryDelay:    10 * time.Millisecond,
				MaxRetryDelay: 50 * time.Millisecond,
			}, logger)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("after 3 attempts"))
			Expect(errors.Is(err, vector.ErrConnection)).To(BeTrue())
		})
	})

	Describe("operations", func() {
		var (
			server *httptest.Server
			driver *chroma.Driver
			ctx    context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			server = httptest.NewServer(newFakeChroma())
			var err error
			driver, err = chroma.NewDriver(chroma.Config{URL: server.URL}, logger)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(driver.Close()).To(Succeed())
			server.Close()
		})

		It("round-trips metadata and creation time", func() {
			created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			Expect(driver.Add(ctx, []vector.Document{
				{ID: "a", Embedding: []float32{1, 0}, Metadata: map[string]string{"window_id": "w1"}, CreatedAt: created},
				{ID: "b", Embedding: []float32{0, 1}},
			})).To(Succeed())

			results, err := driver.Query(ctx, []float32{1, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("a"))
			Expect(results[0].Score).To(BeNumerically("~", 1.0, 1e-6))
			Expect(results[0].Metadata).To(Equal(map[string]string{"window_id": "w1"}))
			Expect(results[0].CreatedAt).To(BeTemporally("==", created))

			docs, err := driver.Get(ctx, []string{"b", "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].Embedding).To(Equal([]float32{0, 1}))
		})

		It("deletes documents", func() {
			Expect(driver.Add(ctx, []vector.Document{{ID: "a", Embedding: []float32{1}}})).To(Succeed())
			Expect(driver.Delete(ctx, []string{"a"})).To(Succeed())

			docs, err := driver.Get(ctx, []string{"a"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(BeEmpty())
		})
	})

	Describe("Interface compliance", func() {
		It("should implement vector.Driver interface", func() {
			var _ vector.Driver = (*chroma.Driver)(nil)
		})
	})
})
