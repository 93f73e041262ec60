package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apisearch "github.com/papercomputeco/spool/api/search"
	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/event"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/pipeline"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/spool/pkg/utils/test"
	vectorinmemory "github.com/papercomputeco/spool/pkg/vector/inmemory"
	"github.com/papercomputeco/spool/pkg/window"
)

func apiEvents(n int) []event.Event {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	evs := make([]event.Event, n)
	for i := range evs {
		topic := "database migration"
		if i >= 10 {
			topic = "rollback"
		}
		evs[i] = event.Event{
			ID:        fmt.Sprintf("msg-%03d", i+1),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Author:    "ana",
			Text:      fmt.Sprintf("note %d on the %s plan", i+1, topic),
		}
	}
	return evs
}

func getJSON(s *Server, path string, out any) int {
	req, err := http.NewRequest(http.MethodGet, path, nil)
	Expect(err).NotTo(HaveOccurred())

	resp, err := s.app.Test(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	if out != nil {
		Expect(json.Unmarshal(body, out)).To(Succeed(), string(body))
	}
	return resp.StatusCode
}

var _ = Describe("Server", func() {
	var (
		store   *inmemory.Driver
		c       *cache.Cache
		index   *retrieval.Index
		server  *Server
		summary *pipeline.Summary
	)

	BeforeEach(func() {
		store = inmemory.NewDriver()
		c = cache.New(store, logger.Nop())

		var err error
		index, err = retrieval.New(retrieval.Config{
			Vectors:  vectorinmemory.NewDriver(0),
			Embedder: testutils.NewMockEmbedder(),
			Cache:    c,
			Logger:   logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		gen := testutils.NewCountingGenerator()
		gen.Respond = func(req llm.Request) (string, error) {
			if strings.Contains(req.Messages[len(req.Messages)-1].Content, "rollback") {
				return "rollback checklist", nil
			}
			return "database migration plan", nil
		}

		orch, err := pipeline.New(pipeline.Config{
			Policy:    window.CountPolicy(10, 0),
			Cache:     c,
			Ledger:    store,
			Runs:      store,
			Generator: gen,
			Index:     index,
			Logger:    logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(orch.Close)

		summary, err = orch.Run(context.Background(), event.SliceSource(apiEvents(20)), pipeline.RunOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Windows).To(HaveLen(2))

		server, err = NewServer(Config{ListenAddr: ":0", Cache: c, Index: index}, store, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	It("answers ping", func() {
		var body string
		Expect(getJSON(server, "/ping", &body)).To(Equal(fiber.StatusOK))
		Expect(body).To(Equal("pong"))
	})

	It("lists runs", func() {
		var body struct {
			Count int `json:"count"`
			Runs  []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"runs"`
		}
		Expect(getJSON(server, "/runs", &body)).To(Equal(fiber.StatusOK))
		Expect(body.Count).To(Equal(1))
		Expect(body.Runs[0].ID).To(Equal(summary.RunID.String()))
		Expect(body.Runs[0].Status).To(Equal("completed"))
	})

	Describe("/ledger", func() {
		It("filters records by stage", func() {
			var body struct {
				Count int `json:"count"`
			}
			Expect(getJSON(server, "/ledger?stage=emit", &body)).To(Equal(fiber.StatusOK))
			Expect(body.Count).To(Equal(2))
		})

		It("rejects unknown stages", func() {
			Expect(getJSON(server, "/ledger?stage=publish", nil)).To(Equal(fiber.StatusBadRequest))
		})

		It("returns every stage of one window", func() {
			var body LedgerResponse
			id := summary.Windows[0].WindowID.String()
			Expect(getJSON(server, "/ledger/"+id, &body)).To(Equal(fiber.StatusOK))
			Expect(body.WindowID).To(Equal(id))
			Expect(body.Records).To(HaveLen(4))
			for _, r := range body.Records {
				Expect(r.Status).To(BeEquivalentTo("done"))
			}
		})

		It("returns 404 for an unknown window and 400 for a malformed one", func() {
			Expect(getJSON(server, "/ledger/00000000-0000-0000-0000-000000000001", nil)).To(Equal(fiber.StatusNotFound))
			Expect(getJSON(server, "/ledger/not-a-uuid", nil)).To(Equal(fiber.StatusBadRequest))
		})
	})

	Describe("/artifacts", func() {
		It("returns the latest artifact of a window", func() {
			var art pipeline.Artifact
			w := summary.Windows[1]
			Expect(getJSON(server, "/artifacts/"+w.WindowID.String(), &art)).To(Equal(fiber.StatusOK))
			Expect(art.ID).To(Equal(w.ArtifactID))
			Expect(art.WindowIndex).To(Equal(1))
			Expect(art.ContextIDs).To(ConsistOf(summary.Windows[0].ArtifactID))
		})

		It("returns 404 when nothing was generated", func() {
			var body ErrorResponse
			Expect(getJSON(server, "/artifacts/00000000-0000-0000-0000-000000000001", &body)).To(Equal(fiber.StatusNotFound))
			Expect(body.Error).To(ContainSubstring("artifact not found"))
		})
	})

	Describe("/search", func() {
		It("returns the closest artifacts", func() {
			var out apisearch.SearchOutput
			Expect(getJSON(server, "/search?q=rollback&k=1", &out)).To(Equal(fiber.StatusOK))
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].WindowID).To(Equal(summary.Windows[1].WindowID.String()))
			Expect(out.Degraded).To(BeFalse())
		})

		It("validates parameters", func() {
			var body ErrorResponse
			Expect(getJSON(server, "/search", &body)).To(Equal(fiber.StatusBadRequest))
			Expect(body.Error).To(ContainSubstring("q parameter is required"))

			Expect(getJSON(server, "/search?q=x&k=abc", &body)).To(Equal(fiber.StatusBadRequest))
			Expect(body.Error).To(ContainSubstring("k must be a positive integer"))
			Expect(getJSON(server, "/search?q=x&k=0", nil)).To(Equal(fiber.StatusBadRequest))
		})

		It("returns 503 when retrieval is disabled", func() {
			plain, err := NewServer(Config{ListenAddr: ":0"}, store, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			Expect(getJSON(plain, "/search?q=x", nil)).To(Equal(fiber.StatusServiceUnavailable))
		})
	})

	It("reports cache and index counters", func() {
		var body StatsResponse
		Expect(getJSON(server, "/stats", &body)).To(Equal(fiber.StatusOK))
		Expect(body.Index).NotTo(BeNil())
		Expect(body.Index.Inserts).To(BeEquivalentTo(2))
		Expect(body.Cache).To(HaveKey(cache.TierGeneration))
	})

	It("serves expvar", func() {
		var vars map[string]any
		Expect(getJSON(server, "/debug/vars", &vars)).To(Equal(fiber.StatusOK))
		Expect(vars).To(HaveKey("memstats"))
	})
})
