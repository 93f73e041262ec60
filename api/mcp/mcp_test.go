package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/api/mcp"
	apisearch "github.com/papercomputeco/spool/api/search"
	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/event"
	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/pipeline"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/spool/pkg/utils/test"
	vectorinmemory "github.com/papercomputeco/spool/pkg/vector/inmemory"
	"github.com/papercomputeco/spool/pkg/window"
)

var _ = Describe("MCP Server", func() {
	var (
		ctx     context.Context
		store   *inmemory.Driver
		c       *cache.Cache
		index   *retrieval.Index
		summary *pipeline.Summary
	)

	BeforeEach(func() {
		ctx = context.Background()
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

		orch, err := pipeline.New(pipeline.Config{
			Policy:    window.CountPolicy(5, 0),
			Cache:     c,
			Ledger:    store,
			Runs:      store,
			Generator: testutils.NewCountingGenerator(),
			Index:     index,
			Logger:    logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(orch.Close)

		base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		evs := make([]event.Event, 15)
		for i := range evs {
			evs[i] = event.Event{
				ID:        fmt.Sprintf("e%02d", i),
				Timestamp: base.Add(time.Duration(i) * time.Minute),
				Text:      fmt.Sprintf("message %d", i),
			}
		}
		summary, err = orch.Run(ctx, event.SliceSource(evs), pipeline.RunOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Windows).To(HaveLen(3))
	})

	connect := func(cfg mcp.Config) *sdk.ClientSession {
		server, err := mcp.NewServer(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(server.Handler()).NotTo(BeNil())

		serverT, clientT := sdk.NewInMemoryTransports()
		serverSession, err := server.MCPServer().Connect(ctx, serverT, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = serverSession.Close() })

		client := sdk.NewClient(&sdk.Implementation{Name: "spool-test", Version: "0.0.1"}, nil)
		session, err := client.Connect(ctx, clientT, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = session.Close() })
		return session
	}

	callText := func(session *sdk.ClientSession, name string, args any) string {
		res, err := session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.IsError).To(BeFalse())
		Expect(res.Content).NotTo(BeEmpty())
		tc, ok := res.Content[0].(*sdk.TextContent)
		Expect(ok).To(BeTrue())
		return tc.Text
	}

	Describe("NewServer", func() {
		It("requires the cache, ledger and logger", func() {
			_, err := mcp.NewServer(mcp.Config{Ledger: store, Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("cache is required")))

			_, err = mcp.NewServer(mcp.Config{Cache: c, Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("ledger is required")))

			_, err = mcp.NewServer(mcp.Config{Cache: c, Ledger: store})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})
	})

	It("registers search_context only when an index is configured", func() {
		list := func(cfg mcp.Config) []string {
			res, err := connect(cfg).ListTools(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			names := []string{}
			for _, t := range res.Tools {
				names = append(names, t.Name)
			}
			return names
		}

		Expect(list(mcp.Config{Cache: c, Ledger: store, Logger: logger.Nop()})).To(ConsistOf("window_artifact"))
		Expect(list(mcp.Config{Index: index, Cache: c, Ledger: store, Logger: logger.Nop()})).
			To(ConsistOf("window_artifact", "search_context"))
	})

	It("searches finalized artifacts", func() {
		session := connect(mcp.Config{Index: index, Cache: c, Ledger: store, Logger: logger.Nop()})

		var out apisearch.SearchOutput
		text := callText(session, "search_context", map[string]any{"query": "message", "top_k": 2})
		Expect(json.Unmarshal([]byte(text), &out)).To(Succeed())
		Expect(out.Count).To(Equal(2))
		Expect(out.Query).To(Equal("message"))
	})

	It("returns a window's artifact", func() {
		session := connect(mcp.Config{Cache: c, Ledger: store, Logger: logger.Nop()})

		w := summary.Windows[2]
		var out mcp.ArtifactOutput
		text := callText(session, "window_artifact", map[string]any{"window_id": w.WindowID.String()})
		Expect(json.Unmarshal([]byte(text), &out)).To(Succeed())
		Expect(out.ArtifactID).To(Equal(w.ArtifactID.String()))
		Expect(out.WindowIndex).To(Equal(2))
		Expect(out.ContextIDs).To(HaveLen(2))
	})

	It("reports unknown windows as tool errors", func() {
		session := connect(mcp.Config{Cache: c, Ledger: store, Logger: logger.Nop()})

		res, err := session.CallTool(ctx, &sdk.CallToolParams{
			Name:      "window_artifact",
			Arguments: map[string]any{"window_id": "not-a-window"},
		})
		Expect(err != nil || res.IsError).To(BeTrue())
	})
})
