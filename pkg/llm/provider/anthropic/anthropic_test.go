package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/llm/provider/anthropic"
)

var _ = Describe("Anthropic Generator", func() {
	var (
		server   *httptest.Server
		received map[string]any
		headers  http.Header
		body     string
	)

	BeforeEach(func() {
		body = `{
			"model": "claude-haiku",
			"content": [{"type": "text", "text": "part one "}, {"type": "text", "text": "part two"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 7, "output_tokens": 4}
		}`
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers = r.Header.Clone()
			_ = json.NewDecoder(r.Body).Decode(&received)
			_, _ = w.Write([]byte(body))
		}))
		DeferCleanup(server.Close)
	})

	It("folds system messages into the system prompt", func() {
		g := anthropic.New(anthropic.Config{APIKey: "sk-ant", BaseURL: server.URL})
		resp, err := g.Generate(context.Background(), llm.Request{
			System: "base",
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "extra"},
				llm.UserMessage("hello"),
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Text).To(Equal("part one part two"))
		Expect(resp.Usage.PromptTokens).To(Equal(7))

		Expect(headers.Get("x-api-key")).To(Equal("sk-ant"))
		Expect(headers.Get("anthropic-version")).NotTo(BeEmpty())
		Expect(received["system"]).To(Equal("base\n\nextra"))
		Expect(received["max_tokens"]).To(BeNumerically("==", anthropic.DefaultMaxTokens))
		Expect(received["messages"]).To(HaveLen(1))
	})

	It("fails fatally on empty content", func() {
		body = `{"content": []}`
		g := anthropic.New(anthropic.Config{BaseURL: server.URL})
		_, err := g.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("x")}})
		Expect(llm.IsFatal(err)).To(BeTrue())
	})
})
