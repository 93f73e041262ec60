package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/llm/provider/openai"
)

var _ = Describe("OpenAI Generator", func() {
	var (
		server   *httptest.Server
		received map[string]any
		auth     string
		status   int
	)

	BeforeEach(func() {
		received = nil
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&received)
			if status != http.StatusOK {
				http.Error(w, `{"error":{"message":"nope"}}`, status)
				return
			}
			_, _ = w.Write([]byte(`{
				"model": "gpt-4o-mini-2024",
				"choices": [{"message": {"content": "summary"}, "finish_reason": "stop"}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 3}
			}`))
		}))
		DeferCleanup(server.Close)
	})

	It("uses defaults", func() {
		g := openai.New(openai.Config{})
		Expect(g.Name()).To(Equal("openai"))
		Expect(g.Model()).To(Equal(openai.DefaultModel))
	})

	It("sends the system prompt as the first message", func() {
		g := openai.New(openai.Config{APIKey: "sk-test", BaseURL: server.URL})
		temp := 0.2
		resp, err := g.Generate(context.Background(), llm.Request{
			System:   "be brief",
			Messages: []llm.Message{llm.UserMessage("hello")},
			Params:   llm.Params{MaxTokens: 50, Temperature: &temp, JSON: true},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Text).To(Equal("summary"))
		Expect(resp.StopReason).To(Equal("stop"))
		Expect(resp.Usage.Total()).To(Equal(13))

		Expect(auth).To(Equal("Bearer sk-test"))
		Expect(received["model"]).To(Equal(openai.DefaultModel))
		Expect(received["max_tokens"]).To(BeNumerically("==", 50))
		Expect(received["response_format"]).To(Equal(map[string]any{"type": "json_object"}))
		msgs := received["messages"].([]any)
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0]).To(Equal(map[string]any{"role": "system", "content": "be brief"}))
	})

	It("classifies rate limits as transient", func() {
		status = http.StatusTooManyRequests
		g := openai.New(openai.Config{BaseURL: server.URL})
		_, err := g.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("x")}})
		Expect(llm.IsTransient(err)).To(BeTrue())
	})

	It("classifies bad requests as fatal", func() {
		status = http.StatusBadRequest
		g := openai.New(openai.Config{BaseURL: server.URL})
		_, err := g.Generate(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("x")}})
		Expect(llm.IsFatal(err)).To(BeTrue())
	})
})
