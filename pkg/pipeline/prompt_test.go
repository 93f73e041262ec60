package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/event"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/pipeline"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/window"
)

func buildOne(evs []event.Event) window.Window {
	seq, err := window.Build(func(yield func(event.Event) bool) {
		for _, e := range evs {
			if !yield(e) {
				return
			}
		}
	}, window.CountPolicy(len(evs), 0))
	Expect(err).NotTo(HaveOccurred())
	for w := range seq {
		return w
	}
	Fail("no window built")
	return window.Window{}
}

var _ = Describe("References", func() {
	It("deduplicates normalized URLs and attachments in order", func() {
		evs := makeEvents(3)
		evs[0].Text = "read https://Example.com/a?b=2&a=1, then https://example.com/a?a=1&b=2"
		evs[1].Attachments = []event.Attachment{{ID: "x", Name: "shot.png", Digest: "sha256:1"}}
		evs[2].Attachments = []event.Attachment{{ID: "y", Name: "copy.png", Digest: "sha256:1"}}

		refs := pipeline.References(buildOne(evs))
		Expect(refs).To(HaveLen(2))
		Expect(refs[0].Kind).To(Equal(pipeline.RefURL))
		Expect(refs[0].URL).To(Equal("https://example.com/a?a=1&b=2"))
		Expect(refs[0].ID).To(Equal(identity.URL("https://example.com/a?a=1&b=2")))
		Expect(refs[1].Kind).To(Equal(pipeline.RefMedia))
		Expect(refs[1].Subject()).To(Equal("shot.png"))
	})

	It("finds nothing in plain text", func() {
		Expect(pipeline.References(buildOne(makeEvents(2)))).To(BeEmpty())
	})
})

var _ = Describe("DefaultPrompter", func() {
	It("renders messages, context and enrichments", func() {
		w := buildOne(makeEvents(2))
		req, err := pipeline.DefaultPrompter{}.Build(w,
			[]pipeline.Enrichment{{Subject: "https://example.com", Description: "a landing page"}},
			[]retrieval.Result{{Content: "earlier summary"}},
		)
		Expect(err).NotTo(HaveOccurred())

		Expect(req.System).NotTo(BeEmpty())
		Expect(req.Messages).To(HaveLen(1))
		Expect(req.Messages[0].Role).To(Equal(llm.RoleUser))

		body := req.Messages[0].Content
		Expect(body).To(HavePrefix("Window 0 ("))
		Expect(body).To(ContainSubstring("- earlier summary"))
		Expect(body).To(ContainSubstring("- https://example.com: a landing page"))
		Expect(body).To(ContainSubstring("ana: message 1 about the deploy plan"))
		Expect(body).To(ContainSubstring("ben: message 2 about the deploy plan"))
	})

	It("versions a custom system prompt separately", func() {
		Expect(pipeline.DefaultPrompter{}.Version()).To(Equal(pipeline.DefaultPromptVersion))
		Expect(pipeline.DefaultPrompter{System: "be brief"}.Version()).NotTo(Equal(pipeline.DefaultPromptVersion))
	})
})
