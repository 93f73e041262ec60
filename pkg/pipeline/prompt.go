package pipeline

import (
	"strings"
	"text/template"
	"time"

	"github.com/papercomputeco/spool/pkg/llm"
	"github.com/papercomputeco/spool/pkg/retrieval"
	"github.com/papercomputeco/spool/pkg/window"
)

// Prompter turns a window and its context into a generation request.
type Prompter interface {
	// Version names the template. It is part of every generation
	// fingerprint, so editing a template must change its version.
	Version() string

	Build(w window.Window, enrichments []Enrichment, context []retrieval.Result) (llm.Request, error)
}

// DefaultPromptVersion is the version of the built-in template.
const DefaultPromptVersion = "window-summary/v1"

const defaultSystemPrompt = `You write concise running notes for a long conversation. ` +
	`Summarize what happened in the window you are given: decisions, open questions, ` +
	`and anything a reader catching up would need. Use earlier notes only for continuity.`

var defaultTemplate = template.Must(template.New("window").Funcs(template.FuncMap{
	"ts": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(`Window {{.Window.Index}} ({{ts .Window.Start}} to {{ts .Window.End}}, {{len .Window.Events}} messages)
{{- if .Context}}

Earlier notes:
{{- range .Context}}
- {{.Content}}
{{- end}}
{{- end}}
{{- if .Enrichments}}

Referenced resources:
{{- range .Enrichments}}
- {{.Subject}}: {{.Description}}
{{- end}}
{{- end}}

Messages:
{{- range .Window.Events}}
[{{ts .Timestamp}}] {{if .Author}}{{.Author}}{{else}}unknown{{end}}: {{.Text}}
{{- end}}
`))

// DefaultPrompter renders windows with the built-in summary template.
type DefaultPrompter struct {
	// System overrides the built-in system prompt.
	System string

	Params llm.Params
}

// Version implements Prompter.
func (p DefaultPrompter) Version() string {
	if p.System != "" {
		return DefaultPromptVersion + "+custom-system"
	}
	return DefaultPromptVersion
}

// Build implements Prompter.
func (p DefaultPrompter) Build(w window.Window, enrichments []Enrichment, context []retrieval.Result) (llm.Request, error) {
	var b strings.Builder
	err := defaultTemplate.Execute(&b, struct {
		Window      window.Window
		Enrichments []Enrichment
		Context     []retrieval.Result
	}{w, enrichments, context})
	if err != nil {
		return llm.Request{}, err
	}

	system := p.System
	if system == "" {
		system = defaultSystemPrompt
	}
	return llm.Request{
		System:   system,
		Messages: []llm.Message{llm.UserMessage(b.String())},
		Params:   p.Params,
	}, nil
}

// maxQueryBytes bounds the text embedded to look up a window's context.
const maxQueryBytes = 4096

// queryText is the retrieval query for w: the text of its fresh events.
func queryText(w window.Window) string {
	var b strings.Builder
	for _, e := range w.Fresh() {
		if b.Len() >= maxQueryBytes {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Text)
	}
	s := b.String()
	if len(s) > maxQueryBytes {
		s = strings.ToValidUTF8(s[:maxQueryBytes], "")
	}
	return s
}
