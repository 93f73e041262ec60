package runcmder_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	spoolcmder "github.com/papercomputeco/spool/cmd/spool"
	"github.com/papercomputeco/spool/pkg/event"
)

type runSummary struct {
	Windows []struct {
		Index  int    `json:"index"`
		Status string `json:"status"`
	} `json:"windows"`
	Counts struct {
		Windows      int `json:"windows"`
		Done         int `json:"done"`
		Skipped      int `json:"skipped"`
		BackendCalls int `json:"backend_calls"`
	} `json:"counts"`
}

func writeEvents(path string, n int) {
	var buf bytes.Buffer
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	enc := json.NewEncoder(&buf)
	for i := range n {
		Expect(enc.Encode(event.Event{
			ID:        fmt.Sprintf("evt-%02d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Author:    "ops",
			Text:      fmt.Sprintf("deploy step %d finished", i),
		})).To(Succeed())
	}
	Expect(os.WriteFile(path, buf.Bytes(), 0o644)).To(Succeed())
}

var _ = Describe("run command", func() {
	var (
		configDir string
		input     string
		server    *httptest.Server
		calls     atomic.Int32
		status    int
	)

	BeforeEach(func() {
		configDir = GinkgoT().TempDir()
		input = filepath.Join(GinkgoT().TempDir(), "events.jsonl")
		writeEvents(input, 10)

		calls.Store(0)
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.URL.Path != "/api/chat" {
				http.NotFound(w, r)
				return
			}
			if status != http.StatusOK {
				http.Error(w, `{"error":"model not found"}`, status)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"## Deploy\n\nAll steps finished."},"done_reason":"stop"}`))
		}))
		DeferCleanup(server.Close)

		GinkgoT().Setenv("SPOOL_RETRIEVAL_ENABLED", "false")
		GinkgoT().Setenv("SPOOL_PIPELINE_MAX_ATTEMPTS", "1")
	})

	execute := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := spoolcmder.NewSpoolCmd()
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(append([]string{
			"run",
			"--config-dir", configDir,
			"--base-url", server.URL,
			"--eventstream", "none",
			"--window-count", "5",
		}, args...))
		err := cmd.Execute()
		return out.String(), err
	}

	decode := func(out string) runSummary {
		var s runSummary
		Expect(json.Unmarshal([]byte(out), &s)).To(Succeed())
		return s
	}

	It("processes every window and skips them on the next run", func() {
		out, err := execute("-i", input, "--json")
		Expect(err).NotTo(HaveOccurred())

		first := decode(out)
		Expect(first.Counts.Windows).To(Equal(2))
		Expect(first.Counts.Done).To(Equal(2))
		Expect(calls.Load()).To(BeEquivalentTo(2))

		out, err = execute("-i", input, "--json")
		Expect(err).NotTo(HaveOccurred())

		second := decode(out)
		Expect(second.Counts.Skipped).To(Equal(2))
		Expect(second.Counts.BackendCalls).To(Equal(0))
		Expect(calls.Load()).To(BeEquivalentTo(2))
	})

	It("regenerates windows when asked to refresh generation", func() {
		_, err := execute("-i", input, "--json")
		Expect(err).NotTo(HaveOccurred())

		_, err = execute("-i", input, "--json", "--refresh", "generation")
		Expect(err).NotTo(HaveOccurred())
		Expect(calls.Load()).To(BeEquivalentTo(4))
	})

	It("reads events from stdin", func() {
		data, err := os.ReadFile(input)
		Expect(err).NotTo(HaveOccurred())

		var out bytes.Buffer
		cmd := spoolcmder.NewSpoolCmd()
		cmd.SetOut(&out)
		cmd.SetIn(bytes.NewReader(data))
		cmd.SetArgs([]string{
			"run", "-i", "-", "--json",
			"--config-dir", configDir,
			"--base-url", server.URL,
			"--eventstream", "none",
			"--window-count", "5",
		})
		Expect(cmd.Execute()).To(Succeed())
		Expect(decode(out.String()).Counts.Done).To(Equal(2))
	})

	It("prints a readable summary", func() {
		out, err := execute("-i", input)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("processing " + input))
		Expect(out).To(ContainSubstring("2 windows: 2 done"))
		Expect(out).To(ContainSubstring("#0"))
		Expect(out).To(ContainSubstring("#1"))
	})

	It("returns an error when windows fail", func() {
		status = http.StatusBadRequest

		_, err := execute("-i", input, "--json")
		Expect(err).To(MatchError(ContainSubstring("2 of 2 windows failed")))
	})

	It("rejects an unknown refresh scope", func() {
		_, err := execute("-i", input, "--refresh", "everything")
		Expect(err).To(HaveOccurred())
	})

	It("refuses to watch stdin", func() {
		_, err := execute("-i", "-", "--watch")
		Expect(err).To(MatchError(ContainSubstring("--watch")))
	})

	It("requires an input", func() {
		_, err := execute()
		Expect(err).To(MatchError(ContainSubstring(`"input" not set`)))
	})

	It("reports a missing input file", func() {
		_, err := execute("-i", filepath.Join(configDir, "missing.jsonl"), "--json")
		Expect(err).To(MatchError(ContainSubstring("missing.jsonl")))
	})
})
