package window_test

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/event"
	"github.com/papercomputeco/spool/pkg/window"
)

var epoch = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func makeEvents(n int, spacing time.Duration) []event.Event {
	evs := make([]event.Event, n)
	for i := range evs {
		evs[i] = event.Event{
			ID:        fmt.Sprintf("msg-%04d", i+1),
			Timestamp: epoch.Add(time.Duration(i) * spacing),
			Text:      fmt.Sprintf("message %d", i+1),
		}
	}
	return evs
}

func buildAll(evs []event.Event, p window.Policy, opts ...window.Option) []window.Window {
	b, err := window.NewBuilder(p, opts...)
	Expect(err).NotTo(HaveOccurred())
	return slices.Collect(b.Windows(seq2(evs)))
}

func seq2(evs []event.Event) func(func(event.Event, error) bool) {
	return func(yield func(event.Event, error) bool) {
		for _, e := range evs {
			if !yield(e, nil) {
				return
			}
		}
	}
}

var _ = Describe("Builder", func() {
	Describe("count windows", func() {
		It("splits 1,000 events into 10 windows of 100 without overlap", func() {
			ws := buildAll(makeEvents(1000, time.Minute), window.CountPolicy(100, 0))
			Expect(ws).To(HaveLen(10))
			for i, w := range ws {
				Expect(w.Index).To(Equal(i))
				Expect(w.Events).To(HaveLen(100))
				Expect(w.Overlap).To(BeZero())
				Expect(w.Partial).To(BeFalse())
			}
			Expect(ws[9].Events[99].ID).To(Equal("msg-1000"))
		})

		It("produces identical windows on every run", func() {
			evs := makeEvents(1000, time.Minute)
			a := buildAll(evs, window.CountPolicy(100, 0.2))
			b := buildAll(evs, window.CountPolicy(100, 0.2))
			Expect(a).To(HaveLen(len(b)))
			for i := range a {
				Expect(a[i].ID).To(Equal(b[i].ID))
				Expect(a[i].MemberIDs()).To(Equal(b[i].MemberIDs()))
			}
		})

		It("repeats the trailing overlap fraction at the start of the next window", func() {
			ws := buildAll(makeEvents(1000, time.Minute), window.CountPolicy(100, 0.2))
			for i := 0; i+1 < len(ws); i++ {
				cur, next := ws[i].MemberIDs(), ws[i+1].MemberIDs()
				Expect(next[:20]).To(Equal(cur[len(cur)-20:]))
				Expect(ws[i+1].Overlap).To(Equal(20))
				Expect(ws[i+1].Fresh()).To(HaveLen(100))
			}
		})

		It("keeps windows over a prefix stable when the stream is extended", func() {
			evs := makeEvents(1000, time.Minute)
			runA := buildAll(evs[:500], window.CountPolicy(100, 0.2))
			runB := buildAll(evs, window.CountPolicy(100, 0.2))

			Expect(runA).To(HaveLen(5))
			for i := range runA {
				Expect(runA[i].ID).To(Equal(runB[i].ID))
			}
			Expect(runA[4].Partial).To(BeFalse())
		})

		It("flags a trailing short window as partial", func() {
			ws := buildAll(makeEvents(250, time.Minute), window.CountPolicy(100, 0))
			Expect(ws).To(HaveLen(3))
			Expect(ws[2].Events).To(HaveLen(50))
			Expect(ws[2].Partial).To(BeTrue())
		})

		It("gives different policies different window ids", func() {
			evs := makeEvents(100, time.Minute)
			a := buildAll(evs, window.CountPolicy(100, 0))
			b := buildAll(evs, window.CountPolicy(100, 0.1))
			Expect(a[0].ID).NotTo(Equal(b[0].ID))
		})
	})

	Describe("size windows", func() {
		It("closes a window once cumulative bytes reach the threshold", func() {
			evs := []event.Event{
				{ID: "a", Timestamp: epoch, Text: strings.Repeat("x", 40)},
				{ID: "b", Timestamp: epoch, Text: strings.Repeat("x", 70)},
				{ID: "c", Timestamp: epoch, Text: strings.Repeat("x", 100)},
				{ID: "d", Timestamp: epoch, Text: strings.Repeat("x", 10)},
			}
			ws := buildAll(evs, window.SizePolicy(100, 0))
			Expect(ws).To(HaveLen(3))
			Expect(ws[0].MemberIDs()).To(Equal([]string{"a", "b"}))
			Expect(ws[1].MemberIDs()).To(Equal([]string{"c"}))
			Expect(ws[2].MemberIDs()).To(Equal([]string{"d"}))
			Expect(ws[2].Partial).To(BeTrue())
		})
	})

	Describe("time windows", func() {
		It("aligns boundaries to calendar cut points", func() {
			start := time.Date(2024, 5, 1, 10, 17, 0, 0, time.UTC)
			evs := makeEvents(10, 20*time.Minute)
			for i := range evs {
				evs[i].Timestamp = start.Add(time.Duration(i) * 20 * time.Minute)
			}
			ws := buildAll(evs, window.TimePolicy(1, window.UnitHours, 0))

			Expect(ws[0].Start).To(Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
			Expect(ws[0].End).To(Equal(time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)))
			Expect(ws[0].MemberIDs()).To(Equal([]string{"msg-0001", "msg-0002", "msg-0003"}))
			Expect(ws[1].Start).To(Equal(time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)))
			Expect(ws[1].Events).To(HaveLen(3))
		})

		It("does not emit windows for empty buckets", func() {
			evs := []event.Event{
				{ID: "a", Timestamp: epoch},
				{ID: "b", Timestamp: epoch.Add(72 * time.Hour)},
			}
			ws := buildAll(evs, window.TimePolicy(1, window.UnitDays, 0))
			Expect(ws).To(HaveLen(2))
			Expect(ws[1].Start).To(Equal(epoch.Add(72 * time.Hour)))
		})

		It("always flags the last time window as partial", func() {
			ws := buildAll(makeEvents(48, time.Hour), window.TimePolicy(12, window.UnitHours, 0))
			Expect(ws).To(HaveLen(4))
			Expect(ws[2].Partial).To(BeFalse())
			Expect(ws[3].Partial).To(BeTrue())
		})
	})

	Describe("input errors", func() {
		var rejected []window.Rejection

		BeforeEach(func() {
			rejected = nil
		})

		onReject := window.WithRejectHandler(func(r window.Rejection) {
			rejected = append(rejected, r)
		})

		It("rejects events far out of order and continues", func() {
			evs := makeEvents(5, time.Hour)
			evs[3].Timestamp = epoch.Add(-time.Hour)
			ws := buildAll(evs, window.CountPolicy(10, 0), onReject)

			Expect(ws).To(HaveLen(1))
			Expect(ws[0].Events).To(HaveLen(4))
			Expect(rejected).To(HaveLen(1))
			Expect(rejected[0].Position).To(Equal(3))
			Expect(errors.Is(rejected[0].Err, window.ErrOutOfOrder)).To(BeTrue())
		})

		It("accepts small regressions within the tolerance", func() {
			evs := makeEvents(3, time.Minute)
			evs[2].Timestamp = evs[1].Timestamp.Add(-10 * time.Second)
			ws := buildAll(evs, window.CountPolicy(10, 0), onReject, window.WithTolerance(time.Minute))

			Expect(rejected).To(BeEmpty())
			Expect(ws[0].Events).To(HaveLen(3))
		})

		It("rejects events without ids and source errors", func() {
			b, err := window.NewBuilder(window.CountPolicy(10, 0), onReject)
			Expect(err).NotTo(HaveOccurred())

			src := func(yield func(event.Event, error) bool) {
				_ = yield(event.Event{ID: "a", Timestamp: epoch}, nil) &&
					yield(event.Event{}, errors.New("bad line")) &&
					yield(event.Event{Timestamp: epoch}, nil) &&
					yield(event.Event{ID: "b", Timestamp: epoch}, nil)
			}
			ws := slices.Collect(b.Windows(src))

			Expect(ws).To(HaveLen(1))
			Expect(ws[0].MemberIDs()).To(Equal([]string{"a", "b"}))
			Expect(rejected).To(HaveLen(2))
			Expect(errors.Is(rejected[1].Err, event.ErrMissingID)).To(BeTrue())
		})
	})

	It("yields nothing for an empty stream", func() {
		Expect(buildAll(nil, window.CountPolicy(10, 0.5))).To(BeEmpty())
	})

	It("stops early when the consumer stops", func() {
		b, err := window.NewBuilder(window.CountPolicy(10, 0))
		Expect(err).NotTo(HaveOccurred())
		n := 0
		for range b.Windows(seq2(makeEvents(100, time.Second))) {
			n++
			if n == 2 {
				break
			}
		}
		Expect(n).To(Equal(2))
	})

	It("detects edited members through the content hash", func() {
		evs := makeEvents(10, time.Minute)
		a := buildAll(evs, window.CountPolicy(10, 0))[0]
		evs[4].Text = "edited"
		b := buildAll(evs, window.CountPolicy(10, 0))[0]

		Expect(a.ID).To(Equal(b.ID))
		Expect(a.ContentHash()).NotTo(Equal(b.ContentHash()))
	})
})

var _ = Describe("Policy", func() {
	DescribeTable("Validate",
		func(p window.Policy, ok bool) {
			err := p.Validate()
			if ok {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(errors.Is(err, window.ErrInvalidPolicy)).To(BeTrue())
			}
		},
		Entry("count", window.CountPolicy(100, 0.2), true),
		Entry("time", window.TimePolicy(6, window.UnitHours, 0), true),
		Entry("size", window.SizePolicy(1024, 0.5), true),
		Entry("overlap of one", window.CountPolicy(100, 1), false),
		Entry("negative overlap", window.CountPolicy(100, -0.1), false),
		Entry("zero count", window.CountPolicy(0, 0), false),
		Entry("unknown unit", window.TimePolicy(1, "weeks", 0), false),
		Entry("unknown mode", window.Policy{Mode: "lines"}, false),
	)

	It("parses unit spellings", func() {
		u, err := window.ParseUnit("Day")
		Expect(err).NotTo(HaveOccurred())
		Expect(u).To(Equal(window.UnitDays))

		_, err = window.ParseUnit("fortnight")
		Expect(err).To(HaveOccurred())
	})

	It("builds from a plain event sequence", func() {
		seq, err := window.Build(slices.Values(makeEvents(30, time.Minute)), window.CountPolicy(10, 0))
		Expect(err).NotTo(HaveOccurred())
		Expect(slices.Collect(seq)).To(HaveLen(3))

		_, err = window.Build(slices.Values(makeEvents(1, time.Minute)), window.CountPolicy(0, 0))
		Expect(err).To(HaveOccurred())
	})
})
