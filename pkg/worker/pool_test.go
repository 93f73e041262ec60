package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/logger"
	"github.com/papercomputeco/spool/pkg/worker"
)

var _ = Describe("Worker Pool", func() {
	var (
		wp  *worker.Pool
		ctx context.Context
	)

	BeforeEach(func() {
		var err error
		wp, err = worker.NewPool(worker.Config{NumWorkers: 2, Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		wp.Close()
	})

	It("runs every submitted job before Wait returns", func() {
		var n atomic.Int32
		g := wp.Group()
		for range 20 {
			Expect(g.Submit(ctx, func(context.Context) error {
				n.Add(1)
				return nil
			})).To(Succeed())
		}
		Expect(g.Wait()).To(Succeed())
		Expect(n.Load()).To(Equal(int32(20)))
	})

	It("never runs more jobs at once than it has workers", func() {
		var running, peak atomic.Int32
		g := wp.Group()
		for range 10 {
			Expect(g.Submit(ctx, func(context.Context) error {
				cur := running.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				running.Add(-1)
				return nil
			})).To(Succeed())
		}
		Expect(g.Wait()).To(Succeed())
		Expect(peak.Load()).To(BeNumerically("<=", 2))
	})

	It("joins job errors and recovers panics", func() {
		boom := errors.New("boom")
		g := wp.Group()
		Expect(g.Submit(ctx, func(context.Context) error { return boom })).To(Succeed())
		Expect(g.Submit(ctx, func(context.Context) error { panic("bad") })).To(Succeed())
		Expect(g.Submit(ctx, func(context.Context) error { return nil })).To(Succeed())

		err := g.Wait()
		Expect(errors.Is(err, boom)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("panicked"))
	})

	It("blocks submission while saturated until the context ends", func() {
		release := make(chan struct{})
		g := wp.Group()
		for range 2 {
			Expect(g.Submit(ctx, func(context.Context) error {
				<-release
				return nil
			})).To(Succeed())
		}

		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := g.Submit(short, func(context.Context) error { return nil })
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())

		close(release)
		Expect(g.Wait()).To(Succeed())
	})

	It("rejects submissions after Close", func() {
		wp.Close()
		err := wp.Group().Submit(ctx, func(context.Context) error { return nil })
		Expect(err).To(MatchError(worker.ErrClosed))
	})
})
