package inmemory_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/spool/pkg/cache"
	"github.com/papercomputeco/spool/pkg/identity"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/inmemory"
	"github.com/papercomputeco/spool/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	storagetest.DriverBehavior(func() storage.Driver {
		return inmemory.NewDriver()
	})

	It("fails after Close", func() {
		d := inmemory.NewDriver()
		Expect(d.Close()).To(Succeed())

		_, _, err := d.Get(context.Background(), cache.TierLookup, identity.Identify(identity.KindURL, "x"))
		Expect(errors.Is(err, storage.ErrClosed)).To(BeTrue())
	})

	It("returns copies of cached payloads", func() {
		d := inmemory.NewDriver()
		ctx := context.Background()
		fp := identity.Identify(identity.KindURL, "x")
		_, err := d.Put(ctx, cache.TierLookup, fp, []byte("abc"))
		Expect(err).NotTo(HaveOccurred())

		e, _, _ := d.Get(ctx, cache.TierLookup, fp)
		e.Value[0] = 'z'

		again, _, _ := d.Get(ctx, cache.TierLookup, fp)
		Expect(string(again.Value)).To(Equal("abc"))
	})
})
