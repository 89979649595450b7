package storetest

import (
	"context"
	"time"

	"github.com/dogmatiq/changefeed/tokenstore"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
)

// DefaultTestTimeout is the maximum duration allowed for each test.
const DefaultTestTimeout = 3 * time.Second

// Declare declares generic behavioral tests for a specific token store
// implementation.
func Declare(
	before func(context.Context) tokenstore.Store,
	after func(),
) {
	var (
		ctx   context.Context
		store tokenstore.Store

		token1 = mustMarshal(bson.D{{Key: "_data", Value: "<token-1>"}})
		token2 = mustMarshal(bson.D{{Key: "_data", Value: "<token-2>"}})
	)

	ginkgo.BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), DefaultTestTimeout)
		ginkgo.DeferCleanup(cancel)

		store = before(ctx)
	})

	ginkgo.AfterEach(func() {
		if after != nil {
			after()
		}
	})

	ginkgo.Describe("func Load()", func() {
		ginkgo.It("returns false if there is no token stored under the key", func() {
			_, ok, err := store.Load(ctx, "<key>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())
		})

		ginkgo.It("returns the token stored under the key", func() {
			err := store.Save(ctx, "<key>", token1)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			token, ok, err := store.Load(ctx, "<key>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(token).To(gomega.Equal(token1))
		})

		ginkgo.It("does not return tokens stored under other keys", func() {
			err := store.Save(ctx, "<other>", token1)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			_, ok, err := store.Load(ctx, "<key>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())
		})

		ginkgo.It("returns an error if the context is canceled", func() {
			ctx, cancel := context.WithCancel(ctx)
			cancel()

			_, _, err := store.Load(ctx, "<key>")
			gomega.Expect(err).To(gomega.Equal(context.Canceled))
		})
	})

	ginkgo.Describe("func Save()", func() {
		ginkgo.It("replaces the existing token", func() {
			err := store.Save(ctx, "<key>", token1)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			err = store.Save(ctx, "<key>", token2)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			token, _, err := store.Load(ctx, "<key>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(token).To(gomega.Equal(token2))
		})

		ginkgo.It("does not retain the caller's slice", func() {
			buf := append(bson.Raw(nil), token1...)

			err := store.Save(ctx, "<key>", buf)
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())

			copy(buf, token2)

			token, _, err := store.Load(ctx, "<key>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
			gomega.Expect(token).To(gomega.Equal(token1))
		})

		ginkgo.It("returns an error if the context is canceled", func() {
			ctx, cancel := context.WithCancel(ctx)
			cancel()

			err := store.Save(ctx, "<key>", token1)
			gomega.Expect(err).To(gomega.Equal(context.Canceled))
		})
	})
}

func mustMarshal(v any) bson.Raw {
	data, err := bson.Marshal(v)
	if err != nil {
		panic(err)
	}

	return data
}
