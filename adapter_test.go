package changefeed_test

import (
	"context"
	"errors"
	"time"

	. "github.com/dogmatiq/changefeed"
	. "github.com/dogmatiq/changefeed/fixtures"
	"github.com/dogmatiq/changefeed/internal/testing/streamtest"
	"github.com/dogmatiq/dodeca/logging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
)

var _ = Describe("type ChangeStream (consumption adapters)", func() {
	var (
		ctx    context.Context
		server *streamtest.Server
		cs     *ChangeStream
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
		DeferCleanup(cancel)

		server = &streamtest.Server{}

		var err error
		cs, err = Watch(
			server,
			Collection("<db>", "<coll>"),
			nil,
			WithLogger(logging.DiscardLogger{}),
		)
		Expect(err).ShouldNot(HaveOccurred())

		DeferCleanup(func() {
			cs.Close(context.Background())
		})
	})

	// waitForGetMore blocks until the stream is waiting for the server to
	// reply to a getMore.
	waitForGetMore := func() {
		Eventually(func() int {
			return server.Count("getMore")
		}).Should(Equal(1))
	}

	Describe("concurrent calls", func() {
		It("queues a call behind one that is waiting for the server", func() {
			server.OnAggregate(CursorReply{ID: 1})

			block := make(chan struct{})
			DeferCleanup(func() { close(block) })
			server.On("getMore", streamtest.Response{Block: block})

			result := make(chan error, 2)
			for range 2 {
				go func() {
					_, err := cs.Next(ctx)
					result <- err
				}()
			}

			waitForGetMore()
			Consistently(func() int {
				return server.Count("getMore")
			}, 50*time.Millisecond).Should(Equal(1))

			Expect(cs.Close(ctx)).To(Succeed())

			Eventually(result).Should(Receive(Equal(ErrClosed)))
			Eventually(result).Should(Receive(Equal(ErrClosed)))
			Expect(server.Count("getMore")).To(Equal(1))
		})
	})

	Describe("func HasNext()", func() {
		It("returns true without consuming the event", func() {
			server.OnAggregate(CursorReply{
				ID:    1,
				Batch: []bson.Raw{InsertEvent("<token-1>", 1)},
			})

			ok, err := cs.HasNext(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = cs.HasNext(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			ev, err := cs.Next(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ev.Raw).To(Equal(InsertEvent("<token-1>", 1)))
		})

		It("returns ErrClosed when the stream is closed while waiting", func() {
			server.OnAggregate(CursorReply{ID: 1})

			go func() {
				defer GinkgoRecover()
				waitForGetMore()
				cs.Close(ctx)
			}()

			ok, err := cs.HasNext(ctx)
			Expect(err).To(Equal(ErrClosed))
			Expect(ok).To(BeFalse())
		})
	})

	Describe("func TryNext()", func() {
		It("returns a buffered event without contacting the server", func() {
			server.OnAggregate(CursorReply{
				ID: 1,
				Batch: []bson.Raw{
					InsertEvent("<token-1>", 1),
					InsertEvent("<token-2>", 2),
				},
			})

			_, ok, err := cs.TryNext(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			ev, ok, err := cs.TryNext(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(ev.Raw).To(Equal(InsertEvent("<token-2>", 2)))

			Expect(server.Count("getMore")).To(Equal(0))
		})

		It("sends a single getMore if the buffer is empty", func() {
			server.OnAggregate(CursorReply{ID: 1})
			server.OnGetMore(CursorReply{ID: 1})

			_, ok, err := cs.TryNext(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			Expect(server.Count("getMore")).To(Equal(1))
		})

		It("returns the event from the getMore reply", func() {
			server.OnAggregate(CursorReply{ID: 1})
			server.OnGetMore(CursorReply{
				ID:    1,
				Batch: []bson.Raw{InsertEvent("<token-1>", 1)},
			})

			ev, ok, err := cs.TryNext(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(ev.Raw).To(Equal(InsertEvent("<token-1>", 1)))
		})
	})

	Describe("func NextAsync()", func() {
		It("resolves the future with the next event", func() {
			server.OnAggregate(CursorReply{
				ID:    1,
				Batch: []bson.Raw{InsertEvent("<token-1>", 1)},
			})

			f := cs.NextAsync(ctx)

			ev, err := f.Await(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ev.Raw).To(Equal(InsertEvent("<token-1>", 1)))
			Expect(f.Done()).To(BeClosed())
		})

		It("resolves the future with ErrClosed when the stream is closed while waiting", func() {
			server.OnAggregate(CursorReply{ID: 1})

			f := cs.NextAsync(ctx)
			waitForGetMore()

			Expect(cs.Close(ctx)).To(Succeed())

			_, err := f.Await(ctx)
			Expect(err).To(Equal(ErrClosed))
		})

		It("allows the caller to stop waiting without abandoning the result", func() {
			block := make(chan struct{})
			server.On("aggregate", streamtest.Response{
				Reply: CursorReply{
					ID:    1,
					Batch: []bson.Raw{InsertEvent("<token-1>", 1)},
				}.Aggregate(),
				Block: block,
			})

			f := cs.NextAsync(ctx)

			awaitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()

			_, err := f.Await(awaitCtx)
			Expect(err).To(Equal(context.DeadlineExceeded))

			close(block)

			ev, err := f.Await(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ev.Raw).To(Equal(InsertEvent("<token-1>", 1)))
		})
	})

	Describe("func NextFunc()", func() {
		It("passes the next event to the function", func() {
			server.OnAggregate(CursorReply{
				ID:    1,
				Batch: []bson.Raw{InsertEvent("<token-1>", 1)},
			})

			result := make(chan ChangeEvent, 1)
			cs.NextFunc(ctx, func(ev ChangeEvent, err error) {
				defer GinkgoRecover()
				Expect(err).ShouldNot(HaveOccurred())
				result <- ev
			})

			Eventually(result).Should(Receive(Equal(ChangeEvent{Raw: InsertEvent("<token-1>", 1)})))
		})

		It("passes ErrClosed to the function when the stream is closed while waiting", func() {
			server.OnAggregate(CursorReply{ID: 1})

			result := make(chan error, 1)
			cs.NextFunc(ctx, func(_ ChangeEvent, err error) {
				result <- err
			})

			waitForGetMore()
			Expect(cs.Close(ctx)).To(Succeed())

			Eventually(result).Should(Receive(Equal(ErrClosed)))
		})
	})

	Describe("func All()", func() {
		It("yields events until the stream is invalidated", func() {
			server.OnAggregate(CursorReply{
				ID: 1,
				Batch: []bson.Raw{
					InsertEvent("<token-1>", 1),
					InsertEvent("<token-2>", 2),
					InvalidateEvent("<token-3>"),
				},
			})

			var ops []OperationType
			for ev, err := range cs.All(ctx) {
				Expect(err).ShouldNot(HaveOccurred())
				ops = append(ops, ev.OperationType())
			}

			Expect(ops).To(Equal([]OperationType{Insert, Insert, Invalidate}))
		})

		It("yields a non-resumable error once", func() {
			cause := &CommandError{Code: 2, Name: "BadValue"}

			server.OnAggregate(CursorReply{ID: 1})
			server.Fail("getMore", cause)

			var errs []error
			for _, err := range cs.All(ctx) {
				errs = append(errs, err)
			}

			Expect(errs).To(Equal([]error{cause}))
		})

		It("leaves the stream open if the loop exits early", func() {
			server.OnAggregate(CursorReply{
				ID: 1,
				Batch: []bson.Raw{
					InsertEvent("<token-1>", 1),
					InsertEvent("<token-2>", 2),
				},
			})

			for range cs.All(ctx) {
				break
			}

			Expect(cs.State()).To(Equal(Iterating))

			ev, err := cs.Next(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(ev.Raw).To(Equal(InsertEvent("<token-2>", 2)))
		})
	})

	Describe("func Transform()", func() {
		It("yields the result of applying the function to each event", func() {
			server.OnAggregate(CursorReply{
				ID: 1,
				Batch: []bson.Raw{
					InsertEvent("<token-1>", "<key-1>"),
					InsertEvent("<token-2>", "<key-2>"),
					InvalidateEvent("<token-3>"),
				},
			})

			var keys []string
			for k, err := range Transform(
				ctx,
				cs,
				func(ev ChangeEvent) (string, error) {
					doc, ok := ev.DocumentKey()
					if !ok {
						return "<none>", nil
					}
					return doc.Lookup("_id").StringValue(), nil
				},
			) {
				Expect(err).ShouldNot(HaveOccurred())
				keys = append(keys, k)
			}

			Expect(keys).To(Equal([]string{"<key-1>", "<key-2>", "<none>"}))
		})

		It("ends the sequence if the function fails, leaving the stream open", func() {
			server.OnAggregate(CursorReply{
				ID: 1,
				Batch: []bson.Raw{
					InsertEvent("<token-1>", 1),
					InsertEvent("<token-2>", 2),
				},
			})

			var errs []error
			for _, err := range Transform(
				ctx,
				cs,
				func(ChangeEvent) (int, error) {
					return 0, errors.New("<error>")
				},
			) {
				errs = append(errs, err)
			}

			Expect(errs).To(HaveLen(1))
			Expect(errs[0]).To(MatchError("<error>"))
			Expect(cs.State()).To(Equal(Iterating))
		})
	})

	Describe("func Listen()", func() {
		It("pushes events to the listener until the stream is invalidated", func() {
			server.OnAggregate(CursorReply{
				ID: 1,
				Batch: []bson.Raw{
					InsertEvent("<token-1>", 1),
					InvalidateEvent("<token-2>"),
				},
			})

			var (
				calls  []string
				events []ChangeEvent
			)

			err := cs.Listen(ctx, ListenerFuncs{
				Init:   func() { calls = append(calls, "init") },
				Change: func(ev ChangeEvent) { events = append(events, ev) },
				Error:  func(error) { calls = append(calls, "error") },
				Close:  func() { calls = append(calls, "close") },
			})
			Expect(err).ShouldNot(HaveOccurred())

			Expect(calls).To(Equal([]string{"init", "close"}))
			Expect(events).To(HaveLen(2))
			Expect(events[1].IsInvalidate()).To(BeTrue())
		})

		It("returns nil when the stream is closed, after notifying the listener", func() {
			server.OnAggregate(CursorReply{ID: 1})

			go func() {
				defer GinkgoRecover()
				waitForGetMore()
				cs.Close(ctx)
			}()

			closed := false
			err := cs.Listen(ctx, ListenerFuncs{
				Close: func() { closed = true },
			})
			Expect(err).ShouldNot(HaveOccurred())
			Expect(closed).To(BeTrue())
		})

		It("notifies the listener of the error before returning it", func() {
			server.OnAggregate(CursorReply{
				ID:    1,
				Batch: []bson.Raw{Projected(1)},
			})

			var calls []string
			err := cs.Listen(ctx, ListenerFuncs{
				Error: func(err error) {
					Expect(err).To(Equal(ErrMissingResumeToken))
					calls = append(calls, "error")
				},
				Close: func() { calls = append(calls, "close") },
			})
			Expect(err).To(Equal(ErrMissingResumeToken))
			Expect(calls).To(Equal([]string{"error", "close"}))
		})

		It("returns the context error and unregisters the listener if ctx is canceled", func() {
			server.OnAggregate(CursorReply{ID: 1})

			listenCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()

			closed := false
			err := cs.Listen(listenCtx, ListenerFuncs{
				Close: func() { closed = true },
			})
			Expect(err).To(Equal(context.DeadlineExceeded))
			Expect(cs.State()).NotTo(Equal(Closed))

			Expect(cs.Close(ctx)).To(Succeed())
			Expect(closed).To(BeFalse())
		})
	})

	Describe("consumption modes", func() {
		It("prevents listening to a stream that is being iterated", func() {
			server.OnAggregate(CursorReply{
				ID:    1,
				Batch: []bson.Raw{InsertEvent("<token-1>", 1)},
			})

			_, err := cs.Next(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			err = cs.Listen(ctx, ListenerFuncs{})
			Expect(err).To(Equal(ErrMixedConsumptionModes))
		})

		It("prevents iterating a stream that is being listened to", func() {
			server.OnAggregate(CursorReply{ID: 1})

			result := make(chan error, 1)
			go func() {
				result <- cs.Listen(ctx, ListenerFuncs{})
			}()

			waitForGetMore()

			_, err := cs.Next(ctx)
			Expect(err).To(Equal(ErrMixedConsumptionModes))

			_, _, err = cs.TryNext(ctx)
			Expect(err).To(Equal(ErrMixedConsumptionModes))

			Expect(cs.Close(ctx)).To(Succeed())
			Eventually(result).Should(Receive(BeNil()))
		})

		It("allows Start() regardless of the consumption mode", func() {
			server.OnAggregate(CursorReply{
				ID:    1,
				Batch: []bson.Raw{InsertEvent("<token-1>", 1)},
			})

			_, err := cs.Next(ctx)
			Expect(err).ShouldNot(HaveOccurred())

			Expect(cs.Start(ctx)).To(Succeed())
		})
	})
})
