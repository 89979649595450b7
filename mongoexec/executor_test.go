package mongoexec_test

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dogmatiq/changefeed"
	. "github.com/dogmatiq/changefeed/mongoexec"
	"github.com/dogmatiq/dodeca/logging"
	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ = Describe("func convertError()", func() {
	It("returns the context error if the context is done", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := ConvertError(ctx, errors.New("<error>"))
		Expect(err).To(Equal(context.Canceled))
	})

	It("converts network errors", func() {
		cause := mongo.CommandError{
			Message: "<message>",
			Labels:  []string{"NetworkError"},
		}

		err := ConvertError(context.Background(), cause)
		Expect(err).To(Equal(&changefeed.NetworkError{Cause: cause}))
	})

	It("converts command errors", func() {
		cause := mongo.CommandError{
			Code:    43,
			Name:    "CursorNotFound",
			Message: "<message>",
			Labels:  []string{changefeed.ResumableLabel},
		}

		err := ConvertError(context.Background(), cause)
		Expect(err).To(Equal(&changefeed.CommandError{
			Code:    43,
			Name:    "CursorNotFound",
			Message: "<message>",
			Labels:  []string{changefeed.ResumableLabel},
		}))
	})

	It("returns other errors unchanged", func() {
		cause := errors.New("<error>")

		err := ConvertError(context.Background(), cause)
		Expect(err).To(BeIdenticalTo(cause))
	})
})

var _ = Describe("func describe()", func() {
	marshal := func(v any) bson.Raw {
		data, err := bson.Marshal(v)
		Expect(err).ShouldNot(HaveOccurred())
		return data
	}

	It("builds a description from the hello and buildInfo replies", func() {
		desc, err := DescribeServer(
			marshal(bson.D{
				{Key: "me", Value: "db1:27017"},
				{Key: "maxWireVersion", Value: int32(17)},
			}),
			marshal(bson.D{
				{Key: "version", Value: "6.0.4"},
			}),
		)
		Expect(err).ShouldNot(HaveOccurred())

		Expect(desc.Address).To(Equal("db1:27017"))
		Expect(desc.MaxWireVersion).To(Equal(int32(17)))
		Expect(desc.Version.Equal(version.Must(version.NewVersion("6.0.4")))).To(BeTrue())
	})

	It("leaves the version unset if it can not be parsed", func() {
		desc, err := DescribeServer(
			marshal(bson.D{{Key: "maxWireVersion", Value: int32(8)}}),
			marshal(bson.D{{Key: "version", Value: "<garbage>"}}),
		)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(desc.Version).To(BeNil())
	})
})

var _ = Describe("type Executor", func() {
	var (
		ctx    context.Context
		client *mongo.Client
		coll   *mongo.Collection
		exec   *Executor
	)

	BeforeEach(func() {
		uri := os.Getenv("CHANGEFEED_TEST_MONGODB_URI")
		if uri == "" {
			Skip("CHANGEFEED_TEST_MONGODB_URI is not set")
		}

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		var err error
		client, err = mongo.Connect(ctx, options.Client().ApplyURI(uri))
		Expect(err).ShouldNot(HaveOccurred())
		DeferCleanup(func() {
			client.Disconnect(context.Background())
		})

		coll = client.
			Database("changefeed_test").
			Collection(uuid.NewString())
		DeferCleanup(func() {
			coll.Drop(context.Background())
		})

		exec = &Executor{
			Client: client,
			Logger: logging.DiscardLogger{},
		}
		DeferCleanup(func() {
			exec.Close(context.Background())
		})
	})

	It("delivers events from a real deployment", func() {
		cs, err := changefeed.Watch(
			exec,
			changefeed.Collection(coll.Database().Name(), coll.Name()),
			nil,
			changefeed.WithLogger(logging.DiscardLogger{}),
			changefeed.WithMaxAwaitTime(100*time.Millisecond),
		)
		Expect(err).ShouldNot(HaveOccurred())
		defer cs.Close(ctx)

		Expect(cs.Start(ctx)).To(Succeed())

		_, err = coll.InsertOne(ctx, bson.D{{Key: "_id", Value: "<key>"}})
		Expect(err).ShouldNot(HaveOccurred())

		ev, err := cs.Next(ctx)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ev.OperationType()).To(Equal(changefeed.Insert))

		key, ok := ev.DocumentKey()
		Expect(ok).To(BeTrue())
		Expect(key.Lookup("_id").StringValue()).To(Equal("<key>"))
	})

	It("reports command failures as command errors", func() {
		_, err := exec.Execute(ctx, changefeed.Command{
			Database: "admin",
			Document: bson.D{{Key: "<unknown-command>", Value: 1}},
		})

		var ce *changefeed.CommandError
		Expect(errors.As(err, &ce)).To(BeTrue())
	})

	It("returns an error after it is closed", func() {
		Expect(exec.Close(ctx)).To(Succeed())

		_, err := exec.Execute(ctx, changefeed.Command{
			Database: "admin",
			Document: bson.D{{Key: "ping", Value: 1}},
		})
		Expect(err).To(MatchError("executor is closed"))
	})
})
