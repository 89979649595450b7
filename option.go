package changefeed

import (
	"time"

	"github.com/dogmatiq/changefeed/tokenstore"
	"github.com/dogmatiq/dodeca/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	// DefaultFullDocument is the default fullDocument mode.
	//
	// It is overridden by the WithFullDocument() option.
	DefaultFullDocument = options.Default

	// DefaultMaxAwaitTime is the default duration that the server waits for
	// new events before replying to a getMore with an empty batch. Zero means
	// the server's own default is used.
	//
	// It is overridden by the WithMaxAwaitTime() option.
	DefaultMaxAwaitTime time.Duration

	// DefaultReadPreference is the default criterion used to select the server
	// that the stream's commands are run against.
	//
	// It is overridden by the WithReadPreference() option.
	DefaultReadPreference = readpref.Primary()

	// DefaultLogger is the default target for log messages produced by change
	// streams.
	//
	// It is overridden by the WithLogger() option.
	DefaultLogger = logging.DefaultLogger
)

// Pipeline is a sequence of aggregation stages applied to change events after
// the $changeStream stage.
type Pipeline []bson.D

// WatchOption configures the behavior of a change stream.
type WatchOption func(*watchOptions)

// WithFullDocument returns a watch option that controls whether update events
// include the current version of the document.
//
// If this option is omitted or m is empty, DefaultFullDocument is used.
func WithFullDocument(m options.FullDocument) WatchOption {
	return func(opts *watchOptions) {
		opts.FullDocument = m
	}
}

// WithFullDocumentBeforeChange returns a watch option that controls whether
// events include the pre-image of the modified document.
func WithFullDocumentBeforeChange(m options.FullDocument) WatchOption {
	return func(opts *watchOptions) {
		opts.FullDocumentBeforeChange = m
	}
}

// WithResumeAfter returns a watch option that starts the stream immediately
// after the event identified by token.
//
// It conflicts with WithStartAfter() and WithStartAtOperationTime().
func WithResumeAfter(token bson.Raw) WatchOption {
	if token == nil {
		panic("resume token must not be nil")
	}

	return func(opts *watchOptions) {
		opts.ResumeAfter = token
	}
}

// WithStartAfter returns a watch option that starts the stream immediately
// after the event identified by token. Unlike WithResumeAfter() the token may
// refer to an invalidate event.
//
// It conflicts with WithResumeAfter() and WithStartAtOperationTime().
func WithStartAfter(token bson.Raw) WatchOption {
	if token == nil {
		panic("resume token must not be nil")
	}

	return func(opts *watchOptions) {
		opts.StartAfter = token
	}
}

// WithStartAtOperationTime returns a watch option that starts the stream at
// the given cluster time.
//
// It conflicts with WithResumeAfter() and WithStartAfter().
func WithStartAtOperationTime(t primitive.Timestamp) WatchOption {
	return func(opts *watchOptions) {
		opts.StartAtOperationTime = &t
	}
}

// WithBatchSize returns a watch option that sets the maximum number of events
// returned in each batch.
//
// If this option is omitted or n is zero, the server's default is used.
func WithBatchSize(n int32) WatchOption {
	if n < 0 {
		panic("batch size must not be negative")
	}

	return func(opts *watchOptions) {
		opts.BatchSize = n
	}
}

// WithCollation returns a watch option that sets the collation used by the
// aggregation.
func WithCollation(c *options.Collation) WatchOption {
	return func(opts *watchOptions) {
		opts.Collation = c
	}
}

// WithMaxAwaitTime returns a watch option that sets the duration the server
// waits for new events before replying to each getMore.
//
// It bounds each individual getMore, not the lifetime of the stream.
//
// If this option is omitted or d is zero, DefaultMaxAwaitTime is used.
func WithMaxAwaitTime(d time.Duration) WatchOption {
	if d < 0 {
		panic("duration must not be negative")
	}

	return func(opts *watchOptions) {
		opts.MaxAwaitTime = d
	}
}

// WithComment returns a watch option that attaches a comment to the stream's
// commands, making them identifiable in server logs and profiler output.
func WithComment(c any) WatchOption {
	return func(opts *watchOptions) {
		opts.Comment = c
	}
}

// WithReadPreference returns a watch option that sets the criterion used to
// select the server that runs the stream's commands.
//
// If this option is omitted or rp is nil, DefaultReadPreference is used.
func WithReadPreference(rp *readpref.ReadPref) WatchOption {
	return func(opts *watchOptions) {
		opts.ReadPreference = rp
	}
}

// WithLogger returns a watch option that sets the target for log messages
// produced by the stream.
//
// If this option is omitted or l is nil, DefaultLogger is used.
func WithLogger(l logging.Logger) WatchOption {
	return func(opts *watchOptions) {
		opts.Logger = l
	}
}

// WithListener returns a watch option that registers a listener for the
// lifetime of the stream.
//
// It may be specified multiple times.
func WithListener(l Listener) WatchOption {
	if l == nil {
		panic("listener must not be nil")
	}

	return func(opts *watchOptions) {
		opts.Listeners = append(opts.Listeners, l)
	}
}

// WithTokenStore returns a watch option that persists the stream's resume
// token in s under the given key.
//
// If none of the resume options are supplied, the stream resumes after the
// token that is already stored under key, if any.
func WithTokenStore(s tokenstore.Store, key string) WatchOption {
	if s == nil {
		panic("token store must not be nil")
	}

	if key == "" {
		panic("token key must not be empty")
	}

	return func(opts *watchOptions) {
		opts.TokenStore = s
		opts.TokenKey = key
	}
}

// resumeFrom returns a watch option that replaces any caller-supplied resume
// option with resumeAfter set to token.
func resumeFrom(token bson.Raw) WatchOption {
	return func(opts *watchOptions) {
		opts.ResumeAfter = token
		opts.StartAfter = nil
		opts.StartAtOperationTime = nil
	}
}

// watchOptions is the resolved set of options for a change stream.
type watchOptions struct {
	FullDocument             options.FullDocument
	FullDocumentBeforeChange options.FullDocument
	ResumeAfter              bson.Raw
	StartAfter               bson.Raw
	StartAtOperationTime     *primitive.Timestamp
	BatchSize                int32
	Collation                *options.Collation
	MaxAwaitTime             time.Duration
	Comment                  any
	ReadPreference           *readpref.ReadPref
	Logger                   logging.Logger
	Listeners                []Listener
	TokenStore               tokenstore.Store
	TokenKey                 string
}

// resolveOptions returns the options that result from applying opts to the
// defaults.
func resolveOptions(opts []WatchOption) (*watchOptions, error) {
	o := &watchOptions{
		FullDocument:   DefaultFullDocument,
		MaxAwaitTime:   DefaultMaxAwaitTime,
		ReadPreference: DefaultReadPreference,
		Logger:         DefaultLogger,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.FullDocument == "" {
		o.FullDocument = DefaultFullDocument
	}

	if o.MaxAwaitTime == 0 {
		o.MaxAwaitTime = DefaultMaxAwaitTime
	}

	if o.ReadPreference == nil {
		o.ReadPreference = DefaultReadPreference
	}

	if o.Logger == nil {
		o.Logger = DefaultLogger
	}

	n := 0
	if o.ResumeAfter != nil {
		n++
	}
	if o.StartAfter != nil {
		n++
	}
	if o.StartAtOperationTime != nil {
		n++
	}

	if n > 1 {
		return nil, ErrConflictingResumeOptions
	}

	return o, nil
}

// hasResumeOption returns true if the caller supplied any of the resume
// options.
func (o *watchOptions) hasResumeOption() bool {
	return o.ResumeAfter != nil ||
		o.StartAfter != nil ||
		o.StartAtOperationTime != nil
}
