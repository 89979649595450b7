package changefeed

import (
	"context"
	"slices"

	"github.com/dogmatiq/changefeed/internal/mlog"
	"github.com/dogmatiq/changefeed/internal/x/loggingx"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Watch returns a change stream that reports the changes made within ns.
//
// pipeline is a (possibly empty) sequence of aggregation stages that are
// applied to each change event after the $changeStream stage.
//
// No commands are sent to the server until the stream is started, either
// explicitly by Start() or implicitly by the first call that consumes an
// event. The only errors returned are those caused by invalid options.
func Watch(
	exec Executor,
	ns Namespace,
	pipeline Pipeline,
	opts ...WatchOption,
) (*ChangeStream, error) {
	if exec == nil {
		panic("executor must not be nil")
	}

	o, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	lifetime, end := context.WithCancelCause(context.Background())

	cs := &ChangeStream{
		id:       id,
		exec:     exec,
		ns:       ns,
		pipeline: slices.Clone(pipeline),
		opts:     o,
		logger: loggingx.WithPrefix(
			o.Logger,
			"changestream %s | ",
			mlog.FormatID(id),
		),
		lifetime: lifetime,
		end:      end,
		done:     make(chan struct{}),
		sem:      semaphore.NewWeighted(1),
	}

	for _, l := range o.Listeners {
		cs.bus.add(l)
	}

	cs.tracker.seed(o)
	cs.token = cs.tracker.Token()
	cs.tracker.changed = cs.tokenChanged

	return cs, nil
}
