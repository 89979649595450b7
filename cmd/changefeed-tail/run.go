package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dogmatiq/changefeed"
	"github.com/dogmatiq/changefeed/internal/x/bboltx"
	"github.com/dogmatiq/changefeed/internal/x/loggingx"
	"github.com/dogmatiq/changefeed/mongoexec"
	"github.com/dogmatiq/changefeed/tokenstore/boltdb"
	"github.com/dogmatiq/dodeca/logging"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// config is the configuration supplied on the command line.
type config struct {
	URI          string
	Namespaces   []string
	FullDocument string
	TokenFile    string
	MaxAwait     time.Duration
	Debug        bool
}

// run tails each of the configured namespaces until ctx is canceled.
func run(ctx context.Context, cfg config, out io.Writer) (err error) {
	namespaces, err := parseNamespaces(cfg.Namespaces)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return fmt.Errorf("unable to connect to mongodb: %w", err)
	}
	defer func() {
		err = multierr.Append(
			err,
			client.Disconnect(context.WithoutCancel(ctx)),
		)
	}()

	opts := []changefeed.WatchOption{
		changefeed.WithMaxAwaitTime(cfg.MaxAwait),
	}

	if cfg.FullDocument != "" {
		opts = append(opts, changefeed.WithFullDocument(options.FullDocument(cfg.FullDocument)))
	}

	var store *boltdb.Store
	if cfg.TokenFile != "" {
		db, err := bboltx.Open(ctx, cfg.TokenFile, 0, nil)
		if err != nil {
			return fmt.Errorf("unable to open token file: %w", err)
		}
		defer db.Close()

		store = &boltdb.Store{DB: db}
	}

	p := &printer{Out: out}
	g, ctx := errgroup.WithContext(ctx)

	for _, ns := range namespaces {
		l := loggingx.Zap(logger.With(zap.Stringer("namespace", ns)))

		exec := &mongoexec.Executor{
			Client: client,
			Logger: l,
		}

		streamOpts := opts
		if store != nil {
			streamOpts = append(
				streamOpts[:len(streamOpts):len(streamOpts)],
				changefeed.WithTokenStore(store, ns.String()),
			)
		}

		c := &changefeed.Consumer{
			Executor:  exec,
			Namespace: ns,
			Options:   streamOpts,
			Handler:   changefeed.HandlerFunc(p.Print),
			Logger:    l,
		}

		g.Go(func() error {
			defer exec.Close(context.WithoutCancel(ctx))

			if err := c.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", ns, err)
			}

			logging.Log(l, "stream invalidated")
			return nil
		})
	}

	return g.Wait()
}

// parseNamespaces parses the namespaces given on the command line.
//
// Each value is either "db.coll", "db" or "*" for the entire cluster.
func parseNamespaces(values []string) ([]changefeed.Namespace, error) {
	if len(values) == 0 {
		return nil, errors.New("at least one namespace must be specified")
	}

	var namespaces []changefeed.Namespace

	for _, v := range values {
		switch {
		case v == "*":
			namespaces = append(namespaces, changefeed.Cluster())
		case v == "" || strings.HasPrefix(v, ".") || strings.HasSuffix(v, "."):
			return nil, fmt.Errorf("invalid namespace %q", v)
		default:
			db, coll, ok := strings.Cut(v, ".")
			if ok {
				namespaces = append(namespaces, changefeed.Collection(db, coll))
			} else {
				namespaces = append(namespaces, changefeed.Database(db))
			}
		}
	}

	return namespaces, nil
}

// newLogger returns the zap logger used by the command.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}

	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return cfg.Build()
}

// printer writes change events as canonical extended JSON.
type printer struct {
	Out io.Writer

	m sync.Mutex
}

// Print writes ev to p.Out followed by a newline.
func (p *printer) Print(_ context.Context, ev changefeed.ChangeEvent) error {
	data, err := bson.MarshalExtJSON(ev.Raw, true, false)
	if err != nil {
		return err
	}

	p.m.Lock()
	defer p.m.Unlock()

	if _, err := p.Out.Write(data); err != nil {
		return err
	}

	_, err = io.WriteString(p.Out, "\n")
	return err
}
