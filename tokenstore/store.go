package tokenstore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Store persists change stream resume tokens so that a stream can be resumed
// by a later process.
type Store interface {
	// Load returns the token stored under key.
	//
	// ok is false if there is no token stored under key.
	Load(ctx context.Context, key string) (token bson.Raw, ok bool, err error)

	// Save stores token under key, replacing any existing token.
	Save(ctx context.Context, key string, token bson.Raw) error
}
