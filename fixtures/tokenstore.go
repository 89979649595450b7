package fixtures

import (
	"context"

	"github.com/dogmatiq/changefeed/tokenstore"
	"go.mongodb.org/mongo-driver/bson"
)

// TokenStoreStub is a test implementation of the tokenstore.Store interface.
type TokenStoreStub struct {
	tokenstore.Store

	LoadFunc func(context.Context, string) (bson.Raw, bool, error)
	SaveFunc func(context.Context, string, bson.Raw) error
}

// Load returns the token stored under key.
func (s *TokenStoreStub) Load(ctx context.Context, key string) (bson.Raw, bool, error) {
	if s.LoadFunc != nil {
		return s.LoadFunc(ctx, key)
	}

	if s.Store != nil {
		return s.Store.Load(ctx, key)
	}

	return nil, false, nil
}

// Save stores token under key.
func (s *TokenStoreStub) Save(ctx context.Context, key string, token bson.Raw) error {
	if s.SaveFunc != nil {
		return s.SaveFunc(ctx, key, token)
	}

	if s.Store != nil {
		return s.Store.Save(ctx, key, token)
	}

	return nil
}
