package locators

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/burrmill/miller/pkg/engine"
)

// GCSLister lists objects in Google Cloud Storage.
type GCSLister struct {
	client *storage.Client
}

// NewGCSLister creates a lister over an existing storage client. The
// client is owned by the caller.
func NewGCSLister(client *storage.Client) *GCSLister {
	return &GCSLister{client: client}
}

// ListObjects implements ObjectLister. Synthetic directory entries
// produced by the delimiter are skipped.
func (g *GCSLister) ListObjects(ctx context.Context, q ObjectQuery, fn func(ObjectAttrs) error) error {
	it := g.client.Bucket(q.Bucket).Objects(ctx, &storage.Query{
		Prefix:    q.Prefix,
		Delimiter: q.Delimiter,
		Versions:  q.Versions,
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return engine.NewRemoteError(fmt.Sprintf("listing gs://%s/%s failed", q.Bucket, q.Prefix), err).
				WithOperation("LIST gs://" + q.Bucket + "/" + q.Prefix)
		}
		if attrs.Prefix != "" {
			continue
		}
		if err := fn(ObjectAttrs{
			Name:       attrs.Name,
			Generation: attrs.Generation,
			Metadata:   attrs.Metadata,
			Deleted:    attrs.Deleted,
		}); err != nil {
			return err
		}
	}
}
