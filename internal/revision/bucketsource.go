package revision

import (
	"context"
	"io"
	"sort"

	"github.com/datakeel/migrec/internal/filestore"
)

// BucketSource reads revision manifests from an object-store bucket, for
// deployments that publish migrations as build artifacts instead of
// shipping a directory with the binary.
type BucketSource struct {
	store  filestore.Store
	bucket string
	prefix string
}

// NewBucketSource creates a BucketSource over the given store.
func NewBucketSource(store filestore.Store, bucket, prefix string) *BucketSource {
	return &BucketSource{store: store, bucket: bucket, prefix: prefix}
}

// Definitions lists every manifest object under the prefix and downloads it.
// A single unreadable object surfaces as a per-definition error so the
// loader can warn and continue; only the listing itself is fatal.
func (s *BucketSource) Definitions(ctx context.Context) ([]Definition, error) {
	objs, err := s.store.ListObjects(ctx, s.bucket, filestore.ListOptions{
		Prefix:    s.prefix,
		Recursive: true,
	})
	if err != nil {
		return nil, err
	}

	var defs []Definition
	for _, obj := range objs {
		if obj.IsDir || !isManifestName(obj.Key) {
			continue
		}
		data, err := s.read(ctx, obj.Key)
		defs = append(defs, Definition{Ref: obj.Key, Data: data, Err: err})
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Ref < defs[j].Ref })
	return defs, nil
}

func (s *BucketSource) read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.store.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}
