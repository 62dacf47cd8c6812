package apply

import (
	"context"

	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/platform/gcp"
	"github.com/grahamearley/HappyTeacherCloudFunctions/internal/triggers"
)

// ObjectStore is what handlers read and the applier deletes through.
type ObjectStore interface {
	triggers.ObjectReader
	ObjectDeleter
}

type bucketObjects struct {
	bucket gcp.Bucket
}

// BucketObjects exposes an uploads bucket to the trigger pipeline.
func BucketObjects(b gcp.Bucket) ObjectStore {
	return bucketObjects{bucket: b}
}

func (o bucketObjects) ObjectAttrs(ctx context.Context, key string) (*triggers.ObjectAttrs, error) {
	attrs, err := o.bucket.ObjectAttrs(ctx, key)
	if err != nil || attrs == nil {
		return nil, err
	}
	return &triggers.ObjectAttrs{
		Key:         attrs.Key,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		Metadata:    attrs.Metadata,
	}, nil
}

func (o bucketObjects) DeleteObject(ctx context.Context, key string) error {
	return o.bucket.DeleteObject(ctx, key)
}

func (o bucketObjects) DeletePrefix(ctx context.Context, prefix string) error {
	return o.bucket.DeletePrefix(ctx, prefix)
}
