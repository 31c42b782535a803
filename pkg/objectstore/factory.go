package objectstore

import (
	"context"
	"fmt"
	"os"
)

// NewStoreFromEnv selects the backend from ORDERFLOW_OBJECT_BACKEND:
// "fs" (default), "s3", or "gcs" (gcp build only).
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	switch backend := os.Getenv("ORDERFLOW_OBJECT_BACKEND"); backend {
	case "", "fs":
		dir := os.Getenv("ORDERFLOW_OBJECT_DIR")
		if dir == "" {
			dir = "data/objects"
		}
		return NewFSStore(dir)
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:   os.Getenv("ORDERFLOW_S3_BUCKET"),
			Prefix:   os.Getenv("ORDERFLOW_S3_PREFIX"),
			Region:   os.Getenv("ORDERFLOW_S3_REGION"),
			Endpoint: os.Getenv("ORDERFLOW_S3_ENDPOINT"),
		})
	case "gcs":
		return newGCSFromEnv(ctx)
	default:
		return nil, fmt.Errorf("objectstore: unknown backend %q", backend)
	}
}
