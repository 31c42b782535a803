//go:build gcp

package objectstore

import (
	"context"
	"os"
)

func newGCSFromEnv(ctx context.Context) (Store, error) {
	return NewGCSStore(ctx, os.Getenv("ORDERFLOW_GCS_BUCKET"), os.Getenv("ORDERFLOW_GCS_PREFIX"))
}
