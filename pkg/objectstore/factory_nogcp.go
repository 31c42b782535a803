//go:build !gcp

package objectstore

import (
	"context"
	"fmt"
)

func newGCSFromEnv(context.Context) (Store, error) {
	return nil, fmt.Errorf("objectstore: gcs backend requires a build with the gcp tag")
}
