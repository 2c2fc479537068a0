package storage

import (
	"context"
	"errors"
	"io"
)

// ErrUnsafePath is returned when a partition or file name would resolve
// outside the storage root.
var ErrUnsafePath = errors.New("storage: unsafe path")

// Storage は画像ファイルをテーマごとのパーティションに配置するインターフェース
type Storage interface {
	// Save writes data to <partition>/<filename>, creating the partition if
	// needed and replacing any file already there. It returns the path that
	// was written.
	Save(ctx context.Context, partition, filename string, data io.Reader) (path string, err error)
}
