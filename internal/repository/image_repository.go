package repository

import (
	"context"

	"github.com/iacamera/iacamera/internal/model"
)

// ImageRepository は取り込み済み画像メタデータの永続化インターフェース
type ImageRepository interface {
	// Insert writes one row and populates img.ID and img.CreatedAt.
	Insert(ctx context.Context, img *model.StoredImage) error
	// Ping reports whether the underlying store is reachable.
	Ping(ctx context.Context) error
}
