package service

import (
	"context"
	"io"
	"time"

	"github.com/iacamera/iacamera/internal/model"
)

// UploadRequest はキャプチャクライアントから受け取った 1 件のアップロード
// Page は文字列のまま受け取り、Ingest が 1..2147483647 の整数として解釈する。
// 先頭ゼロは落とされるため "007" は intro-7.jpg として保存される
type UploadRequest struct {
	Name     string    `form:"nom" validate:"required,segment"`
	Page     string    `form:"page" validate:"required,number"`
	Theme    string    `form:"theme" validate:"required,segment"`
	Image    io.Reader `form:"image" validate:"-"`
	Filename string    // original name of the uploaded file part
}

// ImageService はアップロード画像の保存とメタデータ記録を行うインターフェース
type ImageService interface {
	// Ingest writes the file into the theme partition and then inserts the
	// matching record. The returned record's StoragePath is the path written.
	// Errors are *ValidationError, *StorageError or *PersistenceError.
	Ingest(ctx context.Context, req UploadRequest) (*model.StoredImage, error)
}

// Observer receives one sample per Ingest call.
type Observer interface {
	RecordIngest(outcome string, d time.Duration, size int64)
}

// Ingest outcomes reported to the Observer.
const (
	OutcomeOK               = "ok"
	OutcomeInvalid          = "invalid"
	OutcomeStorageError     = "storage_error"
	OutcomePersistenceError = "persistence_error"
)
