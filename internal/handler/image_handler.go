package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/iacamera/iacamera/internal/model"
	"github.com/iacamera/iacamera/internal/service"
)

// multipartMemory is how much of a form is held in memory before parts spill
// to temporary files.
const multipartMemory = 32 << 20

// ImageHandler はキャプチャ画像のアップロードエンドポイントを提供する
type ImageHandler struct {
	images   service.ImageService
	maxBytes int64
}

// NewImageHandler は ImageHandler を生成する。maxBytes はリクエストボディの上限で、
// 0 以下ならここでは制限せず MaxBytes ミドルウェアに任せる
func NewImageHandler(images service.ImageService, maxBytes int64) *ImageHandler {
	return &ImageHandler{images: images, maxBytes: maxBytes}
}

// Upload は POST /images を処理する。
// nom・page・theme・image はすべて multipart ボディから読み、URL クエリは無視する。
// page は 1 以上の 32bit 整数として正規化され（"007" は 7）、保存名は <nom>-<page><ext> になる。
// 入力不備は 400、上限超過は 413、保存・記録失敗は 500 を返す
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeMessage(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, http.ErrNotMultipart):
			writeMessage(w, http.StatusBadRequest, "request must be multipart/form-data")
		default:
			writeMessage(w, http.StatusBadRequest, "malformed multipart body")
		}
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("failed to remove multipart temp files", "error", err)
		}
	}()

	req := service.UploadRequest{
		Name:  r.PostFormValue("nom"),
		Page:  r.PostFormValue("page"),
		Theme: r.PostFormValue("theme"),
	}

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		req.Image = file
		req.Filename = header.Filename
	case errors.Is(err, http.ErrMissingFile):
		// reported by the service alongside any other missing field
	default:
		writeMessage(w, http.StatusBadRequest, "unreadable image part")
		return
	}

	img, err := h.images.Ingest(r.Context(), req)
	if err != nil {
		status, msg := errorStatus(err)
		writeMessage(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, model.IngestResponse{Message: "image saved", Data: img})
}

func errorStatus(err error) (int, string) {
	var (
		verr *service.ValidationError
		serr *service.StorageError
		perr *service.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.As(err, &serr):
		return http.StatusInternalServerError, "could not store image"
	case errors.As(err, &perr):
		return http.StatusInternalServerError, "image stored but could not be recorded"
	default:
		slog.Error("unexpected ingest error", "error", err)
		return http.StatusInternalServerError, "internal server error"
	}
}
