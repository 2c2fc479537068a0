package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/iacamera/iacamera/internal/model"
	"github.com/iacamera/iacamera/internal/repository"
	"github.com/iacamera/iacamera/internal/storage"
)

const (
	maxSegmentLength = 128
	maxExtLength     = 10

	defaultInsertTimeout = 10 * time.Second
)

// imageServiceImpl is the production implementation of ImageService.
type imageServiceImpl struct {
	store         storage.Storage
	repo          repository.ImageRepository
	observer      Observer
	validate      *validator.Validate
	insertTimeout time.Duration
}

// NewImageService creates an ImageService that writes files through store and
// records them in repo. observer may be nil.
func NewImageService(store storage.Storage, repo repository.ImageRepository, observer Observer) ImageService {
	v, err := newValidator()
	if err != nil {
		panic(fmt.Sprintf("service: build validator: %v", err))
	}

	return &imageServiceImpl{
		store:         store,
		repo:          repo,
		observer:      observer,
		validate:      v,
		insertTimeout: defaultInsertTimeout,
	}
}

// newValidator はフォーム名でフィールドを報告し、segment タグを登録したバリデータを返す
func newValidator() (*validator.Validate, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("form"); name != "" {
			return name
		}
		return f.Name
	})
	if err := v.RegisterValidation("segment", validSegment); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *imageServiceImpl) Ingest(ctx context.Context, req UploadRequest) (*model.StoredImage, error) {
	start := time.Now()
	cr := &countingReader{r: req.Image}
	if req.Image != nil {
		req.Image = cr
	}

	img, err := s.ingest(ctx, req)
	if s.observer != nil {
		s.observer.RecordIngest(outcome(err), time.Since(start), cr.n)
	}
	return img, err
}

func (s *imageServiceImpl) ingest(ctx context.Context, req UploadRequest) (*model.StoredImage, error) {
	page, err := s.check(req)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s-%d%s", req.Name, page, extensionOf(req.Filename))
	written, err := s.store.Save(ctx, req.Theme, filename, req.Image)
	if err != nil {
		if errors.Is(err, storage.ErrUnsafePath) {
			return nil, &ValidationError{Problems: []string{"nom and theme must be plain names"}}
		}
		slog.Error("image write failed", "theme", req.Theme, "filename", filename, "error", err)
		return nil, &StorageError{Err: err}
	}

	img := &model.StoredImage{
		Name:        req.Name,
		Page:        page,
		Theme:       req.Theme,
		StoragePath: written,
	}

	// The file is already in place; finish the record even if the client went away.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.insertTimeout)
	defer cancel()
	if err := s.repo.Insert(insertCtx, img); err != nil {
		slog.Error("orphaned image file",
			"path", written,
			"theme", req.Theme,
			"nom", req.Name,
			"page", page,
			"error", err,
		)
		return nil, &PersistenceError{Path: written, Err: err}
	}

	slog.Info("image ingested", "id", img.ID, "path", written, "theme", img.Theme, "nom", img.Name, "page", img.Page)
	return img, nil
}

// check validates the request and returns the parsed page number.
func (s *imageServiceImpl) check(req UploadRequest) (int, error) {
	var problems []string
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return 0, &ValidationError{Problems: []string{err.Error()}}
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	if req.Image == nil {
		problems = append(problems, "image is required")
	}

	page := 0
	if req.Page != "" && !hasProblem(problems, "page") {
		// pages are stored as a 32-bit INTEGER
		n, err := strconv.ParseInt(req.Page, 10, 32)
		if err != nil || n < 1 {
			problems = append(problems, "page must be a positive integer")
		}
		page = int(n)
	}

	if len(problems) > 0 {
		return 0, &ValidationError{Problems: problems}
	}
	return page, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "number":
		return fe.Field() + " must be a positive integer"
	case "segment":
		return fe.Field() + " must be a plain name without path separators or a leading dot"
	default:
		return fe.Field() + " is invalid"
	}
}

func hasProblem(problems []string, field string) bool {
	for _, p := range problems {
		if strings.HasPrefix(p, field+" ") {
			return true
		}
	}
	return false
}

// validSegment reports whether a field can be used verbatim as one path
// element under the upload root. Emptiness is left to "required".
func validSegment(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	if len(s) > maxSegmentLength || strings.TrimSpace(s) == "" || strings.HasPrefix(s, ".") {
		return false
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// extensionOf returns the extension of the uploaded file's base name, or ""
// when it is missing or not a short alphanumeric suffix.
func extensionOf(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext := path.Ext(base)
	if len(ext) < 2 || len(ext) > maxExtLength+1 || ext == base {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
