package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/iacamera/iacamera/internal/model"
	"github.com/iacamera/iacamera/internal/repository"
	"github.com/iacamera/iacamera/internal/storage"
)

// ---------------------------------------------------------------------------
// mocks
// ---------------------------------------------------------------------------

type mockStorage struct {
	saveFunc func(ctx context.Context, partition, filename string, data io.Reader) (string, error)
	calls    int
}

func (m *mockStorage) Save(ctx context.Context, partition, filename string, data io.Reader) (string, error) {
	m.calls++
	if m.saveFunc != nil {
		return m.saveFunc(ctx, partition, filename, data)
	}
	_, _ = io.Copy(io.Discard, data)
	return filepath.Join("/uploads", partition, filename), nil
}

type mockImageRepository struct {
	insertFunc func(ctx context.Context, img *model.StoredImage) error
	inserted   []*model.StoredImage
}

func (m *mockImageRepository) Insert(ctx context.Context, img *model.StoredImage) error {
	if m.insertFunc != nil {
		if err := m.insertFunc(ctx, img); err != nil {
			return err
		}
	}
	img.ID = int64(len(m.inserted) + 1)
	m.inserted = append(m.inserted, img)
	return nil
}

func (m *mockImageRepository) Ping(ctx context.Context) error { return nil }

type recordedSample struct {
	outcome string
	size    int64
}

type mockObserver struct {
	mu      sync.Mutex
	samples []recordedSample
}

func (m *mockObserver) RecordIngest(outcome string, d time.Duration, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, recordedSample{outcome: outcome, size: size})
}

func validRequest(content string) UploadRequest {
	return UploadRequest{
		Name:     "intro",
		Page:     "1",
		Theme:    "math",
		Image:    strings.NewReader(content),
		Filename: "intro.jpg",
	}
}

// ---------------------------------------------------------------------------
// Ingest with mocks
// ---------------------------------------------------------------------------

func TestImageService_Ingest_Success(t *testing.T) {
	var gotPartition, gotFilename string
	store := &mockStorage{
		saveFunc: func(ctx context.Context, partition, filename string, data io.Reader) (string, error) {
			gotPartition, gotFilename = partition, filename
			_, _ = io.Copy(io.Discard, data)
			return "/uploads/math/intro-1.jpg", nil
		},
	}
	repo := &mockImageRepository{}
	obs := &mockObserver{}
	svc := NewImageService(store, repo, obs)

	img, err := svc.Ingest(context.Background(), validRequest("jpegbytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPartition != "math" || gotFilename != "intro-1.jpg" {
		t.Errorf("expected math/intro-1.jpg, got %s/%s", gotPartition, gotFilename)
	}
	if img.ID != 1 {
		t.Errorf("expected id 1, got %d", img.ID)
	}
	if img.StoragePath != "/uploads/math/intro-1.jpg" {
		t.Errorf("expected record path to equal written path, got %q", img.StoragePath)
	}
	if img.Name != "intro" || img.Page != 1 || img.Theme != "math" {
		t.Errorf("unexpected record: %+v", img)
	}
	if len(obs.samples) != 1 || obs.samples[0].outcome != OutcomeOK || obs.samples[0].size != int64(len("jpegbytes")) {
		t.Errorf("unexpected observer samples: %+v", obs.samples)
	}
}

func TestImageService_Ingest_MissingFields(t *testing.T) {
	cases := map[string]func(r *UploadRequest){
		"nom":   func(r *UploadRequest) { r.Name = "" },
		"page":  func(r *UploadRequest) { r.Page = "" },
		"theme": func(r *UploadRequest) { r.Theme = "" },
		"image": func(r *UploadRequest) { r.Image = nil },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			store := &mockStorage{}
			repo := &mockImageRepository{}
			obs := &mockObserver{}
			svc := NewImageService(store, repo, obs)

			req := validRequest("x")
			mutate(&req)
			_, err := svc.Ingest(context.Background(), req)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(verr.Error(), field+" is required") {
				t.Errorf("expected message to name %q, got %q", field, verr.Error())
			}
			if store.calls != 0 {
				t.Errorf("expected no file write, got %d", store.calls)
			}
			if len(repo.inserted) != 0 {
				t.Errorf("expected no record, got %d", len(repo.inserted))
			}
			if len(obs.samples) != 1 || obs.samples[0].outcome != OutcomeInvalid {
				t.Errorf("expected one invalid sample, got %+v", obs.samples)
			}
		})
	}
}

func TestImageService_Ingest_AllFieldsMissing(t *testing.T) {
	svc := NewImageService(&mockStorage{}, &mockImageRepository{}, nil)

	_, err := svc.Ingest(context.Background(), UploadRequest{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 4 {
		t.Errorf("expected 4 problems, got %v", verr.Problems)
	}
}

func TestImageService_Ingest_InvalidPage(t *testing.T) {
	for _, page := range []string{"0", "-1", "abc", "1.5", "2147483648", "99999999999999999999999"} {
		store := &mockStorage{}
		svc := NewImageService(store, &mockImageRepository{}, nil)

		req := validRequest("x")
		req.Page = page
		_, err := svc.Ingest(context.Background(), req)

		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("page %q: expected ValidationError, got %v", page, err)
			continue
		}
		if !strings.Contains(verr.Error(), "page must be a positive integer") {
			t.Errorf("page %q: unexpected message %q", page, verr.Error())
		}
		if store.calls != 0 {
			t.Errorf("page %q: expected no file write", page)
		}
	}
}

func TestImageService_Ingest_LargestPageAccepted(t *testing.T) {
	repo := &mockImageRepository{}
	svc := NewImageService(&mockStorage{}, repo, nil)

	req := validRequest("x")
	req.Page = "2147483647"
	img, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Page != 2147483647 || len(repo.inserted) != 1 {
		t.Errorf("expected page 2147483647 recorded once, got %d (%d inserts)", img.Page, len(repo.inserted))
	}
}

func TestNewValidator(t *testing.T) {
	v, err := newValidator()
	if err != nil {
		t.Fatalf("newValidator: %v", err)
	}

	req := validRequest("x")
	req.Theme = "../etc"
	err = v.Struct(req)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 {
		t.Fatalf("expected one validation error, got %v", err)
	}
	if verrs[0].Field() != "theme" || verrs[0].Tag() != "segment" {
		t.Errorf("expected theme/segment, got %s/%s", verrs[0].Field(), verrs[0].Tag())
	}
}

func TestImageService_Ingest_PageIsCanonicalised(t *testing.T) {
	var gotFilename string
	store := &mockStorage{
		saveFunc: func(ctx context.Context, partition, filename string, data io.Reader) (string, error) {
			gotFilename = filename
			return "/uploads/math/" + filename, nil
		},
	}
	svc := NewImageService(store, &mockImageRepository{}, nil)

	req := validRequest("x")
	req.Page = "007"
	img, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFilename != "intro-7.jpg" || img.Page != 7 {
		t.Errorf("expected intro-7.jpg / page 7, got %q / %d", gotFilename, img.Page)
	}
}

func TestImageService_Ingest_RejectsPathTraversal(t *testing.T) {
	cases := []struct{ name, theme string }{
		{"intro", "../etc"},
		{"intro", "a/b"},
		{"intro", `a\b`},
		{"intro", ".."},
		{"intro", ".hidden"},
		{"../../passwd", "math"},
		{"..", "math"},
		{"in\x00tro", "math"},
		{"   ", "math"},
		{strings.Repeat("n", maxSegmentLength+1), "math"},
	}
	for _, c := range cases {
		store := &mockStorage{}
		svc := NewImageService(store, &mockImageRepository{}, nil)

		req := validRequest("x")
		req.Name, req.Theme = c.name, c.theme
		_, err := svc.Ingest(context.Background(), req)

		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("nom=%q theme=%q: expected ValidationError, got %v", c.name, c.theme, err)
		}
		if store.calls != 0 {
			t.Errorf("nom=%q theme=%q: expected no file write", c.name, c.theme)
		}
	}
}

func TestImageService_Ingest_StorageError(t *testing.T) {
	store := &mockStorage{
		saveFunc: func(ctx context.Context, partition, filename string, data io.Reader) (string, error) {
			return "", errors.New("storage: mkdir: permission denied")
		},
	}
	repo := &mockImageRepository{}
	obs := &mockObserver{}
	svc := NewImageService(store, repo, obs)

	_, err := svc.Ingest(context.Background(), validRequest("x"))

	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Errorf("expected no record after storage failure, got %d", len(repo.inserted))
	}
	if obs.samples[0].outcome != OutcomeStorageError {
		t.Errorf("expected storage_error outcome, got %q", obs.samples[0].outcome)
	}
}

func TestImageService_Ingest_UnsafePathFromStorageIsValidation(t *testing.T) {
	store := &mockStorage{
		saveFunc: func(ctx context.Context, partition, filename string, data io.Reader) (string, error) {
			return "", storage.ErrUnsafePath
		},
	}
	svc := NewImageService(store, &mockImageRepository{}, nil)

	_, err := svc.Ingest(context.Background(), validRequest("x"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestImageService_Ingest_PersistenceError(t *testing.T) {
	repo := &mockImageRepository{
		insertFunc: func(ctx context.Context, img *model.StoredImage) error {
			return errors.New("db write failed")
		},
	}
	obs := &mockObserver{}
	svc := NewImageService(&mockStorage{}, repo, obs)

	_, err := svc.Ingest(context.Background(), validRequest("x"))

	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if perr.Path != "/uploads/math/intro-1.jpg" {
		t.Errorf("expected orphan path to be reported, got %q", perr.Path)
	}
	if obs.samples[0].outcome != OutcomePersistenceError {
		t.Errorf("expected persistence_error outcome, got %q", obs.samples[0].outcome)
	}
}

func TestImageService_Ingest_InsertSurvivesCanceledRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &mockStorage{
		saveFunc: func(_ context.Context, partition, filename string, data io.Reader) (string, error) {
			cancel()
			return "/uploads/math/intro-1.jpg", nil
		},
	}
	repo := &mockImageRepository{
		insertFunc: func(ctx context.Context, img *model.StoredImage) error {
			return ctx.Err()
		},
	}
	svc := NewImageService(store, repo, nil)

	if _, err := svc.Ingest(ctx, validRequest("x")); err != nil {
		t.Fatalf("expected insert to run after the file was written, got %v", err)
	}
	if len(repo.inserted) != 1 {
		t.Errorf("expected one record, got %d", len(repo.inserted))
	}
}

func TestExtensionOf(t *testing.T) {
	cases := map[string]string{
		"intro.jpg":             ".jpg",
		"photo.JPEG":            ".JPEG",
		"archive.tar.gz":        ".gz",
		"noext":                 "",
		"":                      "",
		".jpg":                  "",
		"dir/evil.png":          ".png",
		`C:\Users\me\cap.webp`:  ".webp",
		"weird.j/pg":            "",
		"bad.ext!":              "",
		"long.abcdefghijklmnop": "",
		"trailingdot.":          "",
	}
	for in, want := range cases {
		if got := extensionOf(in); got != want {
			t.Errorf("extensionOf(%q): expected %q, got %q", in, want, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Ingest against LocalStorage + SQLite
// ---------------------------------------------------------------------------

type fixture struct {
	root string
	rows func(t *testing.T) []model.StoredImage
	svc  ImageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	db, err := repository.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := repository.NewSQLiteImageRepository(db)
	rows := func(t *testing.T) []model.StoredImage {
		t.Helper()
		rs, err := db.Query(`SELECT id, nom, page, chemin, theme FROM images ORDER BY id`)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		defer rs.Close()
		var out []model.StoredImage
		for rs.Next() {
			var img model.StoredImage
			if err := rs.Scan(&img.ID, &img.Name, &img.Page, &img.StoragePath, &img.Theme); err != nil {
				t.Fatalf("scan: %v", err)
			}
			out = append(out, img)
		}
		return out
	}
	return &fixture{
		root: root,
		rows: rows,
		svc:  NewImageService(storage.NewLocalStorage(root), repo, nil),
	}
}

func TestImageService_ExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, validRequest("A"))
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if !strings.HasSuffix(first.StoragePath, filepath.Join("math", "intro-1.jpg")) {
		t.Errorf("expected path ending in math/intro-1.jpg, got %q", first.StoragePath)
	}

	req := validRequest("B")
	req.Page = "2"
	second, err := f.svc.Ingest(ctx, req)
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if !strings.HasSuffix(second.StoragePath, filepath.Join("math", "intro-2.jpg")) {
		t.Errorf("expected path ending in math/intro-2.jpg, got %q", second.StoragePath)
	}
	if second.ID <= first.ID {
		t.Errorf("expected increasing ids, got %d then %d", first.ID, second.ID)
	}

	if got, _ := os.ReadFile(first.StoragePath); string(got) != "A" {
		t.Errorf("expected page 1 untouched, got %q", got)
	}
	rows := f.rows(t)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if _, err := os.Stat(r.StoragePath); err != nil {
			t.Errorf("record %d points at missing file %q: %v", r.ID, r.StoragePath, err)
		}
	}
}

func TestImageService_ReuploadSameTriple(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Ingest(ctx, validRequest("first content"))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.Ingest(ctx, validRequest("second content"))
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	if first.StoragePath != second.StoragePath {
		t.Errorf("expected both records to share a path, got %q and %q", first.StoragePath, second.StoragePath)
	}
	entries, _ := os.ReadDir(filepath.Join(f.root, "math"))
	if len(entries) != 1 {
		t.Errorf("expected exactly one file in the partition, got %d", len(entries))
	}
	if got, _ := os.ReadFile(second.StoragePath); string(got) != "second content" {
		t.Errorf("expected second content to win, got %q", got)
	}
	if rows := f.rows(t); len(rows) != 2 {
		t.Errorf("expected two records for a re-upload, got %d", len(rows))
	}
}

func TestImageService_PartitionAutoCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := validRequest("x")
	req.Theme = "science"
	if _, err := f.svc.Ingest(ctx, req); err != nil {
		t.Fatalf("first: %v", err)
	}
	req = validRequest("y")
	req.Theme = "science"
	req.Name = "cells"
	if _, err := f.svc.Ingest(ctx, req); err != nil {
		t.Fatalf("second: %v", err)
	}

	entries, err := os.ReadDir(f.root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "science" || !entries[0].IsDir() {
		t.Errorf("expected one partition directory, got %v", entries)
	}
}

func TestImageService_MissingFieldWritesNothing(t *testing.T) {
	f := newFixture(t)

	req := validRequest("x")
	req.Theme = ""
	if _, err := f.svc.Ingest(context.Background(), req); err == nil {
		t.Fatal("expected validation error")
	}

	entries, _ := os.ReadDir(f.root)
	if len(entries) != 0 {
		t.Errorf("expected no files or partitions, got %v", entries)
	}
	if rows := f.rows(t); len(rows) != 0 {
		t.Errorf("expected no records, got %d", len(rows))
	}
}

func TestImageService_ConcurrentUploadsSameTheme(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			req := validRequest("x")
			req.Theme = "history"
			req.Page = strconv.Itoa(page)
			if _, err := f.svc.Ingest(context.Background(), req); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent ingest failed: %v", err)
	}

	rows := f.rows(t)
	if len(rows) != 8 {
		t.Fatalf("expected 8 records, got %d", len(rows))
	}
	entries, _ := os.ReadDir(filepath.Join(f.root, "history"))
	if len(entries) != 8 {
		t.Errorf("expected 8 files, got %d", len(entries))
	}
}
