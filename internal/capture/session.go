package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iacamera/iacamera/internal/model"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultErrorDisplay   = 5 * time.Second
	DefaultSuccessDisplay = 2 * time.Second
	DefaultJPEGQuality    = 92
)

// StatusKind classifies the transient message shown to the operator.
type StatusKind int

const (
	StatusNone StatusKind = iota
	StatusSuccess
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "none"
	}
}

// Status is the message currently on display.
type Status struct {
	Kind    StatusKind
	Message string
}

// Options tunes a Session. Zero values pick the defaults.
type Options struct {
	ErrorDisplay   time.Duration
	SuccessDisplay time.Duration
	JPEGQuality    int
	// OnStatus, if set, is called with every status change, including the
	// automatic clear. It runs without the session lock held.
	OnStatus func(Status)
}

// Session holds the operator's current metadata and runs captures one at a
// time.
type Session struct {
	camera   Camera
	uploader Uploader
	opts     Options

	inflight *semaphore.Weighted
	busy     atomic.Bool

	mu     sync.Mutex
	name   string
	theme  string
	page   int
	status Status
	gen    uint64
	timer  *time.Timer
}

// NewSession returns a session whose page counter starts at 1.
func NewSession(camera Camera, uploader Uploader, opts Options) *Session {
	if opts.ErrorDisplay <= 0 {
		opts.ErrorDisplay = DefaultErrorDisplay
	}
	if opts.SuccessDisplay <= 0 {
		opts.SuccessDisplay = DefaultSuccessDisplay
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	return &Session{
		camera:   camera,
		uploader: uploader,
		opts:     opts,
		inflight: semaphore.NewWeighted(1),
		page:     1,
	}
}

func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *Session) SetTheme(theme string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = theme
}

func (s *Session) SetPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = page
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) Theme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theme
}

func (s *Session) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Busy reports whether a capture is in flight.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Capture grabs a frame and uploads it under the current name, theme and
// page. On success the page advances by one; on any failure it is left as is
// so the same page can be retried. A second call while one is in flight
// returns ErrBusy without doing anything.
func (s *Session) Capture(ctx context.Context) (*model.StoredImage, error) {
	if !s.inflight.TryAcquire(1) {
		return nil, ErrBusy
	}
	s.busy.Store(true)
	defer func() {
		s.busy.Store(false)
		s.inflight.Release(1)
	}()

	s.mu.Lock()
	name, theme, page := strings.TrimSpace(s.name), strings.TrimSpace(s.theme), s.page
	s.mu.Unlock()

	if err := checkFields(name, theme, page); err != nil {
		s.fail(err)
		return nil, err
	}

	frame, err := s.camera.Snapshot(ctx)
	if err == nil && frame == nil {
		err = errors.New("camera returned no frame")
	}
	if err != nil {
		verr := &ValidationError{Problems: []string{"capture failed"}, Err: err}
		s.fail(verr)
		return nil, verr
	}

	data, err := encodeJPEG(frame, s.opts.JPEGQuality)
	if err != nil {
		terr := &TransportError{Err: err}
		s.fail(terr)
		return nil, terr
	}

	stored, err := s.uploader.Upload(ctx, CapturedImage{Name: name, Theme: theme, Page: page, JPEG: data})
	if err != nil {
		var terr *TransportError
		if !errors.As(err, &terr) {
			terr = &TransportError{Err: err}
		}
		s.fail(terr)
		return nil, terr
	}

	s.mu.Lock()
	if s.page == page {
		s.page = page + 1
	}
	s.mu.Unlock()

	slog.Info("capture uploaded", "theme", theme, "nom", name, "page", page, "bytes", len(data))
	s.publish(StatusSuccess, "image saved", s.opts.SuccessDisplay)
	return stored, nil
}

func checkFields(name, theme string, page int) error {
	var problems []string
	if name == "" {
		problems = append(problems, "name is required")
	}
	if theme == "" {
		problems = append(problems, "theme is required")
	}
	if page < 1 {
		problems = append(problems, "page must be at least 1")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Session) fail(err error) {
	slog.Warn("capture failed", "error", err)
	s.publish(StatusError, err.Error(), s.opts.ErrorDisplay)
}

// publish replaces the current status and schedules its removal. A timer
// left over from an earlier message never clears a newer one.
func (s *Session) publish(kind StatusKind, msg string, display time.Duration) {
	st := Status{Kind: kind, Message: msg}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.status = st
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(display, func() { s.clear(gen) })
	s.mu.Unlock()

	s.notify(st)
}

func (s *Session) clear(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.status = Status{}
	s.mu.Unlock()

	s.notify(Status{})
}

func (s *Session) notify(st Status) {
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(st)
	}
}

// Close stops any pending status timer.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
