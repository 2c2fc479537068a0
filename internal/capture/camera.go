// Package capture implements the operator side of the pipeline: grab a frame,
// check the metadata, encode it and post it to the ingestion service.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNoMoreFrames is returned by DirCamera once every still has been served.
var ErrNoMoreFrames = errors.New("capture: no more frames")

// Camera produces one frame per call.
type Camera interface {
	Snapshot(ctx context.Context) (image.Image, error)
}

var stillExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// FileCamera re-reads the same still on every snapshot. Pointing it at a
// file another process keeps overwriting turns it into a live source.
type FileCamera struct {
	Path string
}

func (c FileCamera) Snapshot(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decodeFile(c.Path)
}

// DirCamera serves the stills of a directory one per snapshot, in name order.
type DirCamera struct {
	mu    sync.Mutex
	files []string
	next  int
}

// NewDirCamera lists the decodable stills in dir.
func NewDirCamera(dir string) (*DirCamera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("capture: read dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if stillExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("capture: no images in %s", dir)
	}
	sort.Strings(files)
	return &DirCamera{files: files}, nil
}

// Remaining reports how many stills have not been served yet.
func (c *DirCamera) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files) - c.next
}

func (c *DirCamera) Snapshot(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.next >= len(c.files) {
		c.mu.Unlock()
		return nil, ErrNoMoreFrames
	}
	path := c.files[c.next]
	c.next++
	c.mu.Unlock()

	return decodeFile(path)
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("capture: decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
