package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"github.com/iacamera/iacamera/internal/model"
)

// CapturedImage is one encoded frame plus the metadata it is filed under.
type CapturedImage struct {
	Name  string
	Theme string
	Page  int
	JPEG  []byte
}

// Uploader sends one capture to the ingestion service.
type Uploader interface {
	Upload(ctx context.Context, img CapturedImage) (*model.StoredImage, error)
}

// HTTPUploader posts captures to <BaseURL>/images as multipart form data.
type HTTPUploader struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPUploader(baseURL string, client *http.Client) *HTTPUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUploader{BaseURL: baseURL, Client: client}
}

// Upload sends exactly one request. Every failure is a *TransportError.
func (u *HTTPUploader) Upload(ctx context.Context, img CapturedImage) (*model.StoredImage, error) {
	endpoint, err := url.JoinPath(u.BaseURL, "images")
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("server url: %w", err)}
	}

	body, contentType, err := encodeForm(img)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := u.Client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var e model.ErrorResponse
		_ = json.Unmarshal(raw, &e)
		return nil, &TransportError{StatusCode: resp.StatusCode, Message: e.Message}
	}

	var ok model.IngestResponse
	if err := json.Unmarshal(raw, &ok); err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return ok.Data, nil
}

func encodeForm(img CapturedImage) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"nom", img.Name},
		{"theme", img.Theme},
		{"page", strconv.Itoa(img.Page)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, img.Name+".jpg"))
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.JPEG); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
