package handler

import "net/http"

// RouterOptions configures the route table built by Router.
type RouterOptions struct {
	// MaxUploadBytes caps POST /images bodies.
	MaxUploadBytes int64
	// Limiter throttles uploads per client; nil disables throttling.
	Limiter *RateLimiter
	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler
}

// Router wires every endpoint behind the shared middleware chain.
func (h *Handler) Router(images *ImageHandler, opts RouterOptions) http.Handler {
	var upload http.Handler = http.HandlerFunc(images.Upload)
	if opts.MaxUploadBytes > 0 {
		upload = MaxBytes(opts.MaxUploadBytes)(upload)
	}
	if opts.Limiter != nil {
		upload = opts.Limiter.Middleware(upload)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /images", upload)
	mux.HandleFunc("GET /api/health", h.Health)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return Recover(RequestLogger(SecurityHeaders(h.CORS(mux))))
}
