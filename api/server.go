/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  0. RealIP:     Only with TrustProxy; rewrites RemoteAddr from proxy headers
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the dashboard
  5. RateLimit:  Per-client token bucket, ingestion routes only

ROUTE GROUPS:
  /api/window, /api/metrics/*   Reporting
  /api/lookups                  Filter values
  /api/ingest/*, /api/runs/*    Ingestion
  /api/datasets/*               Demo datasets (only when enabled)
  /*                            Static files (frontend)

STATIC FILE SERVING:
  Serves the built dashboard from web/dist/ when present.
  Falls back to index.html for client-side routing.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// RouterOptions configures the middleware around the handlers.
type RouterOptions struct {
	AllowedOrigins []string
	// IngestRate and IngestBurst limit ingestion requests per client IP.
	// A zero rate disables limiting.
	IngestRate  rate.Limit
	IngestBurst int
	DemoRoutes  bool
	StaticDir   string
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that sets them.
	TrustProxy bool
}

// DefaultRouterOptions matches the local dashboard dev setup.
func DefaultRouterOptions() RouterOptions {
	return RouterOptions{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		IngestRate:     1,
		IngestBurst:    5,
		StaticDir:      "./web/dist",
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	limiter := NewRateLimiter(opts.IngestRate, opts.IngestBurst)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/window", h.GetWindow)
		r.Get("/lookups", h.Lookups)

		// Reporting routes
		r.Route("/metrics", func(r chi.Router) {
			r.Get("/summary", h.Summary)
			r.Get("/retail-performance", h.RetailPerformance)
			r.Get("/retail-efficiency", h.RetailEfficiency)
			r.Get("/omni-channel", h.OmniChannelTmLm)
			r.Get("/omni-channel/details", h.OmniChannelDetails)
			r.Get("/whatsapp", h.WhatsappBreakdown)
			r.Get("/retail-omni-total", h.RetailOmniTotal)
			r.Get("/overview", h.Overview)
			r.Get("/export", h.Export)
		})

		// Ingestion routes
		r.Route("/ingest", func(r chi.Router) {
			r.Get("/status", h.IngestionStatus)
			r.Group(func(r chi.Router) {
				r.Use(h.requireRunner, limiter.Middleware)
				r.Post("/upload", h.UploadFile)
				r.Post("/run", h.RunIngestion)
			})
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Get("/{id}", h.GetRun)
		})

		// Demo dataset routes
		if opts.DemoRoutes {
			r.Route("/datasets", func(r chi.Router) {
				r.Get("/", h.ListDatasets)
				r.Get("/current", h.GetCurrentDataset)
				r.With(h.requireRunner, limiter.Middleware).Post("/load", h.LoadDataset)
			})
		}
	})

	mountStatic(r, opts.StaticDir)
	return r
}

func mountStatic(r chi.Router, staticDir string) {
	if staticDir == "" {
		staticDir = "./web/dist"
	}
	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		// Try relative to executable
		exe, _ := os.Executable()
		staticDir = filepath.Join(filepath.Dir(exe), "web", "dist")
	}

	if _, err := os.Stat(staticDir); err == nil {
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			fullPath := filepath.Join(staticDir, filepath.Clean(r.URL.Path))
			if _, err := os.Stat(fullPath); os.IsNotExist(err) {
				// SPA routing: serve index.html
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
		return
	}

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Daily Sales Report</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Daily Sales Report API</h1>
<p>The dashboard is not built yet. Run <code>cd web && npm install && npm run build</code></p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/metrics/overview">/api/metrics/overview</a> - Every view for the latest day</li>
<li><a href="/api/lookups">/api/lookups</a> - Locations, brands, categories</li>
<li><a href="/api/runs">/api/runs</a> - Ingestion runs</li>
</ul>
</body>
</html>`))
	})
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// RateLimiter keeps one token bucket per client IP. Buckets idle for more
// than limiterIdle are dropped on the next lookup.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdle = 3 * time.Minute

func NewRateLimiter(limit rate.Limit, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limit: limit, burst: burst, clients: make(map[string]*client)}
}

// Allow reports whether ip may make a request now.
func (rl *RateLimiter) Allow(ip string) bool {
	if rl.limit <= 0 {
		return true
	}
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for k, c := range rl.clients {
		if now.Sub(c.lastSeen) > limiterIdle {
			delete(rl.clients, k)
		}
	}
	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the connection peer. Proxy headers count only through
// middleware.RealIP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
