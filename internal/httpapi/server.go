// Package httpapi exposes the REST surface of the auction platform and
// mounts the realtime channel, health and metrics endpoints.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auctionhub/internal/auction"
	"github.com/jensholdgaard/auctionhub/internal/auth"
	"github.com/jensholdgaard/auctionhub/internal/health"
	"github.com/jensholdgaard/auctionhub/internal/negotiation"
	"github.com/jensholdgaard/auctionhub/internal/realtime"
	"github.com/jensholdgaard/auctionhub/internal/store"
	"github.com/jensholdgaard/auctionhub/internal/telemetry"
)

// Deps are the services the API routes to.
type Deps struct {
	Auth       *auth.Service
	Repos      *store.Repositories
	Catalog    *auction.Catalog
	Scheduler  *auction.Scheduler
	Negotiator *negotiation.Negotiator
	Hub        *realtime.Hub
	Session    realtime.Session
	Health     *health.Handler
	Gatherer   prometheus.Gatherer
	InvoiceDir string
	Logger     *slog.Logger
	Tracer     trace.TracerProvider
}

// Server serves the REST API.
type Server struct {
	auth       *auth.Service
	repos      *store.Repositories
	catalog    *auction.Catalog
	scheduler  *auction.Scheduler
	negotiator *negotiation.Negotiator
	hub        *realtime.Hub
	session    realtime.Session
	health     *health.Handler
	gatherer   prometheus.Gatherer
	invoiceDir string
	logger     *slog.Logger
	tp         trace.TracerProvider
}

// New returns a Server.
func New(d Deps) *Server {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		auth:       d.Auth,
		repos:      d.Repos,
		catalog:    d.Catalog,
		scheduler:  d.Scheduler,
		negotiator: d.Negotiator,
		hub:        d.Hub,
		session:    d.Session,
		health:     d.Health,
		gatherer:   d.Gatherer,
		invoiceDir: d.InvoiceDir,
		logger:     d.Logger,
		tp:         d.Tracer,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		s.logRequests,
	)

	r.Get("/healthz", s.health.LivenessHandler())
	r.Get("/readyz", s.health.ReadinessHandler())
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Handle("/ws", s.hub.Handler(s.session))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", s.signup)
			r.Post("/login", s.login)
			r.With(s.auth.Authenticate).Get("/me", s.me)
		})

		r.Get("/auctions", s.listAuctions)
		r.Get("/auctions/{auctionID}", s.getAuction)
		r.Get("/auctions/{auctionID}/bids", s.listBids)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Authenticate)

			r.Get("/notifications", s.listNotifications)
			r.Post("/notifications/{notificationID}/read", s.markRead)
			r.Get("/invoices/{file}", s.invoiceFile)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(store.RoleSeller))
				r.Post("/auctions", s.createAuction)
				r.Get("/seller/auctions", s.sellerAuctions)
				r.Post("/auctions/{auctionID}/accept", s.acceptBid)
				r.Post("/auctions/{auctionID}/reject", s.rejectBid)
				r.Post("/auctions/{auctionID}/counter", s.counterOffer)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(store.RoleBuyer))
				r.Post("/counter-offers/{offerID}/accept", s.acceptCounter)
				r.Post("/counter-offers/{offerID}/reject", s.rejectCounter)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(store.RoleAdmin))
				r.Get("/auctions", s.adminAuctions)
				r.Get("/users", s.adminUsers)
				r.Post("/auctions/{auctionID}/start", s.forceStart)
				r.Post("/auctions/{auctionID}/reset", s.resetAuction)
			})
		})
	})

	return otelhttp.NewHandler(r, "auctionhub",
		otelhttp.WithTracerProvider(s.tp),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		telemetry.LogWithTrace(r.Context(), s.logger).DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
