// Package httpapi wires the synchronous API surface: request creation and
// reads for UIs, the webhook ingress for the provider, and metrics for
// operators.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"signflow/auth"
	"signflow/contract"
	"signflow/signature"
	"signflow/webhook"
)

// Server bundles the services the routes need.
type Server struct {
	auth       *auth.Service
	contracts  *contract.Service
	signatures *signature.Service
	ingestor   *webhook.Ingestor
	registry   *prometheus.Registry
	log        *logrus.Logger
}

func NewServer(
	authSvc *auth.Service,
	contracts *contract.Service,
	signatures *signature.Service,
	ingestor *webhook.Ingestor,
	registry *prometheus.Registry,
	log *logrus.Logger,
) *Server {
	return &Server{
		auth:       authSvc,
		contracts:  contracts,
		signatures: signatures,
		ingestor:   ingestor,
		registry:   registry,
		log:        log,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/webhooks/esign", s.ingestor.ServeHTTP)

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Group(func(private chi.Router) {
			private.Use(s.requireAuth)

			private.Post("/contracts", s.handleCreateContract)
			private.Get("/contracts", s.handleListContracts)
			private.Get("/contracts/{id}", s.handleGetContract)

			private.Post("/signature-requests", s.handleCreateRequest)
			private.Get("/signature-requests", s.handleListRequests)
			private.Get("/signature-requests/{id}", s.handleGetRequest)
			private.Post("/signature-requests/{id}/cancel", s.handleCancelRequest)
			private.Post("/signature-requests/{id}/resend", s.handleResendInvitation)
			private.Get("/signature-requests/{id}/artifact", s.handleDownloadArtifact)
		})
	})

	return r
}
