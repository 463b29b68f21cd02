package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openshelf/openshelf/internal/copies"
	"github.com/openshelf/openshelf/internal/fines"
	"github.com/openshelf/openshelf/internal/holds"
	"github.com/openshelf/openshelf/internal/loans"
	"github.com/openshelf/openshelf/internal/notify"
	"github.com/openshelf/openshelf/internal/payments"
	"github.com/openshelf/openshelf/internal/policy"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager

	PolicyHandler  *policy.Handler
	CopyHandler    *copies.Handler
	HoldHandler    *holds.Handler
	LoanHandler    *loans.Handler
	FineHandler    *fines.Handler
	PaymentHandler *payments.Handler
	NotifyHandler  *notify.Handler
	JobHandler     *jobs.Handler
}

// NewRouter constructs the chi.Router with OpenShelf defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		// The gateway posts here anonymously; it must stay outside any
		// session requirement.
		if params.PaymentHandler != nil {
			params.PaymentHandler.MountWebhook(api)
		}

		if params.PolicyHandler != nil {
			params.PolicyHandler.MountRoutes(api)
		}
		if params.CopyHandler != nil {
			params.CopyHandler.MountRoutes(api)
		}
		if params.HoldHandler != nil {
			params.HoldHandler.MountRoutes(api)
		}
		if params.LoanHandler != nil {
			params.LoanHandler.MountRoutes(api)
		}
		if params.FineHandler != nil {
			params.FineHandler.MountRoutes(api)
		}
		if params.PaymentHandler != nil {
			params.PaymentHandler.MountRoutes(api)
		}
		if params.NotifyHandler != nil {
			params.NotifyHandler.MountRoutes(api)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
