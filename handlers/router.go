package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/app"
	"github.com/ferreirogomes/artmarket/signer"
)

// NewRouter monta as rotas da API sobre o runtime. bridge pode ser nil quando a
// carteira não passa pela API (testes ou carteira embutida); gatherer nil omite /metrics.
func NewRouter(rt *app.Runtime, bridge *signer.Bridge, gatherer prometheus.Gatherer) http.Handler {
	users := NewUserHandler(rt.Session, rt.Views)
	assets := NewAssetHandler(rt.Ledger, rt.Views, rt.Session, rt)
	intents := NewIntentHandler(rt.Transactions)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", users.GetSession)
		r.Post("/connect", users.Connect)
		r.Post("/disconnect", users.Disconnect)
	})
	r.Get("/dashboard", users.GetDashboard)

	r.Route("/assets", func(r chi.Router) {
		r.Get("/owned", assets.GetOwned)
		r.Get("/created", assets.GetCreated)
		r.Get("/{id}", assets.GetAssetByID)
		r.Delete("/", assets.ClearAll)
	})
	r.Get("/marketplace", assets.GetMarketplace)
	r.Get("/categories", assets.GetCategories)

	r.Route("/intents", func(r chi.Router) {
		r.Post("/", intents.Submit)
		r.Get("/", intents.List)
		r.Get("/{id}", intents.Get)
		r.Post("/{id}/cancel", intents.Cancel)
	})

	if bridge != nil {
		wallet := NewWalletHandler(bridge)
		r.Route("/wallet", func(r chi.Router) {
			r.Get("/authorization", wallet.GetAuthorization)
			r.Post("/authorization", wallet.Authorize)
			r.Post("/authorization/deny", wallet.DenyAuthorization)
			r.Get("/requests", wallet.GetRequests)
			r.Post("/requests/{id}/approve", wallet.Approve)
			r.Post("/requests/{id}/reject", wallet.Reject)
			r.Post("/events", wallet.Event)
		})
	}

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("Requisição atendida")
	})
}
