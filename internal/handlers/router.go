package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"

	"eloqua-sms-bridge/config"
)

// NewRouter builds the HTTP surface: app lifecycle, step callbacks, the
// config page API and the gateway webhooks, all behind the shared middleware
// chain.
func NewRouter(cfg *config.Config, h *Handlers) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods("GET")

	// App lifecycle.
	r.HandleFunc("/eloqua/app/install", h.Install).Methods("GET", "POST")
	r.HandleFunc("/eloqua/app/uninstall", h.Uninstall).Methods("GET", "POST")
	r.HandleFunc("/eloqua/app/authorize", h.Authorize).Methods("GET")
	r.HandleFunc("/eloqua/app/oauth/callback/{installId}", h.OauthCallback).Methods("GET")
	r.HandleFunc("/eloqua/app/config", h.GetConfig).Methods("GET")
	r.HandleFunc("/eloqua/app/config", h.SaveConfig).Methods("POST")
	r.HandleFunc("/eloqua/app/status", h.Status).Methods("GET")

	// Action step callbacks.
	r.HandleFunc("/eloqua/action/create", h.ActionCreate).Methods("GET", "POST")
	r.HandleFunc("/eloqua/action/notify", h.ActionNotify).Methods("POST")
	r.HandleFunc("/eloqua/action/copy", h.ActionCopy).Methods("POST")
	r.HandleFunc("/eloqua/action/delete", h.ActionDelete).Methods("POST", "DELETE")
	r.HandleFunc("/eloqua/action/instance/{instanceId}", h.GetActionInstance).Methods("GET")
	r.HandleFunc("/eloqua/action/instance/{instanceId}", h.SaveActionInstance).Methods("POST")

	// Decision step callbacks.
	r.HandleFunc("/eloqua/decision/create", h.DecisionCreate).Methods("GET", "POST")
	r.HandleFunc("/eloqua/decision/notify", h.DecisionNotify).Methods("POST")
	r.HandleFunc("/eloqua/decision/copy", h.DecisionCopy).Methods("POST")
	r.HandleFunc("/eloqua/decision/delete", h.DecisionDelete).Methods("POST", "DELETE")
	r.HandleFunc("/eloqua/decision/instance/{instanceId}", h.GetDecisionInstance).Methods("GET")
	r.HandleFunc("/eloqua/decision/instance/{instanceId}", h.SaveDecisionInstance).Methods("POST")

	// Feeder step callbacks.
	r.HandleFunc("/eloqua/feeder/create", h.FeederCreate).Methods("GET", "POST")
	r.HandleFunc("/eloqua/feeder/copy", h.FeederCopy).Methods("POST")
	r.HandleFunc("/eloqua/feeder/delete", h.FeederDelete).Methods("POST", "DELETE")
	r.HandleFunc("/eloqua/feeder/instance/{instanceId}", h.GetFeederInstance).Methods("GET")
	r.HandleFunc("/eloqua/feeder/instance/{instanceId}", h.SaveFeederInstance).Methods("POST")

	// SMS gateway webhooks.
	r.HandleFunc("/webhooks/reply", h.ReplyWebhook).Methods("GET", "POST")
	r.HandleFunc("/webhooks/dlr", h.DLRWebhook).Methods("GET", "POST")
	r.HandleFunc("/webhooks/linkhit", h.LinkHitWebhook).Methods("GET", "POST")

	limiter := NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	chain := alice.New(Recoverer, RequestLogger, limiter.Middleware)
	return chain.Then(r)
}
