package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"NudgeAgent/internal/auth"
	"NudgeAgent/internal/dialog"
	"NudgeAgent/internal/events"
	"NudgeAgent/internal/metrics"
	"NudgeAgent/internal/notifications"
	"NudgeAgent/internal/service"
)

type RouterOpts struct {
	Logger *slog.Logger
	IsProd bool

	DBPing func(context.Context) error

	// APIToken guards /v1. Empty leaves the local API open.
	APIToken    string
	CORSOrigins []string

	Repo      *service.Repository
	Sends     *service.SendWorker
	Actions   *service.FriendActionWorker
	Inbound   *service.InboundRouter
	Dialog    *dialog.Queue
	Device    *notifications.ReportedDevice
	Presenter *notifications.HubPresenter
	Hub       *events.Hub
	Metrics   *metrics.Metrics

	Webhook      auth.WebhookVerifier
	PushAudience string
	// VerifyIDToken checks a Google-signed bearer token on the push webhook.
	VerifyIDToken func(ctx context.Context, token, audience string) (*auth.ExternalTokenClaims, error)
}

func NewRouter(opts RouterOpts) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.VerifyIDToken == nil {
		opts.VerifyIDToken = auth.VerifyGoogleIDToken
	}

	api := &api{
		logger:        logger,
		isProd:        opts.IsProd,
		dbPing:        opts.DBPing,
		apiToken:      opts.APIToken,
		repo:          opts.Repo,
		sends:         opts.Sends,
		actions:       opts.Actions,
		inbound:       opts.Inbound,
		dialog:        opts.Dialog,
		device:        opts.Device,
		presenter:     opts.Presenter,
		hub:           opts.Hub,
		metrics:       opts.Metrics,
		webhook:       opts.Webhook,
		pushAudience:  opts.PushAudience,
		verifyIDToken: opts.VerifyIDToken,
		loginLimiter:  newLoginLimiter(),
	}

	publicMux := http.NewServeMux()
	apiMux := http.NewServeMux()

	publicMux.HandleFunc("GET /healthz", api.handleHealthz)
	if api.metrics != nil {
		publicMux.Handle("GET /metrics", api.metrics.Handler())
	}
	if api.inbound != nil {
		publicMux.HandleFunc("POST /push", api.handlePushWebhook)
	}

	if api.repo == nil {
		apiMux.HandleFunc("GET /v1/session", handleNotImplemented)
	} else {
		apiMux.HandleFunc("GET /v1/session", api.requireToken(api.handleSessionGet))
		apiMux.HandleFunc("POST /v1/session/register", api.requireToken(api.handleSessionRegister))
		apiMux.HandleFunc("POST /v1/session/login", api.requireToken(api.handleSessionLogin))
		apiMux.HandleFunc("POST /v1/session/logout", api.requireToken(api.handleSessionLogout))
		apiMux.HandleFunc("PUT /v1/session/push-token", api.requireToken(api.handleSessionPushToken))
		apiMux.HandleFunc("POST /v1/sync", api.requireToken(api.handleSync))

		apiMux.HandleFunc("GET /v1/friends", api.requireToken(api.handleFriendsList))
		apiMux.HandleFunc("POST /v1/friends", api.requireToken(api.handleFriendsAdd))
		apiMux.HandleFunc("GET /v1/friends/top", api.requireToken(api.handleFriendsTop))
		apiMux.HandleFunc("GET /v1/friends/pending", api.requireToken(api.handleFriendsPending))
		apiMux.HandleFunc("GET /v1/friends/cached", api.requireToken(api.handleFriendsCached))
		apiMux.HandleFunc("PATCH /v1/friends/{username}", api.requireToken(api.handleFriendsRename))
		apiMux.HandleFunc("DELETE /v1/friends/{username}", api.requireToken(api.handleFriendsRemove))
		apiMux.HandleFunc("GET /v1/messages", api.requireToken(api.handleMessagesList))
		apiMux.HandleFunc("GET /v1/settings/notifications", api.requireToken(api.handleSettingsGet))
		apiMux.HandleFunc("PUT /v1/settings/notifications", api.requireToken(api.handleSettingsPut))

		if api.actions != nil {
			apiMux.HandleFunc("POST /v1/friends/pending/{username}", api.requireToken(api.handleFriendsRespond))
		}
		if api.sends != nil {
			apiMux.HandleFunc("POST /v1/alerts", api.requireToken(api.handleAlertsSend))
			apiMux.HandleFunc("GET /v1/alerts/jobs", api.requireToken(api.handleAlertsJobs))
			apiMux.HandleFunc("DELETE /v1/alerts/jobs/{start_id}", api.requireToken(api.handleAlertsCancel))
		}
		if api.inbound != nil {
			apiMux.HandleFunc("POST /v1/alerts/{alert_id}/ack", api.requireToken(api.handleAlertsAck))
		}
	}

	if api.dialog != nil {
		apiMux.HandleFunc("GET /v1/dialog", api.requireToken(api.handleDialogGet))
		apiMux.HandleFunc("POST /v1/dialog", api.requireToken(api.handleDialogPush))
		apiMux.HandleFunc("POST /v1/dialog/pop", api.requireToken(api.handleDialogPop))
		apiMux.HandleFunc("POST /v1/dialog/swap", api.requireToken(api.handleDialogSwap))
	}
	if api.device != nil {
		apiMux.HandleFunc("GET /v1/device", api.requireToken(api.handleDeviceGet))
		apiMux.HandleFunc("PUT /v1/device", api.requireToken(api.handleDeviceReport))
	}
	if api.presenter != nil {
		apiMux.HandleFunc("GET /v1/notifications", api.requireToken(api.handleNotificationsList))
		apiMux.HandleFunc("DELETE /v1/notifications/{id}", api.requireToken(api.handleNotificationsClear))
	}
	if api.hub != nil {
		apiMux.HandleFunc("GET /v1/events", api.requireToken(api.handleEvents))
	}

	apiHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := apiMux.Handler(r)
		if pattern == "" {
			handleV1NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/v1" {
			apiHandler.ServeHTTP(w, r)
			return
		}
		publicMux.ServeHTTP(w, r)
	})

	var h http.Handler = root
	h = CORS(opts.CORSOrigins)(h)
	h = RequestLogger(logger)(h)
	h = RequestID()(h)
	h = Recoverer(logger, opts.IsProd)(h)
	return h
}

func handleNotImplemented(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotImplemented, "not_implemented", "not implemented")
}

func handleV1NotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "not_found", "not found")
}

type api struct {
	logger *slog.Logger
	isProd bool

	dbPing   func(context.Context) error
	apiToken string

	repo      *service.Repository
	sends     *service.SendWorker
	actions   *service.FriendActionWorker
	inbound   *service.InboundRouter
	dialog    *dialog.Queue
	device    *notifications.ReportedDevice
	presenter *notifications.HubPresenter
	hub       *events.Hub
	metrics   *metrics.Metrics

	webhook       auth.WebhookVerifier
	pushAudience  string
	verifyIDToken func(ctx context.Context, token, audience string) (*auth.ExternalTokenClaims, error)

	loginLimiter *loginLimiter
}

func (a *api) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if a.dbPing != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()
		if err := a.dbPing(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db down"))
			return
		}
	}

	_, _ = w.Write([]byte("ok"))
}
