package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/observability"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/password"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/statestore"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/store"
)

// Options configures a Gateway.
type Options struct {
	BaseURL   string
	Configs   store.ConfigStore
	States    statestore.Store
	Passwords *password.Service
	Metrics   *observability.Metrics
	Logger    *observability.Logger
	// HandlerLogger is the request-scoped logger. Defaults to
	// logrus.StandardLogger.
	HandlerLogger *logrus.Logger
	// IdPClient is the outbound HTTP client used for token and userinfo
	// calls. Its timeout bounds how long a callback can block on the IdP.
	IdPClient *http.Client

	// EngineCacheSize bounds the number of live provider engines.
	EngineCacheSize int
	// EngineCachePurgeSpec is a cron spec; each firing drops all cached
	// engines so config rotations propagate to long-lived replicas.
	EngineCachePurgeSpec string

	// Limiter rate-limits login and OTP sends per store. Nil disables
	// limiting.
	Limiter *RateLimiter

	// OTPSender delivers one-time passcodes. Defaults to a log-only sender
	// for development.
	OTPSender OTPSender
}

// Gateway routes SSO flows for every store to the right provider engine.
type Gateway struct {
	baseURL   string
	configs   store.ConfigStore
	states    statestore.Store
	passwords *password.Service
	metrics   *observability.Metrics
	logger    *observability.Logger
	hlog      *logrus.Logger
	idpClient *http.Client
	limiter   *RateLimiter
	otpSender OTPSender

	engines *lru.Cache[string, provider.Provider]
	cron    *cron.Cron
}

// NewGateway builds the gateway and schedules the engine cache purge.
func NewGateway(opts Options) (*Gateway, error) {
	if opts.Configs == nil || opts.States == nil || opts.Passwords == nil {
		return nil, fmt.Errorf("config store, state store and password service are required")
	}
	if opts.Metrics == nil {
		return nil, fmt.Errorf("metrics are required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.HandlerLogger == nil {
		opts.HandlerLogger = logrus.StandardLogger()
	}
	if opts.IdPClient == nil {
		opts.IdPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.EngineCacheSize <= 0 {
		opts.EngineCacheSize = 512
	}
	if opts.EngineCachePurgeSpec == "" {
		opts.EngineCachePurgeSpec = "@every 15m"
	}
	if opts.OTPSender == nil {
		opts.OTPSender = &logOTPSender{logger: opts.HandlerLogger}
	}

	engines, err := lru.New[string, provider.Provider](opts.EngineCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine cache: %w", err)
	}

	g := &Gateway{
		baseURL:   opts.BaseURL,
		configs:   opts.Configs,
		states:    opts.States,
		passwords: opts.Passwords,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		hlog:      opts.HandlerLogger,
		idpClient: opts.IdPClient,
		limiter:   opts.Limiter,
		otpSender: opts.OTPSender,
		engines:   engines,
		cron:      cron.New(),
	}

	if _, err := g.cron.AddFunc(opts.EngineCachePurgeSpec, func() {
		g.engines.Purge()
		g.logger.Debug("engine cache purged")
	}); err != nil {
		return nil, fmt.Errorf("invalid engine cache purge spec %q: %w", opts.EngineCachePurgeSpec, err)
	}

	return g, nil
}

// Start begins background maintenance (the engine cache purge job).
func (g *Gateway) Start() {
	g.cron.Start()
}

// Close stops background maintenance.
func (g *Gateway) Close() {
	g.cron.Stop()
}

// RegisterRoutes registers the SSO routes on the router.
func (g *Gateway) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/sso/{store}/{provider}/login", g.handleLogin).Methods("GET")
	router.HandleFunc("/auth/sso/{store}/{provider}/callback", g.handleCallback).Methods("GET", "POST")
	router.HandleFunc("/auth/sso/{store}/{provider}/metadata", g.handleMetadata).Methods("GET")
	router.HandleFunc("/auth/sso/{store}/providers", g.handleListProviders).Methods("GET")
	router.HandleFunc("/auth/sso/{store}/otp/send", g.handleOTPSend).Methods("POST")
	router.HandleFunc("/auth/sso/{store}/otp/verify", g.handleOTPVerify).Methods("POST")
	router.HandleFunc("/auth/sso/creds/{token}", g.handleRedeemCredentials).Methods("GET")
}

// engineFor resolves the live provider engine for one (store, provider)
// pair. Engines are cached by config revision, so an admin edit that bumps
// UpdatedAt naturally misses the cache and builds a fresh engine.
func (g *Gateway) engineFor(ctx context.Context, rec *store.ProviderRecord) (provider.Provider, error) {
	key := fmt.Sprintf("%s/%s/%d", rec.StoreID, rec.ProviderID, rec.Config.UpdatedAt.UnixNano())
	if eng, ok := g.engines.Get(key); ok {
		return eng, nil
	}

	deps := provider.Deps{
		StoreID:    rec.StoreID,
		ProviderID: rec.ProviderID,
		BaseURL:    g.baseURL,
		States:     g.states,
		Logger:     g.logger,
		HTTPClient: g.idpClient,
	}
	eng, err := provider.New(deps, rec.Config)
	if err != nil {
		return nil, err
	}
	g.engines.Add(key, eng)
	return eng, nil
}

// resolve loads the tenant and provider records, mapping every miss or
// disabled flag to errFlowUnavailable so handlers answer uniformly.
func (g *Gateway) resolve(ctx context.Context, storeID, providerID string) (*store.StoreRecord, *store.ProviderRecord, error) {
	storeRec, err := g.configs.GetStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, store.ErrStoreNotFound) {
			return nil, nil, errFlowUnavailable
		}
		return nil, nil, err
	}
	if !storeRec.Enabled {
		return nil, nil, errFlowUnavailable
	}

	rec, err := g.configs.GetProvider(ctx, storeID, providerID)
	if err != nil {
		if errors.Is(err, store.ErrProviderNotFound) {
			return nil, nil, errFlowUnavailable
		}
		return nil, nil, err
	}
	if !rec.Enabled {
		return nil, nil, errFlowUnavailable
	}
	return storeRec, rec, nil
}

// errFlowUnavailable covers unknown store, unknown provider, and disabled
// records. Handlers never distinguish these to the browser.
var errFlowUnavailable = errors.New("sso flow unavailable")

// RequestIDMiddleware assigns every request a UUID, exposed in the response
// header and the request context for log correlation.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), requestID)))
	})
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, fmt.Sprintf("%d", sw.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
