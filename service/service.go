package service

import (
	"context"
	"crypto/tls"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/onesearch-labs/onesearchd/auth"
	"github.com/onesearch-labs/onesearchd/config"
	"github.com/onesearch-labs/onesearchd/proxy"
	"github.com/onesearch-labs/onesearchd/registry"
	"github.com/onesearch-labs/onesearchd/state"
)

/*
	The inbound HTTP surface of a node: the bit-exact peer endpoints under
	/wp-json/onesearch/v1 and the admin surface under /admin/v1. Every
	request is handled independently on its own goroutine; the only state
	shared across requests is the proxy caches and the persisted registry.
*/

type Config struct {
	AppCtx context.Context
	Logger *slog.Logger

	Site     *config.Site
	State    *state.Store
	Registry *registry.Registry
	Proxy    *proxy.Proxy
	Gate     *auth.Gate
	Admin    auth.AdminAuthenticator
}

type Service struct {
	appCtx context.Context
	logger *slog.Logger

	cfg  *config.Site
	st   *state.Store
	reg  *registry.Registry
	px   *proxy.Proxy
	gate *auth.Gate
	adm  auth.AdminAuthenticator

	mux       *http.ServeMux
	startedAt time.Time

	rateLimiters map[string]*ttlcache.Cache[string, *rate.Limiter]
}

func New(cfg Config) *Service {

	rateLimiters := make(map[string]*ttlcache.Cache[string, *rate.Limiter])
	for _, category := range []string{"peer", "admin", "default"} {
		cache := ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](time.Minute*1),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		)
		go cache.Start()
		rateLimiters[category] = cache
	}

	s := &Service{
		appCtx:       cfg.AppCtx,
		logger:       cfg.Logger.WithGroup("service"),
		cfg:          cfg.Site,
		st:           cfg.State,
		reg:          cfg.Registry,
		px:           cfg.Proxy,
		gate:         cfg.Gate,
		adm:          cfg.Admin,
		mux:          http.NewServeMux(),
		rateLimiters: rateLimiters,
	}
	s.routes()
	return s
}

func (s *Service) routes() {
	// Peer protocol - consumed by other nodes
	s.mux.Handle("/wp-json/onesearch/v1/health-check", s.rateLimitMiddleware(http.HandlerFunc(s.healthCheckHandler), "peer"))
	s.mux.Handle("/wp-json/onesearch/v1/algolia-credentials", s.rateLimitMiddleware(http.HandlerFunc(s.algoliaCredentialsHandler), "peer"))
	s.mux.Handle("/wp-json/onesearch/v1/searchable-sites", s.rateLimitMiddleware(http.HandlerFunc(s.searchableSitesHandler), "peer"))
	s.mux.Handle("/wp-json/onesearch/v1/search-settings", s.rateLimitMiddleware(http.HandlerFunc(s.searchSettingsHandler), "peer"))

	// Admin surface - local administration only
	s.mux.Handle("/admin/v1/ping", s.rateLimitMiddleware(http.HandlerFunc(s.pingHandler), "admin"))
	s.mux.Handle("/admin/v1/sites", s.rateLimitMiddleware(http.HandlerFunc(s.sitesListHandler), "admin"))
	s.mux.Handle("/admin/v1/sites/add", s.rateLimitMiddleware(http.HandlerFunc(s.sitesAddHandler), "admin"))
	s.mux.Handle("/admin/v1/sites/update", s.rateLimitMiddleware(http.HandlerFunc(s.sitesUpdateHandler), "admin"))
	s.mux.Handle("/admin/v1/sites/remove", s.rateLimitMiddleware(http.HandlerFunc(s.sitesRemoveHandler), "admin"))
	s.mux.Handle("/admin/v1/role", s.rateLimitMiddleware(http.HandlerFunc(s.roleHandler), "admin"))
	s.mux.Handle("/admin/v1/credentials", s.rateLimitMiddleware(http.HandlerFunc(s.credentialsHandler), "admin"))
	s.mux.Handle("/admin/v1/settings", s.rateLimitMiddleware(http.HandlerFunc(s.settingsHandler), "admin"))
	s.mux.Handle("/admin/v1/pairing", s.rateLimitMiddleware(http.HandlerFunc(s.pairingHandler), "admin"))
	s.mux.Handle("/admin/v1/token/generate", s.rateLimitMiddleware(http.HandlerFunc(s.tokenGenerateHandler), "admin"))
	s.mux.Handle("/admin/v1/state/keys", s.rateLimitMiddleware(http.HandlerFunc(s.stateKeysHandler), "admin"))
}

// Handler exposes the mux for tests.
func (s *Service) Handler() http.Handler {
	return s.mux
}

func (s *Service) getRemoteAddress(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		s.logger.Debug("could not split host and port from remote address", "remote_addr", r.RemoteAddr, "error", err)
		remoteIP = r.RemoteAddr
	}
	return remoteIP
}

func (s *Service) limiterConfig(category string) config.RateLimiterConfig {
	switch category {
	case "peer":
		return s.cfg.RateLimiters.Peer
	case "admin":
		return s.cfg.RateLimiters.Admin
	default:
		return s.cfg.RateLimiters.Default
	}
}

func (s *Service) getRateLimiter(category string, r *http.Request) *rate.Limiter {
	limiterCategory, ok := s.rateLimiters[category]
	if !ok {
		limiterCategory = s.rateLimiters["default"]
	}
	ip := s.getRemoteAddress(r)
	limiterItem := limiterCategory.Get(ip)
	if limiterItem == nil {
		rlConfig := s.limiterConfig(category)
		limiter := rate.NewLimiter(rate.Limit(rlConfig.Limit), rlConfig.Burst)
		limiterItem = limiterCategory.Set(ip, limiter, time.Minute*1)
	}
	return limiterItem.Value()
}

func (s *Service) rateLimitMiddleware(next http.Handler, category string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := s.getRateLimiter(category, r)
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			s.logger.Warn("rate limit exceeded", "category", category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

			retryAfterSeconds := math.Ceil(delay.Seconds())
			w.Header().Set("Retry-After", strconv.FormatFloat(retryAfterSeconds, 'f', 0, 64))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves until the app context is cancelled.
func (s *Service) Run() {
	httpListenAddr := s.cfg.HttpBinding
	tlsEnabled := s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != ""
	s.logger.Info("attempting to start server", "listen_addr", httpListenAddr, "tls_enabled", tlsEnabled)

	srv := &http.Server{
		Addr:    httpListenAddr,
		Handler: s.mux,
	}

	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
	}()

	s.startedAt = time.Now()

	if tlsEnabled {
		s.logger.Info("starting HTTPS server", "cert", s.cfg.TLS.Cert, "key", s.cfg.TLS.Key)
		srv.TLSConfig = &tls.Config{}
		if err := srv.ListenAndServeTLS(s.cfg.TLS.Cert, s.cfg.TLS.Key); err != http.ErrServerClosed {
			s.logger.Error("HTTPS server error", "error", err)
		}
	} else {
		s.logger.Info("TLS cert or key not specified in config. Starting HTTP server (insecure).")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}

	stopWg := sync.WaitGroup{}
	stopWg.Add(1)
	go func() {
		defer stopWg.Done()
		for _, limiter := range s.rateLimiters {
			limiter.Stop()
		}
	}()
	stopWg.Wait()
}
