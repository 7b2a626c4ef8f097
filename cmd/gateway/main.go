package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/learnspace/learnspace-lms/internal/auth"
	"github.com/learnspace/learnspace-lms/internal/config"
	"github.com/learnspace/learnspace-lms/internal/course"
	"github.com/learnspace/learnspace-lms/internal/db"
	"github.com/learnspace/learnspace-lms/internal/lti"
)

/*
gateway: the HTTP front door.

Wires config -> database -> stores -> LTI flows -> routes. All state lives
in the database; the process itself is stateless apart from the in-memory
JWKS cache, so multiple replicas can sit behind one load balancer as long as
the nonce table is shared.
*/

func main() {
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer conn.Close()

	codec := auth.NewCodec(cfg.SessionSecret, cfg.SessionTTL)

	registry := lti.NewSQLRegistry(conn)
	replay := lti.NewSQLReplay(conn, 10*time.Minute)
	keys := &lti.SQLKeyStore{DB: conn}
	if _, err := lti.EnsureSigningKey(ctx, keys); err != nil {
		log.Fatalf("signing key: %v", err)
	}

	courses := course.NewStore(conn)
	dispatcher := &lti.Dispatcher{
		Tenants:  lti.StaticTenants{Default: courses},
		Contexts: registry,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
	validator := &lti.Validator{
		Store:       registry,
		Replay:      replay,
		Keys:        lti.NewRemoteKeySet(),
		RedirectURI: cfg.LTIToolRedirectURI,
	}
	bridge := &lti.Bridge{
		Users:    &lti.SQLUserDirectory{DB: conn},
		Sessions: codec,
	}
	ltiHandlers := &lti.Handlers{
		Validator:  validator,
		Bridge:     bridge,
		Dispatcher: dispatcher,
		Tools:      registry,
		Contexts:   registry,
		Keys:       keys,
		Issuer:     cfg.Issuer,
		PublicURL:  cfg.PublicURL,
		TenantID:   cfg.TenantID,
	}
	courseHandlers := &course.Handlers{Store: courses, Pusher: dispatcher}
	adminAPI := &lti.AdminAPI{Registry: registry}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := conn.PingContext(req.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(codec, conn))
	}
	if cfg.EnableLTI {
		r.Group(ltiHandlers.Routes)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(codec))
			r.Post("/lti/tools/launch", ltiHandlers.ToolLaunch)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.Middleware(codec))
			r.Use(auth.RequireRole("admin"))
			adminAPI.Routes(r)
		})
	}
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(codec))
		courseHandlers.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("gateway listening on %s (mode=%s driver=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
