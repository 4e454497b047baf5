// Package management implements the administrative REST API: device CRUD
// against the registry, gateway status, and a read-only JSON export of the
// latest readings.
package management

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pajenicko/explora-gateway/internal/gateway"
	"github.com/pajenicko/explora-gateway/internal/log"
	"github.com/pajenicko/explora-gateway/internal/registry"
)

// GatewayControl is the slice of the coordinator the admin surface drives:
// discovery re-publication after mutations and retraction before deletions.
type GatewayControl interface {
	NotifyDeviceUpdated(registry.Handle)
	NotifyDeviceDeleting(serial uint32)
	NotifyDeviceDeleted()
	Stats() gateway.StatsSnapshot
}

// Config for the management API listener.
type Config struct {
	ListenAddr string
	Port       int
	AuthToken  string
}

// Controller represents the management API controller
type Controller struct {
	cfg      Config
	registry *registry.Registry
	control  GatewayControl
	Server   http.Server
	handlers *Handlers
	started  time.Time
}

// NewController creates a new management API controller
func NewController(cfg Config, reg *registry.Registry, control GatewayControl) *Controller {
	ctrl := &Controller{
		cfg:      cfg,
		registry: reg,
		control:  control,
		started:  time.Now(),
	}

	if ctrl.cfg.Port == 0 {
		log.Info("management API port not specified; defaulting to 8081")
		ctrl.cfg.Port = 8081
	}
	if ctrl.cfg.ListenAddr == "" {
		log.Info("management API listen-addr not provided; defaulting to 127.0.0.1 (localhost only)")
		ctrl.cfg.ListenAddr = "127.0.0.1"
	}

	if ctrl.cfg.AuthToken == "" {
		ctrl.cfg.AuthToken = generateAuthToken()
		log.Info("═══════════════════════════════════════════════════════════════")
		log.Info("          NEW MANAGEMENT API ACCESS TOKEN GENERATED             ")
		log.Info("═══════════════════════════════════════════════════════════════")
		log.Infof("   Token: %s", ctrl.cfg.AuthToken)
		log.Info("   Use this token for API authentication")
		log.Info("═══════════════════════════════════════════════════════════════")
	}

	ctrl.handlers = NewHandlers(ctrl)

	router := ctrl.setupRouter()
	ctrl.Server.Addr = fmt.Sprintf("%v:%v", ctrl.cfg.ListenAddr, ctrl.cfg.Port)
	ctrl.Server.Handler = router

	return ctrl
}

// StartController starts the management API server
func (c *Controller) StartController(ctx context.Context, wg *sync.WaitGroup) error {
	log.Info("starting management API controller...")
	wg.Add(1)

	go func() {
		defer wg.Done()

		log.Infof("management API server starting on %s", c.Server.Addr)
		if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("management API server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info("shutting down the management API server...")
		c.Server.Shutdown(context.Background())
	}()

	return nil
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()

	router.Use(c.loggingMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(c.authMiddleware)

	api.HandleFunc("/status", c.handlers.GetStatus).Methods("GET")

	api.HandleFunc("/devices", c.handlers.GetDevices).Methods("GET")
	api.HandleFunc("/devices", c.handlers.CreateDevice).Methods("POST")
	api.HandleFunc("/devices/{serial}", c.handlers.GetDevice).Methods("GET")
	api.HandleFunc("/devices/{serial}", c.handlers.UpdateDevice).Methods("PUT")
	api.HandleFunc("/devices/{serial}", c.handlers.DeleteDevice).Methods("DELETE")

	return router
}

// loggingMiddleware logs all requests
func (c *Controller) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Infof("%s %s %s %v", r.Method, r.RequestURI, r.RemoteAddr, time.Since(start))
	})
}

// authMiddleware validates the bearer token
func (c *Controller) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+c.cfg.AuthToken {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Authentication required", http.StatusUnauthorized)
	})
}
