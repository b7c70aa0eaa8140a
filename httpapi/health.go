package httpapi

import (
	"context"
	"net/http"
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"
	"github.com/AppsFlyer/go-sundheit/checks"
	gosundheithttp "github.com/AppsFlyer/go-sundheit/http"

	"github.com/nimbusid/authgateway/storage"
)

// NewHealthChecker registers a single liveness check, on storage. The Users
// store is not checked, and neither is Redis — package cache already
// degrades it to best-effort, so its outage is not a liveness condition.
func NewHealthChecker(store storage.Storage) gosundheit.Health {
	h := gosundheit.New()
	h.RegisterCheck(&gosundheit.Config{
		Check: &checks.CustomCheck{
			CheckName: "storage",
			CheckFunc: func(ctx context.Context) (details interface{}, err error) {
				_, err = store.ListClients(ctx)
				return nil, err
			},
		},
		ExecutionPeriod:  15 * time.Second,
		InitiallyPassing: true,
	})
	return h
}

// health handles GET /health with the go-sundheit JSON envelope used by
// the rest of the gateway's process fleet.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	gosundheithttp.HandleHealthJSON(h.cfg.HealthChecker).ServeHTTP(w, r)
}
