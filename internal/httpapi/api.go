package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"agrotrace.org/internal/access"
	"agrotrace.org/internal/audit"
	"agrotrace.org/internal/batch"
	"agrotrace.org/internal/obs"
	"agrotrace.org/internal/provenance"
	"agrotrace.org/internal/roles"
	"agrotrace.org/internal/stream"
)

// ReadyProbe checks downstream readiness (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP surface of the provenance ledger.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	authority roles.Service
	ledger    provenance.Service
	batches   batch.Service
	policy    *access.Policy
	stream    *stream.Stream

	rateBurst  int
	ratePerSec int
}

// New wires routes onto a fresh mux.
func New(rp ReadyProbe, version string, authority roles.Service, ledger provenance.Service, batches batch.Service, policy *access.Policy, st *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		authority:  authority,
		ledger:     ledger,
		batches:    batches,
		policy:     policy,
		stream:     st,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/v1/products", a.handleProductsCollection)
	a.mux.HandleFunc("/v1/products/", a.handleProductResource)

	a.mux.HandleFunc("/v1/batches", a.handleBatchesCollection)
	a.mux.HandleFunc("/v1/batches/", a.handleBatchResource)

	a.mux.HandleFunc("/v1/role-requests", a.handleRoleRequests)
	a.mux.HandleFunc("/v1/role-requests/", a.handleRoleRequestResource)
	a.mux.HandleFunc("/v1/roles/grant", a.handleGrantRole)
	a.mux.HandleFunc("/v1/roles/revoke", a.handleRevokeRole)
	a.mux.HandleFunc("/v1/roles/check", a.handleRoleCheck)
	a.mux.HandleFunc("/v1/users/count", a.handleUserCount)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler composes the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = Logging(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- health/info handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "agrotrace-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "agrotrace-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// audit records an accepted mutation with request and principal context.
func (a *API) audit(ctx context.Context, event, resourceType, resourceID string, meta map[string]string) {
	fields := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
	}
	for k, v := range meta {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, event, fields)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
