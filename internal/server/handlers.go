// internal/server/handlers.go
//
// HTTP handlers for health, tenant introspection, and administration.
//
// All bodies are JSON.  Errors render through the errdefs wire shape so
// every failure carries a stable code, a message, and a timestamp.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/WhitecodeAi/aicms-core/internal/admin"
	"github.com/WhitecodeAi/aicms-core/internal/envfile"
	"github.com/WhitecodeAi/aicms-core/internal/errdefs"
	"github.com/WhitecodeAi/aicms-core/internal/pool"
	"github.com/WhitecodeAi/aicms-core/internal/security"
	"github.com/WhitecodeAi/aicms-core/internal/tenant"
	"github.com/WhitecodeAi/aicms-core/internal/tenantctx"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

//
// Public
//

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

//
// Tenant introspection
//

type tenantHandlers struct {
	pools *pool.Manager
}

// info returns the public view of the active tenant: no secrets, no
// credentials.
func (h *tenantHandlers) info(w http.ResponseWriter, r *http.Request) {
	tc := tenantctx.FromContext(r.Context())
	if tc == nil {
		errdefs.WriteJSON(w, errdefs.New(errdefs.KindTenantRequired, "no tenant context"))
		return
	}
	healthy := tc.DB.PingContext(r.Context()) == nil
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId":  tc.TenantID,
		"subdomain": tc.Subdomain,
		"database":  tc.Config.Database.Database,
		"features":  tc.Config.Features,
		"healthy":   healthy,
	})
}

// stats returns pool and descriptor-derived statistics for the active
// tenant.
func (h *tenantHandlers) stats(w http.ResponseWriter, r *http.Request) {
	tc := tenantctx.FromContext(r.Context())
	if tc == nil {
		errdefs.WriteJSON(w, errdefs.New(errdefs.KindTenantRequired, "no tenant context"))
		return
	}
	var mine []pool.PoolStat
	for _, st := range h.pools.Stats() {
		if st.TenantID == tc.TenantID {
			mine = append(mine, st)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId":  tc.TenantID,
		"pools":     mine,
		"limits":    tc.Config.Limits,
		"status":    tc.Config.Status,
		"createdAt": tc.Config.CreatedAt,
		"updatedAt": tc.Config.UpdatedAt,
	})
}

//
// Admin
//

type adminHandlers struct {
	svc   *admin.Service
	pools *pool.Manager
	env   *envfile.Manager
}

func (h *adminHandlers) list(w http.ResponseWriter, r *http.Request) {
	sums, err := h.svc.ListSummary(r.Context())
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": sums, "count": len(sums)})
}

func (h *adminHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req tenant.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errdefs.WriteJSON(w, errdefs.Wrap(errdefs.KindTenantConfig, "malformed request body", err))
		return
	}
	d, err := h.svc.Create(r.Context(), &req)
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, security.RedactDescriptor(d))
}

func (h *adminHandlers) get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, security.RedactDescriptor(d))
}

func (h *adminHandlers) update(w http.ResponseWriter, r *http.Request) {
	var patch admin.UpdatePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		errdefs.WriteJSON(w, errdefs.Wrap(errdefs.KindTenantConfig, "malformed request body", err))
		return
	}
	d, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), &patch)
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, security.RedactDescriptor(d))
}

type statusBody struct {
	Reason string `json:"reason,omitempty"`
}

func (h *adminHandlers) suspend(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := h.svc.Suspend(r.Context(), chi.URLParam(r, "id"), body.Reason); err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(tenant.StatusSuspended)})
}

func (h *adminHandlers) activate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Activate(r.Context(), chi.URLParam(r, "id")); err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(tenant.StatusActive)})
}

func (h *adminHandlers) archive(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := h.svc.Archive(r.Context(), chi.URLParam(r, "id"), body.Reason); err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(tenant.StatusArchived)})
}

func (h *adminHandlers) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *adminHandlers) export(w http.ResponseWriter, r *http.Request) {
	raw, err := h.svc.ExportConfig(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *adminHandlers) usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.UsageStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *adminHandlers) limits(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.CheckUsageLimits(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *adminHandlers) health(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.HealthCheck(r.Context())
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type queryBody struct {
	TenantID string `json:"tenantId"`
	Query    string `json:"query"`
	Args     []any  `json:"args,omitempty"`
}

// query is the power-user ad-hoc endpoint: admin tenant only, target
// tenant must carry the apiAccess feature flag, and the sanitiser is
// defence-in-depth on top of that.
func (h *adminHandlers) query(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errdefs.WriteJSON(w, errdefs.Wrap(errdefs.KindTenantConfig, "malformed request body", err))
		return
	}

	d, err := h.svc.Get(r.Context(), body.TenantID)
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	if !d.Features.APIAccess {
		errdefs.WriteJSON(w, errdefs.Newf(errdefs.KindUnauthorized,
			"tenant %q does not have apiAccess enabled", d.TenantID).WithTenant(d.TenantID))
		return
	}

	res := security.SanitizeQuery(body.Query)
	if res.Violated {
		security.Audit(security.EventSecurityViolation, d.TenantID, map[string]any{
			"original":  res.Original,
			"sanitized": res.Sanitized,
			"matches":   res.Matches,
		})
		errdefs.WriteJSON(w, errdefs.New(errdefs.KindSecurityViolation,
			"query contains disallowed statements").WithTenant(d.TenantID))
		return
	}

	rows, err := h.pools.ExecuteQuery(r.Context(), d.TenantID, d.Database, res.Sanitized, body.Args...)
	if err != nil {
		errdefs.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)})
}
