package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"crmgate.org/internal/audit"
	"crmgate.org/internal/auth"
)

// handleAuditList serves the admin-gated audit read surface. Listing is
// always confined to the caller's tenant.
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid User")
		return
	}
	if err := a.tenantAdmitted(r.Context(), id.TenantID); err != nil {
		a.domainError(w, r, err)
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		TenantID:     id.TenantID,
		ResourceType: q.Get("resource"),
		ResourceID:   q.Get("resource_id"),
		Action:       q.Get("action"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Validation failed", "from must be RFC3339")
			return
		}
		f.From = ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Validation failed", "to must be RFC3339")
			return
		}
		f.To = ts
	}

	records, err := a.auditLog.List(r.Context(), f)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeSuccess(w, http.StatusOK, "ok", records)
}
