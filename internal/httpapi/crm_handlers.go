package httpapi

import (
	"net/http"
	"strconv"

	"crmgate.org/internal/audit"
	"crmgate.org/internal/auth"
	"crmgate.org/internal/crm"
	"crmgate.org/internal/tenant"
)

// scopeOrFail resolves a data handle for the caller's tenant. The tenant id
// comes from the authenticated identity only; it is never read from the
// request. A deactivated tenant is refused before any scoping happens.
func (a *API) scopeOrFail(w http.ResponseWriter, r *http.Request) (auth.Identity, tenant.Handle, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid User")
		return auth.Identity{}, nil, false
	}
	if err := a.tenantAdmitted(r.Context(), id.TenantID); err != nil {
		a.domainError(w, r, err)
		return auth.Identity{}, nil, false
	}
	h, err := a.scopes.Scope(r.Context(), id.TenantID)
	if err != nil {
		a.domainError(w, r, err)
		return auth.Identity{}, nil, false
	}
	return id, h, true
}

// record enqueues an audit entry for a successful mutation. Fire-and-forget:
// the recorder never blocks or fails the request.
func (a *API) record(r *http.Request, id auth.Identity, action, resourceType, resourceID string, metadata map[string]string) {
	a.recorder.Record(audit.Record{
		TenantID:     id.TenantID,
		ActorID:      id.SubjectID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	})
}

func listOptions(r *http.Request) crm.ListOptions {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return crm.ListOptions{
		Status:  q.Get("status"),
		OwnerID: q.Get("owner_id"),
		Limit:   limit,
		Offset:  offset,
	}
}

// Contacts -----------------------------------------------------------------

type contactRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Company   string `json:"company"`
	OwnerID   string `json:"owner_id"`
}

func (a *API) handleContactList(w http.ResponseWriter, r *http.Request) {
	_, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	contacts, err := crm.NewContacts(h).List(r.Context(), listOptions(r))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	if contacts == nil {
		contacts = []crm.Contact{}
	}
	writeSuccess(w, http.StatusOK, "ok", contacts)
}

func (a *API) handleContactCreate(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	if req.FirstName == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "Validation failed", "first_name and email are required")
		return
	}

	id, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	c := crm.Contact{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Company:   req.Company,
		OwnerID:   req.OwnerID,
	}
	if err := crm.NewContacts(h).Create(r.Context(), &c); err != nil {
		a.domainError(w, r, err)
		return
	}
	c.TenantID = id.TenantID
	a.record(r, id, "contact.created", "contact", c.ID, map[string]string{"email": c.Email})
	writeSuccess(w, http.StatusCreated, "created", c)
}

func (a *API) handleContactGet(w http.ResponseWriter, r *http.Request) {
	_, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	c, err := crm.NewContacts(h).Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "ok", c)
}

func (a *API) handleContactUpdate(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	id, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	c := crm.Contact{
		ID:        r.PathValue("id"),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Company:   req.Company,
		OwnerID:   req.OwnerID,
	}
	if err := crm.NewContacts(h).Update(r.Context(), &c); err != nil {
		a.domainError(w, r, err)
		return
	}
	c.TenantID = id.TenantID
	a.record(r, id, "contact.updated", "contact", c.ID, nil)
	writeSuccess(w, http.StatusOK, "updated", c)
}

func (a *API) handleContactDelete(w http.ResponseWriter, r *http.Request) {
	id, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	contactID := r.PathValue("id")
	if err := crm.NewContacts(h).Delete(r.Context(), contactID); err != nil {
		a.domainError(w, r, err)
		return
	}
	a.record(r, id, "contact.deleted", "contact", contactID, nil)
	writeSuccess(w, http.StatusOK, "deleted", nil)
}

// Leads --------------------------------------------------------------------

type leadRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Source  string `json:"source"`
	Status  string `json:"status"`
	OwnerID string `json:"owner_id"`
}

func (a *API) handleLeadList(w http.ResponseWriter, r *http.Request) {
	_, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	leads, err := crm.NewLeads(h).List(r.Context(), listOptions(r))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	if leads == nil {
		leads = []crm.Lead{}
	}
	writeSuccess(w, http.StatusOK, "ok", leads)
}

func (a *API) handleLeadCreate(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Validation failed", "name is required")
		return
	}
	if req.Status != "" && !crm.ValidLeadStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "Validation failed", "unknown lead status")
		return
	}

	id, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	l := crm.Lead{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Source:  req.Source,
		Status:  req.Status,
		OwnerID: req.OwnerID,
	}
	if err := crm.NewLeads(h).Create(r.Context(), &l); err != nil {
		a.domainError(w, r, err)
		return
	}
	l.TenantID = id.TenantID
	a.record(r, id, "lead.created", "lead", l.ID, map[string]string{"status": l.Status})
	writeSuccess(w, http.StatusCreated, "created", l)
}

func (a *API) handleLeadGet(w http.ResponseWriter, r *http.Request) {
	_, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	l, err := crm.NewLeads(h).Get(r.Context(), r.PathValue("id"))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "ok", l)
}

func (a *API) handleLeadUpdate(w http.ResponseWriter, r *http.Request) {
	var req leadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	if !crm.ValidLeadStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "Validation failed", "unknown lead status")
		return
	}

	id, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	l := crm.Lead{
		ID:      r.PathValue("id"),
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Source:  req.Source,
		Status:  req.Status,
		OwnerID: req.OwnerID,
	}
	if err := crm.NewLeads(h).Update(r.Context(), &l); err != nil {
		a.domainError(w, r, err)
		return
	}
	l.TenantID = id.TenantID
	a.record(r, id, "lead.updated", "lead", l.ID, map[string]string{"status": l.Status})
	writeSuccess(w, http.StatusOK, "updated", l)
}

func (a *API) handleLeadDelete(w http.ResponseWriter, r *http.Request) {
	id, h, ok := a.scopeOrFail(w, r)
	if !ok {
		return
	}
	defer h.Close()

	leadID := r.PathValue("id")
	if err := crm.NewLeads(h).Delete(r.Context(), leadID); err != nil {
		a.domainError(w, r, err)
		return
	}
	a.record(r, id, "lead.deleted", "lead", leadID, nil)
	writeSuccess(w, http.StatusOK, "deleted", nil)
}
