package pharmapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/PharmBox/internal/models"
	"github.com/BearBump/PharmBox/internal/services/inventory"
	"github.com/BearBump/PharmBox/internal/services/notifications"
	"github.com/BearBump/PharmBox/internal/services/orders"
	"github.com/BearBump/PharmBox/internal/services/prescriptions"
	"github.com/BearBump/PharmBox/internal/services/refills"
	"github.com/BearBump/PharmBox/internal/storage/pgpharm"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// Catalog — записи справочника медикаментов (нужен только API).
type Catalog interface {
	CreateMedication(ctx context.Context, in pgpharm.MedicationInsert) (*models.Medication, error)
	GetMedication(ctx context.Context, id int64) (*models.Medication, error)
}

type API struct {
	prescriptions *prescriptions.Service
	orders        *orders.Service
	inventory     *inventory.Service
	refills       *refills.Service
	notifications *notifications.Service
	catalog       Catalog
}

func New(
	rx *prescriptions.Service,
	ord *orders.Service,
	inv *inventory.Service,
	ref *refills.Service,
	ntf *notifications.Service,
	cat Catalog,
) *API {
	return &API{
		prescriptions: rx,
		orders:        ord,
		inventory:     inv,
		refills:       ref,
		notifications: ntf,
		catalog:       cat,
	}
}

func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/prescriptions", func(r chi.Router) {
		r.Post("/", a.uploadPrescription)
		r.Get("/{id}", a.getPrescription)
		r.Post("/{id}/verify", a.verifyPrescription)
		r.Post("/{id}/revoke", a.revokePrescription)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", a.createOrder)
		r.Get("/{id}", a.getOrder)
		r.Post("/{id}/approve", a.approveOrder)
		r.Post("/{id}/cancel", a.cancelOrder)
		r.Post("/{id}/delivered", a.orderDelivered)
		r.Get("/status/{status}", a.listOrdersByStatus)
	})

	r.Route("/inventory", func(r chi.Router) {
		r.Post("/providers", a.createProvider)
		r.Get("/providers/{id}", a.getProvider)
		r.Post("/providers/{id}/sync", a.triggerProviderSync)
		r.Post("/mappings", a.createMapping)
		r.Put("/mappings/{id}", a.updateMapping)
		r.Get("/medications/{id}/primary", a.resolvePrimary)
	})

	r.Route("/medications", func(r chi.Router) {
		r.Post("/", a.createMedication)
		r.Get("/{id}", a.getMedication)
	})

	r.Route("/refill-requests", func(r chi.Router) {
		r.Post("/", a.createRefillRequest)
		r.Get("/{id}", a.getRefillRequest)
		r.Post("/{id}/approve", a.approveRefillRequest)
		r.Post("/{id}/decline", a.declineRefillRequest)
		r.Post("/{id}/toggle-auto-refill", a.toggleAutoRefill)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/user/{id}", a.listNotifications)
		r.Post("/{id}/read", a.markNotificationRead)
	})

	return r
}

// --- prescriptions ---

type uploadPrescriptionReq struct {
	UserID      int64   `json:"userId"`
	DoctorName  *string `json:"doctorName,omitempty"`
	DoctorPhone *string `json:"doctorPhone,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

func (a *API) uploadPrescription(w http.ResponseWriter, r *http.Request) {
	var req uploadPrescriptionReq
	if !decode(w, r, &req) {
		return
	}
	p, err := a.prescriptions.Upload(r.Context(), models.PrescriptionCreateInput{
		UserID:      req.UserID,
		DoctorName:  req.DoctorName,
		DoctorPhone: req.DoctorPhone,
		Notes:       req.Notes,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPrescriptionView(p))
}

func (a *API) getPrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := a.prescriptions.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrescriptionView(p))
}

func (a *API) verifyPrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		ReviewerID int64 `json:"reviewerId"`
	}
	if !decode(w, r, &req) {
		return
	}
	p, err := a.prescriptions.Verify(r.Context(), id, req.ReviewerID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrescriptionView(p))
}

func (a *API) revokePrescription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := a.prescriptions.Revoke(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrescriptionView(p))
}

// --- orders ---

type createOrderReq struct {
	UserID            int64   `json:"userId"`
	PrescriptionID    *int64  `json:"prescriptionId,omitempty"`
	ShippingMethod    string  `json:"shippingMethod"`
	ShippingCostCents int64   `json:"shippingCostCents"`
	Items             []struct {
		MedicationID int64 `json:"medicationId"`
		Quantity     int64 `json:"quantity"`
	} `json:"items"`
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if !decode(w, r, &req) {
		return
	}
	in := models.OrderCreateInput{
		UserID:            req.UserID,
		PrescriptionID:    req.PrescriptionID,
		ShippingMethod:    req.ShippingMethod,
		ShippingCostCents: req.ShippingCostCents,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, models.OrderItemInput{MedicationID: it.MedicationID, Quantity: it.Quantity})
	}
	o, err := a.orders.Create(r.Context(), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderView(o))
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := a.orders.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (a *API) approveOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		TrackingNumber string `json:"trackingNumber"`
		Carrier        string `json:"carrier"`
	}
	if !decode(w, r, &req) {
		return
	}
	o, err := a.orders.Approve(r.Context(), id, models.ShipmentInput{
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := a.orders.Cancel(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (a *API) orderDelivered(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := a.orders.MarkDelivered(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(o))
}

func (a *API) listOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	status := chi.URLParam(r, "status")
	limit, offset := pagination(r)
	list, err := a.orders.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]orderView, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

// --- inventory ---

type createProviderReq struct {
	Name                 string `json:"name"`
	BaseURL              string `json:"baseUrl"`
	APIKey               string `json:"apiKey"`
	SyncFrequencySeconds int32  `json:"syncFrequencySeconds"`
}

func (a *API) createProvider(w http.ResponseWriter, r *http.Request) {
	var req createProviderReq
	if !decode(w, r, &req) {
		return
	}
	p, err := a.inventory.CreateProvider(r.Context(), pgpharm.ProviderInsert{
		Name:                 req.Name,
		BaseURL:              req.BaseURL,
		APIKey:               req.APIKey,
		SyncFrequencySeconds: req.SyncFrequencySeconds,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProviderView(p))
}

func (a *API) getProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := a.inventory.GetProvider(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProviderView(p))
}

func (a *API) triggerProviderSync(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.inventory.TriggerSync(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

type createMappingReq struct {
	MedicationID    int64    `json:"medicationId"`
	InventoryItemID int64    `json:"inventoryItemId"`
	MappingType     string   `json:"mappingType"`
	Confidence      *float64 `json:"confidence,omitempty"`
}

func (a *API) createMapping(w http.ResponseWriter, r *http.Request) {
	var req createMappingReq
	if !decode(w, r, &req) {
		return
	}
	var (
		m   *models.InventoryMapping
		err error
	)
	switch req.MappingType {
	case models.MappingTypeManual:
		m, err = a.inventory.CreateManualMapping(r.Context(), req.MedicationID, req.InventoryItemID)
	case models.MappingTypeAutomatic:
		if req.Confidence == nil {
			writeErr(w, errors.Wrap(models.ErrValidation, "confidence is required for automatic mappings"))
			return
		}
		m, err = a.inventory.CreateAutomaticMapping(r.Context(), req.MedicationID, req.InventoryItemID, *req.Confidence)
	default:
		writeErr(w, errors.Wrapf(models.ErrValidation, "unknown mappingType %q", req.MappingType))
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMappingView(m))
}

type updateMappingReq struct {
	IsPrimary     *bool   `json:"isPrimary,omitempty"`
	MappingStatus *string `json:"mappingStatus,omitempty"`
}

func (a *API) updateMapping(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateMappingReq
	if !decode(w, r, &req) {
		return
	}
	var (
		m   *models.InventoryMapping
		err error
	)
	switch {
	case req.IsPrimary != nil && *req.IsPrimary:
		m, err = a.inventory.Promote(r.Context(), id)
	case req.MappingStatus != nil && *req.MappingStatus == models.MappingStatusInactive:
		m, err = a.inventory.Deactivate(r.Context(), id)
	default:
		writeErr(w, errors.Wrap(models.ErrValidation, "expected isPrimary=true or mappingStatus=inactive"))
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMappingView(m))
}

func (a *API) resolvePrimary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	mw, err := a.inventory.ResolvePrimary(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mapping": toMappingView(&mw.Mapping),
		"item": map[string]any{
			"id":          mw.Item.ID,
			"providerId":  mw.Item.ProviderID,
			"externalId":  mw.Item.ExternalID,
			"name":        mw.Item.Name,
			"quantity":    mw.Item.Quantity,
			"inStock":     mw.Item.InStock,
			"retailCents": mw.Item.RetailCents,
		},
	})
}

// --- medications ---

type createMedicationReq struct {
	Name               string  `json:"name"`
	NDCCode            *string `json:"ndcCode,omitempty"`
	CatalogPriceCents  int64   `json:"catalogPriceCents"`
	SupplyIntervalDays *int32  `json:"supplyIntervalDays,omitempty"`
}

func (a *API) createMedication(w http.ResponseWriter, r *http.Request) {
	var req createMedicationReq
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeErr(w, errors.Wrap(models.ErrValidation, "name is required"))
		return
	}
	m, err := a.catalog.CreateMedication(r.Context(), pgpharm.MedicationInsert{
		Name:               req.Name,
		NDCCode:            req.NDCCode,
		CatalogPriceCents:  req.CatalogPriceCents,
		SupplyIntervalDays: req.SupplyIntervalDays,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMedicationView(m))
}

func (a *API) getMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := a.catalog.GetMedication(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicationView(m))
}

// --- refill requests ---

type createRefillReq struct {
	UserID            int64      `json:"userId"`
	PrescriptionID    *int64     `json:"prescriptionId,omitempty"`
	MedicationID      int64      `json:"medicationId"`
	Quantity          int64      `json:"quantity"`
	RefillsAuthorized int32      `json:"refillsAuthorized"`
	AutoRefill        bool       `json:"autoRefill"`
	NextRefillAt      *time.Time `json:"nextRefillAt,omitempty"`
}

func (a *API) createRefillRequest(w http.ResponseWriter, r *http.Request) {
	var req createRefillReq
	if !decode(w, r, &req) {
		return
	}
	in := models.RefillRequestCreateInput{
		UserID:            req.UserID,
		PrescriptionID:    req.PrescriptionID,
		MedicationID:      req.MedicationID,
		Quantity:          req.Quantity,
		RefillsAuthorized: req.RefillsAuthorized,
		AutoRefill:        req.AutoRefill,
	}
	if req.NextRefillAt != nil {
		in.NextRefillAt = *req.NextRefillAt
	}
	rr, err := a.refills.Create(r.Context(), in)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRefillView(rr))
}

func (a *API) getRefillRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rr, err := a.refills.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRefillView(rr))
}

func (a *API) approveRefillRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rr, err := a.refills.Approve(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRefillView(rr))
}

func (a *API) declineRefillRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rr, err := a.refills.Decline(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRefillView(rr))
}

func (a *API) toggleAutoRefill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decode(w, r, &req) {
		return
	}
	rr, err := a.refills.ToggleAutoRefill(r.Context(), id, req.Enabled)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRefillView(rr))
}

// --- notifications ---

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit, offset := pagination(r)
	list, err := a.notifications.ListByUser(r.Context(), id, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]notificationView, 0, len(list))
	for _, n := range list {
		out = append(out, toNotificationView(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": out})
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.notifications.MarkRead(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"read": true})
}

// --- helpers ---

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErr(w, errors.Wrap(models.ErrValidation, "malformed json body"))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeErr(w, errors.Wrapf(models.ErrValidation, "bad %s", name))
		return 0, false
	}
	return id, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrNoMappingAvailable):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrPrescriptionNotVerified),
		errors.Is(err, models.ErrInsufficientInventory),
		errors.Is(err, models.ErrConcurrencyConflict):
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
