package pharmapi

import (
	"time"

	"github.com/BearBump/PharmBox/internal/models"
)

type prescriptionView struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"userId"`
	DoctorName         *string   `json:"doctorName,omitempty"`
	DoctorPhone        *string   `json:"doctorPhone,omitempty"`
	VerificationStatus string    `json:"verificationStatus"`
	Revoked            bool      `json:"revoked"`
	VerifiedBy         *int64    `json:"verifiedBy,omitempty"`
	Notes              *string   `json:"notes,omitempty"`
	UploadedAt         time.Time `json:"uploadedAt"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func toPrescriptionView(p *models.Prescription) prescriptionView {
	return prescriptionView{
		ID:                 p.ID,
		UserID:             p.UserID,
		DoctorName:         p.DoctorName,
		DoctorPhone:        p.DoctorPhone,
		VerificationStatus: p.VerificationStatus,
		Revoked:            p.Revoked,
		VerifiedBy:         p.VerifiedBy,
		Notes:              p.Notes,
		UploadedAt:         p.UploadedAt,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

type orderItemView struct {
	ID             int64 `json:"id"`
	MedicationID   int64 `json:"medicationId"`
	Quantity       int64 `json:"quantity"`
	UnitPriceCents int64 `json:"unitPriceCents"`
}

type orderView struct {
	ID                int64           `json:"id"`
	UserID            int64           `json:"userId"`
	Status            string          `json:"status"`
	PrescriptionID    *int64          `json:"prescriptionId,omitempty"`
	ShippingMethod    string          `json:"shippingMethod"`
	ShippingCostCents int64           `json:"shippingCostCents"`
	TotalCents        int64           `json:"totalCents"`
	TrackingNumber    *string         `json:"trackingNumber,omitempty"`
	Carrier           *string         `json:"carrier,omitempty"`
	Version           int32           `json:"version"`
	Items             []orderItemView `json:"items"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func toOrderView(o *models.Order) orderView {
	v := orderView{
		ID:                o.ID,
		UserID:            o.UserID,
		Status:            o.Status,
		PrescriptionID:    o.PrescriptionID,
		ShippingMethod:    o.ShippingMethod,
		ShippingCostCents: o.ShippingCostCents,
		TotalCents:        o.TotalCents,
		TrackingNumber:    o.TrackingNumber,
		Carrier:           o.Carrier,
		Version:           o.Version,
		Items:             make([]orderItemView, 0, len(o.Items)),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, orderItemView{
			ID:             it.ID,
			MedicationID:   it.MedicationID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	return v
}

type providerView struct {
	ID                   int64      `json:"id"`
	Name                 string     `json:"name"`
	BaseURL              string     `json:"baseUrl"`
	IsActive             bool       `json:"isActive"`
	ConnectionStatus     string     `json:"connectionStatus"`
	SyncFrequencySeconds int32      `json:"syncFrequencySeconds"`
	SyncFailCount        int32      `json:"syncFailCount"`
	LastError            *string    `json:"lastError,omitempty"`
	LastSyncAt           *time.Time `json:"lastSyncAt,omitempty"`
	NextSyncAt           time.Time  `json:"nextSyncAt"`
}

func toProviderView(p *models.InventoryProvider) providerView {
	// api_key наружу не отдаём
	return providerView{
		ID:                   p.ID,
		Name:                 p.Name,
		BaseURL:              p.BaseURL,
		IsActive:             p.IsActive,
		ConnectionStatus:     p.ConnectionStatus,
		SyncFrequencySeconds: p.SyncFrequencySeconds,
		SyncFailCount:        p.SyncFailCount,
		LastError:            p.LastError,
		LastSyncAt:           p.LastSyncAt,
		NextSyncAt:           p.NextSyncAt,
	}
}

type mappingView struct {
	ID                int64    `json:"id"`
	MedicationID      int64    `json:"medicationId"`
	InventoryItemID   int64    `json:"inventoryItemId"`
	IsPrimary         bool     `json:"isPrimary"`
	MappingType       string   `json:"mappingType"`
	MappingStatus     string   `json:"mappingStatus"`
	MappingConfidence *float64 `json:"mappingConfidence,omitempty"`
}

func toMappingView(m *models.InventoryMapping) mappingView {
	return mappingView{
		ID:                m.ID,
		MedicationID:      m.MedicationID,
		InventoryItemID:   m.InventoryItemID,
		IsPrimary:         m.IsPrimary,
		MappingType:       m.MappingType,
		MappingStatus:     m.MappingStatus,
		MappingConfidence: m.MappingConfidence,
	}
}

type medicationView struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	NDCCode            *string   `json:"ndcCode,omitempty"`
	CatalogPriceCents  int64     `json:"catalogPriceCents"`
	SupplyIntervalDays *int32    `json:"supplyIntervalDays,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

func toMedicationView(m *models.Medication) medicationView {
	return medicationView{
		ID:                 m.ID,
		Name:               m.Name,
		NDCCode:            m.NDCCode,
		CatalogPriceCents:  m.CatalogPriceCents,
		SupplyIntervalDays: m.SupplyIntervalDays,
		CreatedAt:          m.CreatedAt,
	}
}

type refillView struct {
	ID                int64      `json:"id"`
	UserID            int64      `json:"userId"`
	PrescriptionID    *int64     `json:"prescriptionId,omitempty"`
	MedicationID      int64      `json:"medicationId"`
	Status            string     `json:"status"`
	Quantity          int64      `json:"quantity"`
	RefillsAuthorized int32      `json:"refillsAuthorized"`
	RefillsRemaining  int32      `json:"refillsRemaining"`
	AutoRefill        bool       `json:"autoRefill"`
	LastFilledAt      *time.Time `json:"lastFilledAt,omitempty"`
	NextRefillAt      time.Time  `json:"nextRefillAt"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func toRefillView(r *models.RefillRequest) refillView {
	return refillView{
		ID:                r.ID,
		UserID:            r.UserID,
		PrescriptionID:    r.PrescriptionID,
		MedicationID:      r.MedicationID,
		Status:            r.Status,
		Quantity:          r.Quantity,
		RefillsAuthorized: r.RefillsAuthorized,
		RefillsRemaining:  r.RefillsRemaining,
		AutoRefill:        r.AutoRefill,
		LastFilledAt:      r.LastFilledAt,
		NextRefillAt:      r.NextRefillAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type notificationView struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"userId"`
	RefillRequestID *int64    `json:"refillRequestId,omitempty"`
	Type            string    `json:"type"`
	Message         string    `json:"message"`
	Read            bool      `json:"read"`
	SentAt          time.Time `json:"sentAt"`
}

func toNotificationView(n *models.RefillNotification) notificationView {
	return notificationView{
		ID:              n.ID,
		UserID:          n.UserID,
		RefillRequestID: n.RefillRequestID,
		Type:            n.Type,
		Message:         n.Message,
		Read:            n.Read,
		SentAt:          n.SentAt,
	}
}
