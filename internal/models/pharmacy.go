package models

import (
	"encoding/json"
	"time"
)

// Нормализованные статусы. Переходы валидируются в сервисах, не в БД.
const (
	PrescriptionStatusPending  = "pending"
	PrescriptionStatusVerified = "verified"
	PrescriptionStatusRevoked  = "revoked"

	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"

	RefillStatusPending  = "pending"
	RefillStatusApproved = "approved"
	RefillStatusDeclined = "declined"
	RefillStatusFilled   = "filled"

	NotificationTypeReminder     = "reminder"
	NotificationTypeStatusUpdate = "status_update"
	NotificationTypeAutoRefill   = "auto_refill_result"

	ProviderStatusConnected    = "connected"
	ProviderStatusDisconnected = "disconnected"
	ProviderStatusError        = "error"

	MappingTypeAutomatic = "automatic"
	MappingTypeManual    = "manual"

	MappingStatusActive   = "active"
	MappingStatusInactive = "inactive"
	MappingStatusError    = "error"
)

type Prescription struct {
	ID                 int64
	UserID             int64
	DoctorName         *string
	DoctorPhone        *string
	VerificationStatus string
	Revoked            bool
	VerifiedBy         *int64
	Notes              *string
	UploadedAt         time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type PrescriptionCreateInput struct {
	UserID      int64
	DoctorName  *string
	DoctorPhone *string
	Notes       *string
}

// Medication — запись каталога. SupplyIntervalDays nil => 30 дней по умолчанию.
type Medication struct {
	ID                 int64
	Name               string
	NDCCode            *string
	CatalogPriceCents  int64
	SupplyIntervalDays *int32
	CreatedAt          time.Time
}

type Order struct {
	ID                int64
	UserID            int64
	Status            string
	PrescriptionID    *int64
	ShippingMethod    string
	ShippingCostCents int64
	TotalCents        int64
	TrackingNumber    *string
	Carrier           *string
	Version           int32
	Items             []*OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItem.UnitPriceCents — снимок цены на момент создания заказа.
// Последующие изменения цен исторические заказы не трогают.
type OrderItem struct {
	ID             int64
	OrderID        int64
	MedicationID   int64
	Quantity       int64
	UnitPriceCents int64
}

type OrderItemInput struct {
	MedicationID int64
	Quantity     int64
}

type OrderCreateInput struct {
	UserID            int64
	PrescriptionID    *int64
	ShippingMethod    string
	ShippingCostCents int64
	Items             []OrderItemInput
}

// ShipmentInput приходит от внешнего shipping-сервиса при отгрузке.
type ShipmentInput struct {
	TrackingNumber string
	Carrier        string
}

type RefillRequest struct {
	ID                int64
	UserID            int64
	PrescriptionID    *int64
	MedicationID      int64
	Status            string
	Quantity          int64
	RefillsAuthorized int32
	RefillsRemaining  int32
	AutoRefill        bool
	LastFilledAt      *time.Time
	NextRefillAt      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type RefillRequestCreateInput struct {
	UserID            int64
	PrescriptionID    *int64
	MedicationID      int64
	Quantity          int64
	RefillsAuthorized int32
	AutoRefill        bool
	NextRefillAt      time.Time
}

type RefillNotification struct {
	ID              int64
	UserID          int64
	RefillRequestID *int64
	Type            string
	Message         string
	DedupeKey       string
	Read            bool
	SentAt          time.Time
}

type InventoryProvider struct {
	ID                   int64
	Name                 string
	BaseURL              string
	APIKey               string
	IsActive             bool
	ConnectionStatus     string
	SyncFrequencySeconds int32
	SyncSeq              int64
	SyncFailCount        int32
	LastError            *string
	LastSyncAt           *time.Time
	NextSyncAt           time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// InventoryItem принадлежит ровно одному провайдеру и перезаписывается
// только его sync-джобой (см. IngestSnapshot).
type InventoryItem struct {
	ID               int64
	ProviderID       int64
	ExternalID       string
	NDCCode          *string
	Name             string
	Quantity         int64
	Unit             string
	PriceCents       int64
	WholesaleCents   int64
	RetailCents      int64
	InStock          bool
	ReorderThreshold int64
	RawPayload       json.RawMessage
	SyncSeq          int64
	LastUpdatedAt    time.Time
}

// InventoryItemInput — нормализованная проекция сырого фида провайдера.
// Сырой blob сохраняем в RawPayload, но наружу его форма не утекает.
type InventoryItemInput struct {
	ExternalID       string
	NDCCode          *string
	Name             string
	Quantity         int64
	Unit             string
	PriceCents       int64
	WholesaleCents   int64
	RetailCents      int64
	InStock          bool
	ReorderThreshold int64
	RawPayload       json.RawMessage
}

type InventoryMapping struct {
	ID                int64
	MedicationID      int64
	InventoryItemID   int64
	IsPrimary         bool
	MappingType       string
	MappingStatus     string
	MappingConfidence *float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MappingWithItem — маппинг вместе с позицией провайдера (для resolve).
type MappingWithItem struct {
	Mapping InventoryMapping
	Item    InventoryItem
}
