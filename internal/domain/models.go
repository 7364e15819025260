package domain

import "time"

// Roles ordered by capability: cashier < manager < admin.
// Admin is the head-office tier and is never branch-scoped.
const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

const (
	TableAvailable = "available"
	TableOccupied  = "occupied"
	TableReserved  = "reserved"
)

const (
	SaleStatusOpen      = "open"
	SaleStatusParked    = "parked"
	SaleStatusCompleted = "completed"
)

const (
	OrderTypeDineIn   = "dine_in"
	OrderTypeTakeOut  = "take_out"
	OrderTypeDelivery = "delivery"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentQRIS     = "qris"
	PaymentTransfer = "transfer"
)

type Branch struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BranchUser is the authentication record for a branch employee. The same
// record (same ID) lives in the head-office credential store and in the
// branch mirror store; the credential store copy is always authoritative.
type BranchUser struct {
	ID                string     `json:"id"`
	BranchID          string     `json:"branch_id"`
	Username          string     `json:"username"`
	PasswordHash      string     `json:"-"`
	Email             string     `json:"email,omitempty"`
	FullNameEN        string     `json:"full_name_en,omitempty"`
	FullNameAR        string     `json:"full_name_ar,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	PreferredLanguage string     `json:"preferred_language,omitempty"`
	Role              string     `json:"role"`
	Active            bool       `json:"active"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	LastActivityAt    *time.Time `json:"last_activity_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	SyncedAt          *time.Time `json:"synced_at,omitempty"`
}

type BranchCreateRequest struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Address       string `json:"address"`
	AdminPassword string `json:"admin_password,omitempty"`
}

type BranchProvisionResponse struct {
	Branch Branch     `json:"branch"`
	Admin  BranchUser `json:"admin"`
}

type BranchUserCreateRequest struct {
	BranchID          string `json:"branch_id"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	Email             string `json:"email"`
	FullNameEN        string `json:"full_name_en"`
	FullNameAR        string `json:"full_name_ar"`
	Phone             string `json:"phone"`
	PreferredLanguage string `json:"preferred_language"`
	Role              string `json:"role"`
}

type BranchUserUpdateRequest struct {
	Username          *string `json:"username,omitempty"`
	Password          *string `json:"password,omitempty"`
	Email             *string `json:"email,omitempty"`
	FullNameEN        *string `json:"full_name_en,omitempty"`
	FullNameAR        *string `json:"full_name_ar,omitempty"`
	Phone             *string `json:"phone,omitempty"`
	PreferredLanguage *string `json:"preferred_language,omitempty"`
	Role              *string `json:"role,omitempty"`
	Active            *bool   `json:"active,omitempty"`
}

type LoginRequest struct {
	BranchCode string `json:"branch_code"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

type LoginResponse struct {
	AccessToken string     `json:"access_token"`
	ExpiresAt   string     `json:"expires_at"`
	User        BranchUser `json:"user"`
}

type Actor struct {
	UserID   string
	Username string
	BranchID string
	Role     string
}

type Table struct {
	ID        string    `json:"id"`
	BranchID  string    `json:"branch_id"`
	Number    int       `json:"number"`
	Name      string    `json:"name,omitempty"`
	Capacity  int       `json:"capacity"`
	ZoneID    string    `json:"zone_id,omitempty"`
	Status    string    `json:"status"`
	PosX      int       `json:"pos_x"`
	PosY      int       `json:"pos_y"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TableCreateRequest struct {
	Number   int    `json:"number"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	ZoneID   string `json:"zone_id"`
	PosX     int    `json:"pos_x"`
	PosY     int    `json:"pos_y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type SaleLine struct {
	SKU            string `json:"sku,omitempty"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Sale is the order ledger record. TableID is a weak back-reference: a table
// never owns a sale, and the sale stays attached (visible on the floor) until
// ClearedAt is set, even after it has been completed.
type Sale struct {
	ID              string     `json:"id"`
	InvoiceNumber   string     `json:"invoice_number"`
	BranchID        string     `json:"branch_id"`
	TableID         string     `json:"table_id,omitempty"`
	TableNumber     int        `json:"table_number,omitempty"`
	GuestCount      int        `json:"guest_count,omitempty"`
	OrderType       string     `json:"order_type"`
	Items           []SaleLine `json:"items"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	TaxRatePercent  float64    `json:"tax_rate_percent"`
	TaxCents        int64      `json:"tax_cents"`
	DiscountCents   int64      `json:"discount_cents"`
	TotalCents      int64      `json:"total_cents"`
	AmountPaidCents int64      `json:"amount_paid_cents"`
	ChangeCents     int64      `json:"change_cents"`
	PaymentMethod   string     `json:"payment_method,omitempty"`
	Status          string     `json:"status"`
	ClearedAt       *time.Time `json:"cleared_at,omitempty"`
	CreatedBy       string     `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// IsPaid is the single paid predicate: a sale completed without payment
// (amount paid 0) is valid but unpaid, and a zero-total sale is never paid.
func (s Sale) IsPaid() bool {
	return s.TotalCents > 0 && s.AmountPaidCents >= s.TotalCents
}

type SaleCreateRequest struct {
	OrderType      string     `json:"order_type"`
	TableNumber    int        `json:"table_number,omitempty"`
	GuestCount     int        `json:"guest_count,omitempty"`
	Items          []SaleLine `json:"items"`
	DiscountCents  int64      `json:"discount_cents"`
	TaxRatePercent float64    `json:"tax_rate_percent"`
}

type PaymentRequest struct {
	AmountCents   int64  `json:"amount_cents"`
	Method        string `json:"method"`
	DiscountCents *int64 `json:"discount_cents,omitempty"`
}

type TransferRequest struct {
	SaleID          string `json:"sale_id"`
	FromTableNumber int    `json:"from_table_number"`
	ToTableNumber   int    `json:"to_table_number"`
}

type ClearAllRequest struct {
	PaymentMethod string `json:"payment_method"`
}

const (
	ClearResultCleared = "cleared"
	ClearResultSkipped = "skipped"
	ClearResultFailed  = "failed"
)

type ClearAllResult struct {
	TableNumber int    `json:"table_number"`
	SaleID      string `json:"sale_id,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

type ClearAllResponse struct {
	Results []ClearAllResult `json:"results"`
}

// TableSaleSummary is the projection of the attached sale shown on the floor map.
type TableSaleSummary struct {
	SaleID          string    `json:"sale_id"`
	InvoiceNumber   string    `json:"invoice_number"`
	Status          string    `json:"status"`
	IsPaid          bool      `json:"is_paid"`
	GuestCount      int       `json:"guest_count"`
	OrderTime       time.Time `json:"order_time"`
	TotalCents      int64     `json:"total_cents"`
	AmountPaidCents int64     `json:"amount_paid_cents"`
}

type TableStatusView struct {
	Table Table             `json:"table"`
	Sale  *TableSaleSummary `json:"sale,omitempty"`
}

type TableStatusResponse struct {
	GeneratedAt string            `json:"generated_at"`
	Tables      []TableStatusView `json:"tables"`
}

type ReconcileSummary struct {
	BranchID string    `json:"branch_id,omitempty"`
	Checked  int       `json:"checked"`
	Repaired int       `json:"repaired"`
	Orphans  []string  `json:"orphans,omitempty"`
	RanAt    time.Time `json:"ran_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
