package store

import (
	"context"
	"errors"
	"time"

	"cabangpos/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrDuplicateUsername   = errors.New("username already exists in branch")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrTableNotAvailable   = errors.New("table not available")
	ErrTargetOccupied      = errors.New("target table occupied")
	ErrSameTable           = errors.New("source and target table are the same")
	ErrCannotClearUnpaid   = errors.New("cannot clear table with unpaid sale")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrUnavailable         = errors.New("store unavailable")
)

// CredentialStore is the authoritative (head-office) store for branches and
// branch user credentials. Login never consults anything else.
//
// Implementations must enforce (branch_id, lower(username)) uniqueness at the
// storage layer so concurrent creates fail deterministically with
// ErrDuplicateUsername instead of racing.
type CredentialStore interface {
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	GetBranchByCode(ctx context.Context, code string) (*domain.Branch, error)
	GetBranchByID(ctx context.Context, id string) (*domain.Branch, error)
	ListBranches(ctx context.Context) ([]domain.Branch, error)

	CreateUser(ctx context.Context, user domain.BranchUser) (*domain.BranchUser, error)
	GetUserByID(ctx context.Context, id string) (*domain.BranchUser, error)
	// FindUserByLogin matches username case-insensitively within the branch.
	FindUserByLogin(ctx context.Context, branchID string, username string) (*domain.BranchUser, error)
	ListUsers(ctx context.Context, branchID string) ([]domain.BranchUser, error)
	UpdateUser(ctx context.Context, user domain.BranchUser) (*domain.BranchUser, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// MirrorStore is the branch-local, non-authoritative copy of user records.
// It is written after the credential store and repaired by reconciliation;
// it is never a fallback read path for authentication.
type MirrorStore interface {
	UpsertUser(ctx context.Context, user domain.BranchUser) error
	GetUserByID(ctx context.Context, id string) (*domain.BranchUser, error)
	ListUsers(ctx context.Context, branchID string) ([]domain.BranchUser, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// Repository owns tables, sales and audit logs. The multi-entity operations
// (StartOrder, ClearTable, TransferOrder) are transactional: table status and
// sale state change together or not at all.
type Repository interface {
	CreateTable(ctx context.Context, table domain.Table) (*domain.Table, error)
	UpdateTable(ctx context.Context, table domain.Table) (*domain.Table, error)
	GetTableByID(ctx context.Context, id string) (*domain.Table, error)
	GetTableByNumber(ctx context.Context, branchID string, number int) (*domain.Table, error)
	ListTables(ctx context.Context, branchID string) ([]domain.Table, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, branchID string, limit int) ([]domain.Sale, error)
	// GetAttachedSale returns the latest uncleared sale referencing the table,
	// regardless of whether it has been completed yet.
	GetAttachedSale(ctx context.Context, tableID string) (*domain.Sale, error)
	// ListAttachedSales returns the attached sale per table id for a branch.
	ListAttachedSales(ctx context.Context, branchID string) (map[string]domain.Sale, error)

	// StartOrder inserts the open sale and flips its table from available to
	// occupied in one transaction. Fails with ErrTableNotAvailable if the
	// table is not available at commit time.
	StartOrder(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// SettleSale persists payment/completion fields for an existing sale.
	SettleSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// ClearTable detaches the sale (sets cleared_at) and flips the table back
	// to available in one transaction.
	ClearTable(ctx context.Context, tableID string, saleID string, at time.Time) error
	// TransferOrder re-points the sale to another table and swaps both table
	// statuses in one transaction. Fails with ErrTargetOccupied if the target
	// is not available.
	TransferOrder(ctx context.Context, saleID string, fromTableID string, toTableID string) (*domain.Sale, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error)
}
