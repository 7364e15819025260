package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
)

// Store is a mutex-guarded in-memory implementation of every store interface
// (CredentialStore, MirrorStore and Repository). Tests and no-DB dev mode
// instantiate it multiple times: one instance plays the head-office credential
// store, a second plays the branch mirror.
type Store struct {
	mu            sync.RWMutex
	branchesByID  map[string]domain.Branch
	branchByCode  map[string]string
	usersByID     map[string]domain.BranchUser
	userByLogin   map[string]string
	tablesByID    map[string]domain.Table
	tableByNumber map[string]string
	salesByID     map[string]domain.Sale
	auditLogs     []domain.AuditLog
}

func New() *Store {
	return &Store{
		branchesByID:  make(map[string]domain.Branch),
		branchByCode:  make(map[string]string),
		usersByID:     make(map[string]domain.BranchUser),
		userByLogin:   make(map[string]string),
		tablesByID:    make(map[string]domain.Table),
		tableByNumber: make(map[string]string),
		salesByID:     make(map[string]domain.Sale),
		auditLogs:     make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded builds a store with one branch, a default admin user and a small
// dining floor for dev/demo mode. The admin password comes from
// SEED_ADMIN_PASSWORD; a hardcoded dev default is used with a warning when
// unset. Production deployments use PostgreSQL and branch provisioning instead.
func NewSeeded(branchCode string) *Store {
	if branchCode == "" {
		branchCode = "MAIN"
	}
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
		log.Println("[memory-store] WARNING: using default dev admin credentials. Set SEED_ADMIN_PASSWORD to override.")
	}

	s := New()
	now := time.Now().UTC()

	branch := domain.Branch{
		ID:        uuid.NewString(),
		Code:      branchCode,
		Name:      "Cabang Utama",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.branchesByID[branch.ID] = branch
	s.branchByCode[strings.ToUpper(branch.Code)] = branch.ID

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	admin := domain.BranchUser{
		ID:           uuid.NewString(),
		BranchID:     branch.ID,
		Username:     "admin",
		PasswordHash: string(hash),
		FullNameEN:   "Branch Admin",
		Role:         domain.RoleManager,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.usersByID[admin.ID] = admin
	s.userByLogin[loginKey(branch.ID, admin.Username)] = admin.ID

	for number := 1; number <= 8; number++ {
		table := domain.Table{
			ID:        uuid.NewString(),
			BranchID:  branch.ID,
			Number:    number,
			Capacity:  4,
			ZoneID:    "main-hall",
			Status:    domain.TableAvailable,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.tablesByID[table.ID] = table
		s.tableByNumber[tableKey(branch.ID, number)] = table.ID
	}

	return s
}

func loginKey(branchID string, username string) string {
	return branchID + "/" + strings.ToLower(strings.TrimSpace(username))
}

func tableKey(branchID string, number int) string {
	return branchID + "/" + strconv.Itoa(number)
}

// --- CredentialStore ---

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	if branch.Code == "" || branch.Name == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code := strings.ToUpper(strings.TrimSpace(branch.Code))
	if _, exists := s.branchByCode[code]; exists {
		return nil, store.ErrInvalidRequest
	}
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	branch.Code = code
	s.branchesByID[branch.ID] = branch
	s.branchByCode[code] = branch.ID

	created := branch
	return &created, nil
}

func (s *Store) GetBranchByCode(_ context.Context, code string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.branchByCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, store.ErrNotFound
	}
	branch := s.branchesByID[id]
	return &branch, nil
}

func (s *Store) GetBranchByID(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branchesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &branch, nil
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Branch, 0, len(s.branchesByID))
	for _, branch := range s.branchesByID {
		out = append(out, branch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.BranchUser) (*domain.BranchUser, error) {
	if user.BranchID == "" || user.Username == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := loginKey(user.BranchID, user.Username)
	if _, exists := s.userByLogin[key]; exists {
		return nil, store.ErrDuplicateUsername
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	s.usersByID[user.ID] = user
	s.userByLogin[key] = user.ID

	created := user
	return &created, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.BranchUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) FindUserByLogin(_ context.Context, branchID string, username string) (*domain.BranchUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userByLogin[loginKey(branchID, username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context, branchID string) ([]domain.BranchUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BranchUser, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		if branchID != "" && user.BranchID != branchID {
			continue
		}
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.BranchUser) (*domain.BranchUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.usersByID[user.ID]
	if !ok {
		return nil, store.ErrNotFound
	}

	oldKey := loginKey(existing.BranchID, existing.Username)
	newKey := loginKey(user.BranchID, user.Username)
	if newKey != oldKey {
		if _, taken := s.userByLogin[newKey]; taken {
			return nil, store.ErrDuplicateUsername
		}
		delete(s.userByLogin, oldKey)
		s.userByLogin[newKey] = user.ID
	}
	s.usersByID[user.ID] = user

	saved := user
	return &saved, nil
}

func (s *Store) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[id]
	if !ok {
		return store.ErrNotFound
	}
	user.LastLoginAt = &at
	user.LastActivityAt = &at
	s.usersByID[id] = user
	return nil
}

// --- MirrorStore ---

func (s *Store) UpsertUser(_ context.Context, user domain.BranchUser) error {
	if user.ID == "" || user.BranchID == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.usersByID[user.ID]; ok {
		delete(s.userByLogin, loginKey(existing.BranchID, existing.Username))
	}
	s.usersByID[user.ID] = user
	s.userByLogin[loginKey(user.BranchID, user.Username)] = user.ID
	return nil
}

// --- Repository ---

func (s *Store) CreateTable(_ context.Context, table domain.Table) (*domain.Table, error) {
	if table.BranchID == "" || table.Number < 1 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tableKey(table.BranchID, table.Number)
	if _, exists := s.tableByNumber[key]; exists {
		return nil, store.ErrInvalidRequest
	}
	if table.ID == "" {
		table.ID = uuid.NewString()
	}
	if table.Status == "" {
		table.Status = domain.TableAvailable
	}
	s.tablesByID[table.ID] = table
	s.tableByNumber[key] = table.ID

	created := table
	return &created, nil
}

func (s *Store) UpdateTable(_ context.Context, table domain.Table) (*domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tablesByID[table.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.tablesByID[table.ID] = table

	saved := table
	return &saved, nil
}

func (s *Store) GetTableByID(_ context.Context, id string) (*domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.tablesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &table, nil
}

func (s *Store) GetTableByNumber(_ context.Context, branchID string, number int) (*domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tableByNumber[tableKey(branchID, number)]
	if !ok {
		return nil, store.ErrNotFound
	}
	table := s.tablesByID[id]
	return &table, nil
}

func (s *Store) ListTables(_ context.Context, branchID string) ([]domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Table, 0, len(s.tablesByID))
	for _, table := range s.tablesByID {
		if branchID != "" && table.BranchID != branchID {
			continue
		}
		out = append(out, table)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.BranchID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	s.salesByID[sale.ID] = sale

	created := sale
	return &created, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, branchID string, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetAttachedSale(_ context.Context, tableID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.attachedSaleLocked(tableID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) attachedSaleLocked(tableID string) (domain.Sale, bool) {
	var latest domain.Sale
	found := false
	for _, sale := range s.salesByID {
		if sale.TableID != tableID || sale.ClearedAt != nil || sale.Status == domain.SaleStatusParked {
			continue
		}
		if !found || sale.CreatedAt.After(latest.CreatedAt) {
			latest = sale
			found = true
		}
	}
	return latest, found
}

func (s *Store) ListAttachedSales(_ context.Context, branchID string) (map[string]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Sale)
	for _, sale := range s.salesByID {
		if sale.TableID == "" || sale.ClearedAt != nil || sale.Status == domain.SaleStatusParked {
			continue
		}
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		if current, ok := out[sale.TableID]; !ok || sale.CreatedAt.After(current.CreatedAt) {
			out[sale.TableID] = sale
		}
	}
	return out, nil
}

func (s *Store) StartOrder(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.BranchID == "" || sale.TableID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tablesByID[sale.TableID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if table.Status != domain.TableAvailable {
		return nil, store.ErrTableNotAvailable
	}

	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	sale.Status = domain.SaleStatusOpen
	s.salesByID[sale.ID] = sale

	table.Status = domain.TableOccupied
	table.UpdatedAt = sale.CreatedAt
	s.tablesByID[table.ID] = table

	created := sale
	return &created, nil
}

func (s *Store) SettleSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.salesByID[sale.ID]
	if !ok {
		return nil, store.ErrNotFound
	}

	existing.DiscountCents = sale.DiscountCents
	existing.TaxCents = sale.TaxCents
	existing.TotalCents = sale.TotalCents
	existing.AmountPaidCents = sale.AmountPaidCents
	existing.ChangeCents = sale.ChangeCents
	existing.PaymentMethod = sale.PaymentMethod
	existing.Status = sale.Status
	existing.CompletedAt = sale.CompletedAt
	s.salesByID[existing.ID] = existing

	saved := existing
	return &saved, nil
}

func (s *Store) ClearTable(_ context.Context, tableID string, saleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tablesByID[tableID]
	if !ok {
		return store.ErrNotFound
	}
	sale, ok := s.salesByID[saleID]
	if !ok {
		return store.ErrNotFound
	}

	sale.ClearedAt = &at
	s.salesByID[sale.ID] = sale

	table.Status = domain.TableAvailable
	table.UpdatedAt = at
	s.tablesByID[table.ID] = table
	return nil
}

func (s *Store) TransferOrder(_ context.Context, saleID string, fromTableID string, toTableID string) (*domain.Sale, error) {
	if fromTableID == toTableID {
		return nil, store.ErrSameTable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.TableID != fromTableID || sale.ClearedAt != nil {
		return nil, store.ErrInvalidRequest
	}
	from, ok := s.tablesByID[fromTableID]
	if !ok {
		return nil, store.ErrNotFound
	}
	to, ok := s.tablesByID[toTableID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if to.Status != domain.TableAvailable {
		return nil, store.ErrTargetOccupied
	}

	now := time.Now().UTC()
	sale.TableID = to.ID
	sale.TableNumber = to.Number
	s.salesByID[sale.ID] = sale

	from.Status = domain.TableAvailable
	from.UpdatedAt = now
	s.tablesByID[from.ID] = from

	to.Status = domain.TableOccupied
	to.UpdatedAt = now
	s.tablesByID[to.ID] = to

	moved := sale
	return &moved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
