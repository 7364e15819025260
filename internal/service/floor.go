package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
	"cabangpos/backend/internal/xid"
)

const floorCacheTTL = 5 * time.Second

func floorCacheKey(branchID string) string {
	return "floor:" + branchID
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentQRIS, domain.PaymentTransfer:
		return true
	}
	return false
}

func normalizeLines(items []domain.SaleLine) []domain.SaleLine {
	out := make([]domain.SaleLine, 0, len(items))
	for _, line := range items {
		line.Name = strings.TrimSpace(line.Name)
		line.SKU = strings.ToUpper(strings.TrimSpace(line.SKU))
		if line.Name == "" || line.Qty < 1 || line.UnitPriceCents < 0 {
			continue
		}
		out = append(out, line)
	}
	return out
}

func computeTotals(subtotal int64, discount int64, taxRatePercent float64) (tax int64, total int64) {
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	taxBase := subtotal - discount
	tax = int64(math.Round(float64(taxBase) * taxRatePercent / 100))
	return tax, taxBase + tax
}

func (s *Service) invalidateFloor(ctx context.Context, branchID string) {
	if err := s.floor.Invalidate(ctx, floorCacheKey(branchID)); err != nil {
		s.log.WithField("module", "floor").Warnf("floor cache invalidation failed: %v", err)
	}
}

func (s *Service) CreateTable(ctx context.Context, branchID string, req domain.TableCreateRequest) (domain.Table, error) {
	if branchID == "" || req.Number < 1 {
		return domain.Table{}, store.ErrInvalidRequest
	}
	if req.Capacity < 1 {
		req.Capacity = 4
	}

	now := time.Now().UTC()
	table, err := s.repo.CreateTable(ctx, domain.Table{
		BranchID:  branchID,
		Number:    req.Number,
		Name:      strings.TrimSpace(req.Name),
		Capacity:  req.Capacity,
		ZoneID:    strings.TrimSpace(req.ZoneID),
		Status:    domain.TableAvailable,
		PosX:      req.PosX,
		PosY:      req.PosY,
		Width:     req.Width,
		Height:    req.Height,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Table{}, err
	}

	s.invalidateFloor(ctx, branchID)
	s.logAudit(ctx, branchID, "table_create", "table", table.ID, fmt.Sprintf("number=%d", table.Number))

	return *table, nil
}

func (s *Service) ListTables(ctx context.Context, branchID string) ([]domain.Table, error) {
	return s.repo.ListTables(ctx, branchID)
}

// TablesWithStatus is the floor projection: every table joined with its
// attached sale (if any) and the derived paid state. Short-lived cache,
// invalidated by every transition.
func (s *Service) TablesWithStatus(ctx context.Context, branchID string) (domain.TableStatusResponse, error) {
	key := floorCacheKey(branchID)
	if cached, ok, err := s.floor.Get(ctx, key); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.log.WithField("module", "floor").Warnf("floor cache read failed: %v", err)
	}

	tables, err := s.repo.ListTables(ctx, branchID)
	if err != nil {
		return domain.TableStatusResponse{}, err
	}
	attached, err := s.repo.ListAttachedSales(ctx, branchID)
	if err != nil {
		return domain.TableStatusResponse{}, err
	}

	views := make([]domain.TableStatusView, 0, len(tables))
	for _, table := range tables {
		view := domain.TableStatusView{Table: table}
		if sale, ok := attached[table.ID]; ok {
			view.Sale = &domain.TableSaleSummary{
				SaleID:          sale.ID,
				InvoiceNumber:   sale.InvoiceNumber,
				Status:          sale.Status,
				IsPaid:          sale.IsPaid(),
				GuestCount:      sale.GuestCount,
				OrderTime:       sale.CreatedAt,
				TotalCents:      sale.TotalCents,
				AmountPaidCents: sale.AmountPaidCents,
			}
		}
		views = append(views, view)
	}

	resp := domain.TableStatusResponse{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Tables:      views,
	}
	if err := s.floor.Set(ctx, key, &resp, floorCacheTTL); err != nil {
		s.log.WithField("module", "floor").Warnf("floor cache write failed: %v", err)
	}
	return resp, nil
}

// CreateSale opens a sale. Dine-in requests with a table number route through
// the start-order transaction so the table flips to occupied atomically with
// the sale insert; take-out and delivery bypass the table machine entirely.
func (s *Service) CreateSale(ctx context.Context, branchID string, req domain.SaleCreateRequest) (domain.Sale, error) {
	if branchID == "" {
		return domain.Sale{}, store.ErrInvalidRequest
	}
	items := normalizeLines(req.Items)
	if len(items) == 0 {
		return domain.Sale{}, store.ErrInvalidRequest
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 {
		return domain.Sale{}, store.ErrInvalidRequest
	}
	if req.DiscountCents < 0 {
		return domain.Sale{}, store.ErrInvalidRequest
	}

	orderType := req.OrderType
	if orderType == "" {
		if req.TableNumber > 0 {
			orderType = domain.OrderTypeDineIn
		} else {
			orderType = domain.OrderTypeTakeOut
		}
	}
	switch orderType {
	case domain.OrderTypeDineIn, domain.OrderTypeTakeOut, domain.OrderTypeDelivery:
	default:
		return domain.Sale{}, store.ErrInvalidRequest
	}
	if orderType == domain.OrderTypeDineIn && req.TableNumber < 1 {
		return domain.Sale{}, store.ErrInvalidRequest
	}

	subtotal := int64(0)
	for _, line := range items {
		subtotal += int64(line.Qty) * line.UnitPriceCents
	}
	discount := req.DiscountCents
	if discount > subtotal {
		discount = subtotal
	}
	tax, total := computeTotals(subtotal, discount, req.TaxRatePercent)

	actor, _ := ActorFromContext(ctx)
	sale := domain.Sale{
		InvoiceNumber:  s.nextInvoiceNumber(ctx, branchID),
		BranchID:       branchID,
		GuestCount:     req.GuestCount,
		OrderType:      orderType,
		Items:          items,
		SubtotalCents:  subtotal,
		TaxRatePercent: req.TaxRatePercent,
		TaxCents:       tax,
		DiscountCents:  discount,
		TotalCents:     total,
		Status:         domain.SaleStatusOpen,
		CreatedBy:      actor.Username,
		CreatedAt:      time.Now().UTC(),
	}

	var created *domain.Sale
	var err error
	if orderType == domain.OrderTypeDineIn {
		table, lookupErr := s.repo.GetTableByNumber(ctx, branchID, req.TableNumber)
		if lookupErr != nil {
			return domain.Sale{}, lookupErr
		}
		sale.TableID = table.ID
		sale.TableNumber = table.Number
		created, err = s.repo.StartOrder(ctx, sale)
	} else {
		created, err = s.repo.CreateSale(ctx, sale)
	}
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateFloor(ctx, branchID)
	s.logAudit(ctx, branchID, "sale_create", "sale", created.ID,
		fmt.Sprintf("type=%s,table=%d,total=%d", created.OrderType, created.TableNumber, created.TotalCents))

	return *created, nil
}

func (s *Service) nextInvoiceNumber(ctx context.Context, branchID string) string {
	code := "POS"
	if branch, err := s.creds.GetBranchByID(ctx, branchID); err == nil {
		code = branch.Code
	}
	return xid.Invoice(code)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, branchID string, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, branchID, limit)
}

// ProcessPayment settles an unpaid sale. Cash must cover the recomputed
// total; other methods settle at the exact total when no amount is given.
// The table (if any) stays occupied until an explicit clear.
func (s *Service) ProcessPayment(ctx context.Context, saleID string, req domain.PaymentRequest) (domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.IsPaid() {
		return domain.Sale{}, fmt.Errorf("%w: sale already paid", store.ErrInvalidRequest)
	}
	if sale.Status == domain.SaleStatusParked {
		return domain.Sale{}, fmt.Errorf("%w: sale is parked", store.ErrInvalidRequest)
	}

	method := req.Method
	if method == "" {
		method = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(method) {
		return domain.Sale{}, store.ErrInvalidRequest
	}

	discount := sale.DiscountCents
	if req.DiscountCents != nil {
		if *req.DiscountCents < 0 {
			return domain.Sale{}, store.ErrInvalidRequest
		}
		discount = *req.DiscountCents
		if discount > sale.SubtotalCents {
			discount = sale.SubtotalCents
		}
	}
	tax, total := computeTotals(sale.SubtotalCents, discount, sale.TaxRatePercent)

	amount := req.AmountCents
	if amount == 0 && method != domain.PaymentCash {
		amount = total
	}
	if method == domain.PaymentCash && amount < total {
		return domain.Sale{}, store.ErrInsufficientPayment
	}
	if amount < 0 {
		return domain.Sale{}, store.ErrInvalidRequest
	}

	now := time.Now().UTC()
	change := amount - total
	if change < 0 {
		change = 0
	}

	sale.DiscountCents = discount
	sale.TaxCents = tax
	sale.TotalCents = total
	sale.AmountPaidCents = amount
	sale.ChangeCents = change
	sale.PaymentMethod = method
	sale.Status = domain.SaleStatusCompleted
	sale.CompletedAt = &now

	settled, err := s.repo.SettleSale(ctx, *sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateFloor(ctx, settled.BranchID)
	s.logAudit(ctx, settled.BranchID, "sale_payment", "sale", settled.ID,
		fmt.Sprintf("method=%s,paid=%d,change=%d", method, amount, change))

	return *settled, nil
}

// CompleteWithoutPayment closes the order on an occupied table without taking
// money. The sale counts as placed but unpaid, and the table stays occupied
// because payment is still owed.
func (s *Service) CompleteWithoutPayment(ctx context.Context, branchID string, tableNumber int) (domain.Sale, error) {
	table, err := s.repo.GetTableByNumber(ctx, branchID, tableNumber)
	if err != nil {
		return domain.Sale{}, err
	}
	if table.Status != domain.TableOccupied {
		return domain.Sale{}, store.ErrTableNotAvailable
	}
	sale, err := s.repo.GetAttachedSale(ctx, table.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, fmt.Errorf("%w: no open sale on table %d", store.ErrInvalidRequest, tableNumber)
		}
		return domain.Sale{}, err
	}
	if sale.Status != domain.SaleStatusOpen {
		return domain.Sale{}, fmt.Errorf("%w: sale already completed", store.ErrInvalidRequest)
	}

	now := time.Now().UTC()
	sale.AmountPaidCents = 0
	sale.ChangeCents = 0
	sale.Status = domain.SaleStatusCompleted
	sale.CompletedAt = &now

	settled, err := s.repo.SettleSale(ctx, *sale)
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateFloor(ctx, branchID)
	s.logAudit(ctx, branchID, "sale_complete_unpaid", "sale", settled.ID, fmt.Sprintf("table=%d", tableNumber))

	return *settled, nil
}

// ClearTable frees an occupied table. Clearing a table with no attached sale
// is an idempotent no-op; an attached unpaid sale blocks the clear.
func (s *Service) ClearTable(ctx context.Context, branchID string, tableNumber int) (bool, error) {
	table, err := s.repo.GetTableByNumber(ctx, branchID, tableNumber)
	if err != nil {
		return false, err
	}

	sale, err := s.repo.GetAttachedSale(ctx, table.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
		// No sale attached. If a crash left the table flagged occupied,
		// repair the flag; either way the clear succeeds.
		if table.Status == domain.TableOccupied {
			table.Status = domain.TableAvailable
			table.UpdatedAt = time.Now().UTC()
			if _, err := s.repo.UpdateTable(ctx, *table); err != nil {
				return false, err
			}
			s.invalidateFloor(ctx, branchID)
		}
		return false, nil
	}

	if !sale.IsPaid() {
		return false, store.ErrCannotClearUnpaid
	}

	if err := s.repo.ClearTable(ctx, table.ID, sale.ID, time.Now().UTC()); err != nil {
		return false, err
	}

	s.invalidateFloor(ctx, branchID)
	s.logAudit(ctx, branchID, "table_clear", "table", table.ID, fmt.Sprintf("number=%d,sale=%s", tableNumber, sale.ID))

	return true, nil
}

// TransferOrder moves a sale to another table. Line items are never merged;
// only the table pointer moves.
func (s *Service) TransferOrder(ctx context.Context, branchID string, req domain.TransferRequest) (domain.Sale, error) {
	if req.SaleID == "" || req.FromTableNumber < 1 || req.ToTableNumber < 1 {
		return domain.Sale{}, store.ErrInvalidRequest
	}
	if req.FromTableNumber == req.ToTableNumber {
		return domain.Sale{}, store.ErrSameTable
	}

	from, err := s.repo.GetTableByNumber(ctx, branchID, req.FromTableNumber)
	if err != nil {
		return domain.Sale{}, err
	}
	to, err := s.repo.GetTableByNumber(ctx, branchID, req.ToTableNumber)
	if err != nil {
		return domain.Sale{}, err
	}

	attached, err := s.repo.GetAttachedSale(ctx, from.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, fmt.Errorf("%w: no sale on table %d", store.ErrInvalidRequest, req.FromTableNumber)
		}
		return domain.Sale{}, err
	}
	if attached.ID != req.SaleID {
		return domain.Sale{}, fmt.Errorf("%w: sale is not on table %d", store.ErrInvalidRequest, req.FromTableNumber)
	}

	moved, err := s.repo.TransferOrder(ctx, req.SaleID, from.ID, to.ID)
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateFloor(ctx, branchID)
	s.logAudit(ctx, branchID, "table_transfer", "sale", moved.ID,
		fmt.Sprintf("from=%d,to=%d", req.FromTableNumber, req.ToTableNumber))

	return *moved, nil
}

// ClearAll settles every unpaid sale on an occupied table with the given
// payment method, then clears every occupied table whose sale is paid. It is
// deliberately not transactional across tables: one table's failure is
// isolated and reported in its own result row.
func (s *Service) ClearAll(ctx context.Context, branchID string, paymentMethod string) (domain.ClearAllResponse, error) {
	if paymentMethod == "" {
		paymentMethod = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(paymentMethod) {
		return domain.ClearAllResponse{}, store.ErrInvalidRequest
	}

	tables, err := s.repo.ListTables(ctx, branchID)
	if err != nil {
		return domain.ClearAllResponse{}, err
	}

	results := make([]domain.ClearAllResult, 0, len(tables))
	for _, table := range tables {
		if table.Status != domain.TableOccupied {
			continue
		}
		result := domain.ClearAllResult{TableNumber: table.Number}

		sale, err := s.repo.GetAttachedSale(ctx, table.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Occupied flag with no sale: plain clear repairs it.
				if _, err := s.ClearTable(ctx, branchID, table.Number); err != nil {
					result.Status = domain.ClearResultFailed
					result.Error = err.Error()
				} else {
					result.Status = domain.ClearResultCleared
				}
				results = append(results, result)
				continue
			}
			result.Status = domain.ClearResultFailed
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		result.SaleID = sale.ID

		if !sale.IsPaid() {
			if _, err := s.ProcessPayment(ctx, sale.ID, domain.PaymentRequest{
				AmountCents: sale.TotalCents,
				Method:      paymentMethod,
			}); err != nil {
				result.Status = domain.ClearResultFailed
				result.Error = err.Error()
				results = append(results, result)
				continue
			}
		}

		if _, err := s.ClearTable(ctx, branchID, table.Number); err != nil {
			result.Status = domain.ClearResultFailed
			result.Error = err.Error()
		} else {
			result.Status = domain.ClearResultCleared
		}
		results = append(results, result)
	}

	s.invalidateFloor(ctx, branchID)
	s.logAudit(ctx, branchID, "tables_clear_all", "branch", branchID,
		fmt.Sprintf("method=%s,tables=%d", paymentMethod, len(results)))

	return domain.ClearAllResponse{Results: results}, nil
}
