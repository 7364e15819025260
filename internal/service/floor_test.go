package service

import (
	"context"
	"errors"
	"testing"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
)

func cashierContext(branchID string) context.Context {
	return WithActor(context.Background(), domain.Actor{
		Username: "kasir",
		BranchID: branchID,
		Role:     domain.RoleCashier,
	})
}

func dineInRequest(tableNumber int) domain.SaleCreateRequest {
	return domain.SaleCreateRequest{
		OrderType:   domain.OrderTypeDineIn,
		TableNumber: tableNumber,
		GuestCount:  2,
		Items: []domain.SaleLine{
			{Name: "Nasi Goreng", Qty: 2, UnitPriceCents: 1500},
			{Name: "Es Teh", Qty: 2, UnitPriceCents: 500},
		},
		TaxRatePercent: 10,
	}
}

func TestStartOrderOccupiesTable(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, dineInRequest(1))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.Status != domain.SaleStatusOpen {
		t.Fatalf("expected open sale, got %s", sale.Status)
	}
	if sale.TableNumber != 1 {
		t.Fatalf("expected sale on table 1, got %d", sale.TableNumber)
	}

	table, err := svc.repo.GetTableByNumber(ctx, branchID, 1)
	if err != nil {
		t.Fatalf("table lookup failed: %v", err)
	}
	if table.Status != domain.TableOccupied {
		t.Fatalf("expected occupied table, got %s", table.Status)
	}

	// Seating a second party at the same table must fail.
	_, err = svc.CreateSale(ctx, branchID, dineInRequest(1))
	if !errors.Is(err, store.ErrTableNotAvailable) {
		t.Fatalf("expected ErrTableNotAvailable, got %v", err)
	}
}

func TestSaleTotalsAreDerivedFromLines(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, dineInRequest(2))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.SubtotalCents != 4000 {
		t.Fatalf("expected subtotal 4000, got %d", sale.SubtotalCents)
	}
	if sale.TaxCents != 400 {
		t.Fatalf("expected tax 400, got %d", sale.TaxCents)
	}
	if sale.TotalCents != 4400 {
		t.Fatalf("expected total 4400, got %d", sale.TotalCents)
	}
	if sale.IsPaid() {
		t.Fatalf("open sale must not be paid")
	}
	if sale.InvoiceNumber == "" {
		t.Fatalf("expected generated invoice number")
	}
}

func TestSeatPayClearLifecycle(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, dineInRequest(5))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	paid, err := svc.ProcessPayment(ctx, sale.ID, domain.PaymentRequest{
		AmountCents: 5000,
		Method:      domain.PaymentCash,
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if paid.ChangeCents != 600 {
		t.Fatalf("expected change 600, got %d", paid.ChangeCents)
	}
	if !paid.IsPaid() || paid.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected paid completed sale, got paid=%v status=%s", paid.IsPaid(), paid.Status)
	}

	// Payment never frees the table; clearing is explicit.
	table, err := svc.repo.GetTableByNumber(ctx, branchID, 5)
	if err != nil {
		t.Fatalf("table lookup failed: %v", err)
	}
	if table.Status != domain.TableOccupied {
		t.Fatalf("table must stay occupied after payment, got %s", table.Status)
	}

	cleared, err := svc.ClearTable(ctx, branchID, 5)
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if !cleared {
		t.Fatalf("expected clear to detach the sale")
	}
	table, err = svc.repo.GetTableByNumber(ctx, branchID, 5)
	if err != nil {
		t.Fatalf("table lookup failed: %v", err)
	}
	if table.Status != domain.TableAvailable {
		t.Fatalf("expected available table after clear, got %s", table.Status)
	}

	// Clearing an available table with no sale is an idempotent no-op.
	cleared, err = svc.ClearTable(ctx, branchID, 5)
	if err != nil {
		t.Fatalf("repeat clear must not fail: %v", err)
	}
	if cleared {
		t.Fatalf("repeat clear must be a no-op")
	}
}

func TestCashPaymentRejectsInsufficientAmount(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, dineInRequest(3))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	_, err = svc.ProcessPayment(ctx, sale.ID, domain.PaymentRequest{
		AmountCents: 4000,
		Method:      domain.PaymentCash,
	})
	if !errors.Is(err, store.ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
}

func TestNonCashPaymentDefaultsToExactTotal(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, dineInRequest(4))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	paid, err := svc.ProcessPayment(ctx, sale.ID, domain.PaymentRequest{Method: domain.PaymentQRIS})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if paid.AmountPaidCents != paid.TotalCents || paid.ChangeCents != 0 {
		t.Fatalf("expected exact settlement, got paid=%d total=%d change=%d",
			paid.AmountPaidCents, paid.TotalCents, paid.ChangeCents)
	}
}

func TestCompleteWithoutPaymentKeepsTableBlocked(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	if _, err := svc.CreateSale(ctx, branchID, dineInRequest(6)); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	completed, err := svc.CompleteWithoutPayment(ctx, branchID, 6)
	if err != nil {
		t.Fatalf("complete without payment failed: %v", err)
	}
	if completed.Status != domain.SaleStatusCompleted || completed.IsPaid() {
		t.Fatalf("expected completed unpaid sale, got status=%s paid=%v", completed.Status, completed.IsPaid())
	}

	table, err := svc.repo.GetTableByNumber(ctx, branchID, 6)
	if err != nil {
		t.Fatalf("table lookup failed: %v", err)
	}
	if table.Status != domain.TableOccupied {
		t.Fatalf("payment still owed, table must stay occupied, got %s", table.Status)
	}

	_, err = svc.ClearTable(ctx, branchID, 6)
	if !errors.Is(err, store.ErrCannotClearUnpaid) {
		t.Fatalf("expected ErrCannotClearUnpaid, got %v", err)
	}
}

func TestTransferOrderMovesSaleBetweenTables(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, dineInRequest(2))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	_, err = svc.TransferOrder(ctx, branchID, domain.TransferRequest{
		SaleID:          sale.ID,
		FromTableNumber: 2,
		ToTableNumber:   2,
	})
	if !errors.Is(err, store.ErrSameTable) {
		t.Fatalf("expected ErrSameTable, got %v", err)
	}

	moved, err := svc.TransferOrder(ctx, branchID, domain.TransferRequest{
		SaleID:          sale.ID,
		FromTableNumber: 2,
		ToTableNumber:   7,
	})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if moved.TableNumber != 7 {
		t.Fatalf("expected sale on table 7, got %d", moved.TableNumber)
	}
	if len(moved.Items) != len(sale.Items) {
		t.Fatalf("transfer must never merge or drop line items")
	}

	from, _ := svc.repo.GetTableByNumber(ctx, branchID, 2)
	to, _ := svc.repo.GetTableByNumber(ctx, branchID, 7)
	if from.Status != domain.TableAvailable || to.Status != domain.TableOccupied {
		t.Fatalf("expected source freed and target occupied, got %s/%s", from.Status, to.Status)
	}

	// Target already occupied now: moving anything else onto it must fail.
	other, err := svc.CreateSale(ctx, branchID, dineInRequest(1))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	_, err = svc.TransferOrder(ctx, branchID, domain.TransferRequest{
		SaleID:          other.ID,
		FromTableNumber: 1,
		ToTableNumber:   7,
	})
	if !errors.Is(err, store.ErrTargetOccupied) {
		t.Fatalf("expected ErrTargetOccupied, got %v", err)
	}
}

func TestClearAllSettlesUnpaidAndClearsEverything(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := managerContext(branchID)

	// Table 1: unpaid open sale. Table 2: already paid.
	if _, err := svc.CreateSale(ctx, branchID, dineInRequest(1)); err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	paidSale, err := svc.CreateSale(ctx, branchID, dineInRequest(2))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if _, err := svc.ProcessPayment(ctx, paidSale.ID, domain.PaymentRequest{Method: domain.PaymentCard}); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	resp, err := svc.ClearAll(ctx, branchID, domain.PaymentCash)
	if err != nil {
		t.Fatalf("clear all failed: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 per-table results, got %d", len(resp.Results))
	}
	for _, result := range resp.Results {
		if result.Status != domain.ClearResultCleared {
			t.Fatalf("table %d: expected cleared, got %s (%s)", result.TableNumber, result.Status, result.Error)
		}
	}

	tables, err := svc.ListTables(ctx, branchID)
	if err != nil {
		t.Fatalf("list tables failed: %v", err)
	}
	for _, table := range tables {
		if table.Status != domain.TableAvailable {
			t.Fatalf("table %d still %s after clear all", table.Number, table.Status)
		}
	}
}

func TestTakeOutSaleBypassesTables(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, domain.SaleCreateRequest{
		OrderType: domain.OrderTypeTakeOut,
		Items:     []domain.SaleLine{{Name: "Kopi", Qty: 1, UnitPriceCents: 2000}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.TableID != "" || sale.TableNumber != 0 {
		t.Fatalf("take-out sale must not reference a table")
	}

	tables, err := svc.ListTables(ctx, branchID)
	if err != nil {
		t.Fatalf("list tables failed: %v", err)
	}
	for _, table := range tables {
		if table.Status != domain.TableAvailable {
			t.Fatalf("take-out order must not touch table %d", table.Number)
		}
	}
}

func TestZeroTotalSaleIsNeverPaid(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, domain.SaleCreateRequest{
		OrderType:   domain.OrderTypeDineIn,
		TableNumber: 8,
		Items:       []domain.SaleLine{{Name: "Air Putih", Qty: 1, UnitPriceCents: 0}},
	})
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}
	if sale.TotalCents != 0 {
		t.Fatalf("expected zero total, got %d", sale.TotalCents)
	}
	if sale.IsPaid() {
		t.Fatalf("zero-total sale must never report paid")
	}

	_, err = svc.ClearTable(ctx, branchID, 8)
	if !errors.Is(err, store.ErrCannotClearUnpaid) {
		t.Fatalf("expected ErrCannotClearUnpaid for zero-total sale, got %v", err)
	}
}

func TestTablesWithStatusJoinsAttachedSales(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, dineInRequest(3))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	resp, err := svc.TablesWithStatus(ctx, branchID)
	if err != nil {
		t.Fatalf("floor status failed: %v", err)
	}
	if len(resp.Tables) != 8 {
		t.Fatalf("expected 8 seeded tables, got %d", len(resp.Tables))
	}

	var found bool
	for _, view := range resp.Tables {
		if view.Table.Number != 3 {
			if view.Sale != nil {
				t.Fatalf("table %d must not carry a sale", view.Table.Number)
			}
			continue
		}
		found = true
		if view.Sale == nil {
			t.Fatalf("table 3 must carry its attached sale")
		}
		if view.Sale.SaleID != sale.ID || view.Sale.IsPaid {
			t.Fatalf("unexpected attached sale projection: %+v", view.Sale)
		}
	}
	if !found {
		t.Fatalf("table 3 missing from floor status")
	}
}

func TestPaymentAfterDiscountRecomputesTotals(t *testing.T) {
	svc, _, _, branchID := newTestService(t)
	ctx := cashierContext(branchID)

	sale, err := svc.CreateSale(ctx, branchID, dineInRequest(1))
	if err != nil {
		t.Fatalf("create sale failed: %v", err)
	}

	discount := int64(1000)
	paid, err := svc.ProcessPayment(ctx, sale.ID, domain.PaymentRequest{
		AmountCents:   4000,
		Method:        domain.PaymentCash,
		DiscountCents: &discount,
	})
	if err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	// subtotal 4000 - discount 1000 = 3000, +10% tax = 3300.
	if paid.TotalCents != 3300 {
		t.Fatalf("expected total 3300 after discount, got %d", paid.TotalCents)
	}
	if paid.ChangeCents != 700 {
		t.Fatalf("expected change 700, got %d", paid.ChangeCents)
	}
}
