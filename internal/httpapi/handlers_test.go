package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/service"
	"cabangpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with in-memory stores, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	creds := memory.NewSeeded("MAIN")
	mirror := memory.New()
	svc := service.New(creds, mirror, creds, nil, testLogger())
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, creds, mirror, testLogger())

	return New(svc, auth, "*", testLogger())
}

func doJSON(t *testing.T, api *API, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func loginAsManager(t *testing.T, api *API) string {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		BranchCode: "MAIN",
		Username:   "admin",
		Password:   "admin123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("manager login failed, status %d: %s", rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	decodeBody(t, rec, &payload)
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

// loginAsAdmin bootstraps the head-office admin the way cmd/server does at
// startup, then logs in through the API.
func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()

	if _, err := api.service.EnsureHeadOfficeAdmin(context.Background(), "hq-admin", "rahasia-hq"); err != nil {
		t.Fatalf("bootstrap head-office admin: %v", err)
	}

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		BranchCode: "HO",
		Username:   "hq-admin",
		Password:   "rahasia-hq",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login failed, status %d: %s", rec.Code, rec.Body.String())
	}

	var payload domain.LoginResponse
	decodeBody(t, rec, &payload)
	if payload.User.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role on bootstrapped account, got %q", payload.User.Role)
	}
	return payload.AccessToken
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	decodeBody(t, res, &payload)
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/tables", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestBranchProvisioningRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAsManager(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/branches", manager, csrf, domain.BranchCreateRequest{
		Code: "BDG", Name: "Cabang Bandung",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/branches", loginAsAdmin(t, api), csrf, domain.BranchCreateRequest{
		Code: "BDG", Name: "Cabang Bandung",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for admin, got %d: %s", rec.Code, rec.Body.String())
	}

	var payload domain.BranchProvisionResponse
	decodeBody(t, rec, &payload)
	if payload.Branch.Code != "BDG" || payload.Admin.Username != "admin" {
		t.Fatalf("unexpected provision response: %+v", payload)
	}
}

func TestBranchUserLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAsManager(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/branch-users", manager, csrf, domain.BranchUserCreateRequest{
		Username: "kasir1",
		Password: "rahasia1",
		Role:     domain.RoleCashier,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user failed, status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		User domain.BranchUser `json:"user"`
	}
	decodeBody(t, rec, &created)

	// Duplicate in the same branch maps to 400 duplicate_username.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/branch-users", manager, csrf, domain.BranchUserCreateRequest{
		Username: "KASIR1",
		Password: "rahasia1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate, got %d", rec.Code)
	}
	var dup map[string]string
	decodeBody(t, rec, &dup)
	if dup["code"] != "duplicate_username" {
		t.Fatalf("expected duplicate_username code, got %q", dup["code"])
	}

	// New cashier can log in.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		BranchCode: "MAIN", Username: "kasir1", Password: "rahasia1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cashier login failed, status %d", rec.Code)
	}

	// Deactivate, then the very next login attempt fails.
	rec = doJSON(t, api, http.MethodDelete, "/api/v1/branch-users/"+created.User.ID, manager, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate failed, status %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		BranchCode: "MAIN", Username: "kasir1", Password: "rahasia1",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after deactivation, got %d", rec.Code)
	}
}

func TestCashierCannotManageUsersOrTables(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAsManager(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/branch-users", manager, csrf, domain.BranchUserCreateRequest{
		Username: "kasir2",
		Password: "rahasia1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user failed, status %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		BranchCode: "MAIN", Username: "kasir2", Password: "rahasia1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("cashier login failed, status %d", rec.Code)
	}
	var login domain.LoginResponse
	decodeBody(t, rec, &login)

	rec = doJSON(t, api, http.MethodGet, "/api/v1/branch-users", login.AccessToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on user management, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/tables", login.AccessToken, csrf, domain.TableCreateRequest{Number: 20})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier creating tables, got %d", rec.Code)
	}
}

func TestSeatPayClearFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAsManager(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", manager, csrf, domain.SaleCreateRequest{
		OrderType:   domain.OrderTypeDineIn,
		TableNumber: 5,
		Items: []domain.SaleLine{
			{Name: "Sate Ayam", Qty: 2, UnitPriceCents: 2000},
		},
		TaxRatePercent: 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale failed, status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	if created.Sale.TotalCents != 4400 {
		t.Fatalf("expected total 4400, got %d", created.Sale.TotalCents)
	}

	// Unpaid table cannot be cleared.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/tables/5/clear", manager, csrf, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unpaid clear, got %d", rec.Code)
	}
	var conflict map[string]string
	decodeBody(t, rec, &conflict)
	if conflict["code"] != "cannot_clear_unpaid" {
		t.Fatalf("expected cannot_clear_unpaid code, got %q", conflict["code"])
	}

	// Short cash is rejected.
	rec = doJSON(t, api, http.MethodPatch, fmt.Sprintf("/api/v1/sales/%s/payment", created.Sale.ID), manager, csrf, domain.PaymentRequest{
		AmountCents: 4000,
		Method:      domain.PaymentCash,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short cash, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPatch, fmt.Sprintf("/api/v1/sales/%s/payment", created.Sale.ID), manager, csrf, domain.PaymentRequest{
		AmountCents: 5000,
		Method:      domain.PaymentCash,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("payment failed, status %d: %s", rec.Code, rec.Body.String())
	}
	var paid struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &paid)
	if paid.Sale.ChangeCents != 600 || !paid.Sale.IsPaid() {
		t.Fatalf("unexpected settlement: change=%d paid=%v", paid.Sale.ChangeCents, paid.Sale.IsPaid())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/tables/5/clear", manager, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear failed, status %d: %s", rec.Code, rec.Body.String())
	}

	// Floor view shows table 5 free again.
	rec = doJSON(t, api, http.MethodGet, "/api/v1/tables/status", manager, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("floor status failed, status %d", rec.Code)
	}
	var floor domain.TableStatusResponse
	decodeBody(t, rec, &floor)
	for _, view := range floor.Tables {
		if view.Table.Number == 5 && (view.Table.Status != domain.TableAvailable || view.Sale != nil) {
			t.Fatalf("expected table 5 free after clear, got %+v", view)
		}
	}
}

func TestDoubleSeatReturnsConflictOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAsManager(t, api)
	csrf := fetchCSRFToken(t, api)

	seat := domain.SaleCreateRequest{
		OrderType:   domain.OrderTypeDineIn,
		TableNumber: 2,
		Items:       []domain.SaleLine{{Name: "Bakso", Qty: 1, UnitPriceCents: 1500}},
	}
	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", manager, csrf, seat)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first seat failed, status %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", manager, csrf, seat)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for double seat, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["code"] != "table_not_available" {
		t.Fatalf("expected table_not_available code, got %q", body["code"])
	}
}

func TestCrossBranchSaleAccessIsHidden(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAsManager(t, api)
	admin := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/branches", admin, csrf, domain.BranchCreateRequest{
		Code: "BDG", Name: "Cabang Bandung", AdminPassword: "rahasia2",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("provision branch failed, status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		BranchCode: "BDG", Username: "admin", Password: "rahasia2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("outsider login failed, status %d", rec.Code)
	}
	var outsider domain.LoginResponse
	decodeBody(t, rec, &outsider)

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", manager, csrf, domain.SaleCreateRequest{
		OrderType: domain.OrderTypeTakeOut,
		Items:     []domain.SaleLine{{Name: "Kopi Susu", Qty: 2, UnitPriceCents: 1800}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale failed, status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)

	// Another branch cannot read the sale.
	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, outsider.AccessToken, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cross-branch read, got %d", rec.Code)
	}

	// Nor settle it.
	rec = doJSON(t, api, http.MethodPatch, fmt.Sprintf("/api/v1/sales/%s/payment", created.Sale.ID), outsider.AccessToken, csrf, domain.PaymentRequest{
		Method: domain.PaymentQRIS,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cross-branch payment, got %d", rec.Code)
	}

	// The owning branch still reads it, and an admin may reach across.
	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, manager, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for same-branch read, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, admin, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin read, got %d", rec.Code)
	}
}

func TestReconcileEndpointRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	manager := loginAsManager(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sync/reconcile", manager, csrf, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for manager, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sync/reconcile", loginAsAdmin(t, api), csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile failed, status %d: %s", rec.Code, rec.Body.String())
	}
	var summary domain.ReconcileSummary
	decodeBody(t, rec, &summary)
	if summary.Checked == 0 {
		t.Fatalf("expected reconcile to check the seeded user")
	}
}
