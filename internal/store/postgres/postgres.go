package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
)

// Store implements CredentialStore, MirrorStore and Repository over a single
// database. At runtime two instances exist: one on the head-office DSN
// (credentials + floor repository) and one on the branch DSN (user mirror).
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// schemaStatements is applied in order on startup. Every statement is
// idempotent, so two instances racing at boot is harmless. The expression
// index on branch_users is what makes per-branch usernames case-insensitively
// unique under concurrent creates.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS branches (
		id         text PRIMARY KEY,
		code       text NOT NULL,
		name       text NOT NULL,
		address    text NOT NULL DEFAULT '',
		active     boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS branches_code_key ON branches (upper(code))`,
	`CREATE TABLE IF NOT EXISTS branch_users (
		id                 text PRIMARY KEY,
		branch_id          text NOT NULL,
		username           text NOT NULL,
		password_hash      text NOT NULL,
		email              text NOT NULL DEFAULT '',
		full_name_en       text NOT NULL DEFAULT '',
		full_name_ar       text NOT NULL DEFAULT '',
		phone              text NOT NULL DEFAULT '',
		preferred_language text NOT NULL DEFAULT '',
		role               text NOT NULL,
		active             boolean NOT NULL DEFAULT true,
		last_login_at      timestamptz,
		last_activity_at   timestamptz,
		created_at         timestamptz NOT NULL,
		updated_at         timestamptz NOT NULL,
		synced_at          timestamptz
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS branch_users_branch_username_key
		ON branch_users (branch_id, lower(username))`,
	`CREATE TABLE IF NOT EXISTS dining_tables (
		id         text PRIMARY KEY,
		branch_id  text NOT NULL,
		number     integer NOT NULL,
		name       text NOT NULL DEFAULT '',
		capacity   integer NOT NULL DEFAULT 4,
		zone_id    text NOT NULL DEFAULT '',
		status     text NOT NULL DEFAULT 'available',
		pos_x      integer NOT NULL DEFAULT 0,
		pos_y      integer NOT NULL DEFAULT 0,
		width      integer NOT NULL DEFAULT 0,
		height     integer NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS dining_tables_branch_number_key
		ON dining_tables (branch_id, number)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id                text PRIMARY KEY,
		invoice_number    text NOT NULL,
		branch_id         text NOT NULL,
		table_id          text,
		table_number      integer,
		guest_count       integer,
		order_type        text NOT NULL,
		subtotal_cents    bigint NOT NULL DEFAULT 0,
		tax_rate_percent  double precision NOT NULL DEFAULT 0,
		tax_cents         bigint NOT NULL DEFAULT 0,
		discount_cents    bigint NOT NULL DEFAULT 0,
		total_cents       bigint NOT NULL DEFAULT 0,
		amount_paid_cents bigint NOT NULL DEFAULT 0,
		change_cents      bigint NOT NULL DEFAULT 0,
		payment_method    text NOT NULL DEFAULT '',
		status            text NOT NULL,
		cleared_at        timestamptz,
		created_by        text NOT NULL DEFAULT '',
		created_at        timestamptz NOT NULL,
		completed_at      timestamptz
	)`,
	`CREATE INDEX IF NOT EXISTS sales_branch_created_idx ON sales (branch_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS sales_attached_idx ON sales (table_id) WHERE cleared_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		sale_id          text NOT NULL,
		line_no          integer NOT NULL,
		sku              text NOT NULL DEFAULT '',
		name             text NOT NULL,
		qty              integer NOT NULL,
		unit_price_cents bigint NOT NULL,
		PRIMARY KEY (sale_id, line_no)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id             text PRIMARY KEY,
		branch_id      text NOT NULL,
		actor_username text NOT NULL DEFAULT '',
		actor_role     text NOT NULL DEFAULT '',
		action         text NOT NULL,
		entity_type    text NOT NULL DEFAULT '',
		entity_id      text NOT NULL DEFAULT '',
		detail         text NOT NULL DEFAULT '',
		created_at     timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_logs_branch_created_idx ON audit_logs (branch_id, created_at DESC)`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- CredentialStore ---

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if branch.Code == "" || branch.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	branch.Code = strings.ToUpper(strings.TrimSpace(branch.Code))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, code, name, address, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
	`, branch.ID, branch.Code, branch.Name, branch.Address, branch.Active, branch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := branch
	return &created, nil
}

func (s *Store) GetBranchByCode(ctx context.Context, code string) (*domain.Branch, error) {
	return s.getBranch(ctx, `upper(code) = upper($1)`, strings.TrimSpace(code))
}

func (s *Store) GetBranchByID(ctx context.Context, id string) (*domain.Branch, error) {
	return s.getBranch(ctx, `id = $1`, id)
}

func (s *Store) getBranch(ctx context.Context, where string, arg any) (*domain.Branch, error) {
	var branch domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, address, active, created_at, updated_at
		FROM branches
		WHERE `+where, arg).Scan(
		&branch.ID, &branch.Code, &branch.Name, &branch.Address, &branch.Active,
		&branch.CreatedAt, &branch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &branch, nil
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, address, active, created_at, updated_at
		FROM branches
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 16)
	for rows.Next() {
		var branch domain.Branch
		if err := rows.Scan(&branch.ID, &branch.Code, &branch.Name, &branch.Address, &branch.Active, &branch.CreatedAt, &branch.UpdatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	return branches, rows.Err()
}

const branchUserColumns = `
	id, branch_id, username, password_hash, email, full_name_en, full_name_ar,
	phone, preferred_language, role, active, last_login_at, last_activity_at,
	created_at, updated_at, synced_at`

func scanBranchUser(row interface{ Scan(...any) error }) (*domain.BranchUser, error) {
	var user domain.BranchUser
	err := row.Scan(
		&user.ID, &user.BranchID, &user.Username, &user.PasswordHash, &user.Email,
		&user.FullNameEN, &user.FullNameAR, &user.Phone, &user.PreferredLanguage,
		&user.Role, &user.Active, &user.LastLoginAt, &user.LastActivityAt,
		&user.CreatedAt, &user.UpdatedAt, &user.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser relies on the unique index on (branch_id, lower(username)) so
// concurrent creates fail deterministically instead of racing the
// check-then-insert in the service layer.
func (s *Store) CreateUser(ctx context.Context, user domain.BranchUser) (*domain.BranchUser, error) {
	if user.BranchID == "" || user.Username == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidRequest
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_users (`+branchUserColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, user.ID, user.BranchID, user.Username, user.PasswordHash, user.Email,
		user.FullNameEN, user.FullNameAR, user.Phone, user.PreferredLanguage,
		user.Role, user.Active, user.LastLoginAt, user.LastActivityAt,
		user.CreatedAt, user.UpdatedAt, user.SyncedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateUsername
		}
		return nil, err
	}

	created := user
	return &created, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.BranchUser, error) {
	return scanBranchUser(s.db.QueryRowContext(ctx, `
		SELECT `+branchUserColumns+` FROM branch_users WHERE id = $1
	`, id))
}

func (s *Store) FindUserByLogin(ctx context.Context, branchID string, username string) (*domain.BranchUser, error) {
	return scanBranchUser(s.db.QueryRowContext(ctx, `
		SELECT `+branchUserColumns+`
		FROM branch_users
		WHERE branch_id = $1 AND lower(username) = lower($2)
	`, branchID, strings.TrimSpace(username)))
}

func (s *Store) ListUsers(ctx context.Context, branchID string) ([]domain.BranchUser, error) {
	query := `SELECT ` + branchUserColumns + ` FROM branch_users`
	args := make([]any, 0, 1)
	if branchID != "" {
		query += ` WHERE branch_id = $1`
		args = append(args, branchID)
	}
	query += ` ORDER BY username`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.BranchUser, 0, 32)
	for rows.Next() {
		user, err := scanBranchUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, user domain.BranchUser) (*domain.BranchUser, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE branch_users
		SET username = $2, password_hash = $3, email = $4, full_name_en = $5,
		    full_name_ar = $6, phone = $7, preferred_language = $8, role = $9,
		    active = $10, updated_at = $11, synced_at = $12
		WHERE id = $1
	`, user.ID, user.Username, user.PasswordHash, user.Email, user.FullNameEN,
		user.FullNameAR, user.Phone, user.PreferredLanguage, user.Role,
		user.Active, user.UpdatedAt, user.SyncedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateUsername
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	saved := user
	return &saved, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE branch_users
		SET last_login_at = $2, last_activity_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- MirrorStore ---

func (s *Store) UpsertUser(ctx context.Context, user domain.BranchUser) error {
	if user.ID == "" || user.BranchID == "" {
		return store.ErrInvalidRequest
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_users (`+branchUserColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			branch_id = EXCLUDED.branch_id,
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			email = EXCLUDED.email,
			full_name_en = EXCLUDED.full_name_en,
			full_name_ar = EXCLUDED.full_name_ar,
			phone = EXCLUDED.phone,
			preferred_language = EXCLUDED.preferred_language,
			role = EXCLUDED.role,
			active = EXCLUDED.active,
			last_login_at = EXCLUDED.last_login_at,
			last_activity_at = EXCLUDED.last_activity_at,
			updated_at = EXCLUDED.updated_at,
			synced_at = EXCLUDED.synced_at
	`, user.ID, user.BranchID, user.Username, user.PasswordHash, user.Email,
		user.FullNameEN, user.FullNameAR, user.Phone, user.PreferredLanguage,
		user.Role, user.Active, user.LastLoginAt, user.LastActivityAt,
		user.CreatedAt, user.UpdatedAt, user.SyncedAt)
	return err
}

// --- Repository ---

func (s *Store) CreateTable(ctx context.Context, table domain.Table) (*domain.Table, error) {
	if table.BranchID == "" || table.Number < 1 {
		return nil, store.ErrInvalidRequest
	}
	if table.ID == "" {
		table.ID = uuid.NewString()
	}
	if table.Status == "" {
		table.Status = domain.TableAvailable
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dining_tables (id, branch_id, number, name, capacity, zone_id, status,
			pos_x, pos_y, width, height, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
	`, table.ID, table.BranchID, table.Number, table.Name, table.Capacity,
		table.ZoneID, table.Status, table.PosX, table.PosY, table.Width,
		table.Height, table.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	created := table
	return &created, nil
}

func (s *Store) UpdateTable(ctx context.Context, table domain.Table) (*domain.Table, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dining_tables
		SET name = $2, capacity = $3, zone_id = $4, status = $5,
		    pos_x = $6, pos_y = $7, width = $8, height = $9, updated_at = now()
		WHERE id = $1
	`, table.ID, table.Name, table.Capacity, table.ZoneID, table.Status,
		table.PosX, table.PosY, table.Width, table.Height)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	saved := table
	return &saved, nil
}

const tableColumns = `
	id, branch_id, number, name, capacity, zone_id, status,
	pos_x, pos_y, width, height, created_at, updated_at`

func scanTable(row interface{ Scan(...any) error }) (*domain.Table, error) {
	var table domain.Table
	err := row.Scan(
		&table.ID, &table.BranchID, &table.Number, &table.Name, &table.Capacity,
		&table.ZoneID, &table.Status, &table.PosX, &table.PosY, &table.Width,
		&table.Height, &table.CreatedAt, &table.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &table, nil
}

func (s *Store) GetTableByID(ctx context.Context, id string) (*domain.Table, error) {
	return scanTable(s.db.QueryRowContext(ctx, `
		SELECT `+tableColumns+` FROM dining_tables WHERE id = $1
	`, id))
}

func (s *Store) GetTableByNumber(ctx context.Context, branchID string, number int) (*domain.Table, error) {
	return scanTable(s.db.QueryRowContext(ctx, `
		SELECT `+tableColumns+` FROM dining_tables WHERE branch_id = $1 AND number = $2
	`, branchID, number))
}

func (s *Store) ListTables(ctx context.Context, branchID string) ([]domain.Table, error) {
	query := `SELECT ` + tableColumns + ` FROM dining_tables`
	args := make([]any, 0, 1)
	if branchID != "" {
		query += ` WHERE branch_id = $1`
		args = append(args, branchID)
	}
	query += ` ORDER BY number`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make([]domain.Table, 0, 32)
	for rows.Next() {
		table, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *table)
	}
	return tables, rows.Err()
}

const saleColumns = `
	id, invoice_number, branch_id, table_id, table_number, guest_count, order_type,
	subtotal_cents, tax_rate_percent, tax_cents, discount_cents, total_cents,
	amount_paid_cents, change_cents, payment_method, status, cleared_at,
	created_by, created_at, completed_at`

func scanSale(row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var sale domain.Sale
	var tableID sql.NullString
	var tableNumber, guests sql.NullInt64
	err := row.Scan(
		&sale.ID, &sale.InvoiceNumber, &sale.BranchID, &tableID, &tableNumber,
		&guests, &sale.OrderType, &sale.SubtotalCents, &sale.TaxRatePercent,
		&sale.TaxCents, &sale.DiscountCents, &sale.TotalCents,
		&sale.AmountPaidCents, &sale.ChangeCents, &sale.PaymentMethod,
		&sale.Status, &sale.ClearedAt, &sale.CreatedBy, &sale.CreatedAt,
		&sale.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if tableID.Valid {
		sale.TableID = tableID.String
	}
	if tableNumber.Valid {
		sale.TableNumber = int(tableNumber.Int64)
	}
	if guests.Valid {
		sale.GuestCount = int(guests.Int64)
	}
	return &sale, nil
}

func (s *Store) loadItems(ctx context.Context, q queryer, saleID string) ([]domain.SaleLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sku, name, qty, unit_price_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.SKU, &line.Name, &line.Qty, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	return items, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+` FROM sales WHERE id = $1
	`, id))
	if err != nil {
		return nil, err
	}
	sale.Items, err = s.loadItems(ctx, s.db, sale.ID)
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, branchID string, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 50
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	args := make([]any, 0, 2)
	if branchID != "" {
		query += ` WHERE branch_id = $1`
		args = append(args, branchID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items, err = s.loadItems(ctx, s.db, sales[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return sales, nil
}

func (s *Store) GetAttachedSale(ctx context.Context, tableID string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+` FROM sales
		WHERE table_id = $1 AND cleared_at IS NULL AND status <> 'parked'
		ORDER BY created_at DESC
		LIMIT 1
	`, tableID))
	if err != nil {
		return nil, err
	}
	sale.Items, err = s.loadItems(ctx, s.db, sale.ID)
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListAttachedSales(ctx context.Context, branchID string) (map[string]domain.Sale, error) {
	query := `SELECT DISTINCT ON (table_id) ` + saleColumns + `
		FROM sales
		WHERE table_id IS NOT NULL AND cleared_at IS NULL AND status <> 'parked'`
	args := make([]any, 0, 1)
	if branchID != "" {
		query += ` AND branch_id = $1`
		args = append(args, branchID)
	}
	query += ` ORDER BY table_id, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Sale)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out[sale.TableID] = *sale
	}
	return out, rows.Err()
}

func (s *Store) insertSale(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	var tableID any
	if sale.TableID != "" {
		tableID = sale.TableID
	}
	var tableNumber any
	if sale.TableNumber > 0 {
		tableNumber = sale.TableNumber
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, sale.ID, sale.InvoiceNumber, sale.BranchID, tableID, tableNumber,
		sale.GuestCount, sale.OrderType, sale.SubtotalCents, sale.TaxRatePercent,
		sale.TaxCents, sale.DiscountCents, sale.TotalCents, sale.AmountPaidCents,
		sale.ChangeCents, sale.PaymentMethod, sale.Status, sale.ClearedAt,
		sale.CreatedBy, sale.CreatedAt, sale.CompletedAt)
	if err != nil {
		return err
	}
	for i, line := range sale.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, sku, name, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, i+1, line.SKU, line.Name, line.Qty, line.UnitPriceCents); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.BranchID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.insertSale(ctx, tx, sale); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

// StartOrder flips the table row with a guarded UPDATE inside the same
// transaction that inserts the sale, so two concurrent seats of the same
// table cannot both succeed.
func (s *Store) StartOrder(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.BranchID == "" || sale.TableID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidRequest
	}
	if sale.ID == "" {
		sale.ID = uuid.NewString()
	}
	sale.Status = domain.SaleStatusOpen

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE dining_tables
		SET status = 'occupied', updated_at = now()
		WHERE id = $1 AND status = 'available'
	`, sale.TableID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrTableNotAvailable
	}

	if err := s.insertSale(ctx, tx, sale); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) SettleSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET discount_cents = $2, tax_cents = $3, total_cents = $4,
		    amount_paid_cents = $5, change_cents = $6, payment_method = $7,
		    status = $8, completed_at = $9
		WHERE id = $1
	`, sale.ID, sale.DiscountCents, sale.TaxCents, sale.TotalCents,
		sale.AmountPaidCents, sale.ChangeCents, sale.PaymentMethod,
		sale.Status, sale.CompletedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetSaleByID(ctx, sale.ID)
}

func (s *Store) ClearTable(ctx context.Context, tableID string, saleID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE sales SET cleared_at = $2 WHERE id = $1 AND cleared_at IS NULL
	`, saleID, at); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE dining_tables SET status = 'available', updated_at = $2 WHERE id = $1
	`, tableID, at)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}

func (s *Store) TransferOrder(ctx context.Context, saleID string, fromTableID string, toTableID string) (*domain.Sale, error) {
	if fromTableID == toTableID {
		return nil, store.ErrSameTable
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var toNumber int
	err = tx.QueryRowContext(ctx, `
		SELECT number FROM dining_tables WHERE id = $1 FOR UPDATE
	`, toTableID).Scan(&toNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE dining_tables
		SET status = 'occupied', updated_at = now()
		WHERE id = $1 AND status = 'available'
	`, toTableID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrTargetOccupied
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET table_id = $2, table_number = $3
		WHERE id = $1 AND table_id = $4 AND cleared_at IS NULL
	`, saleID, toTableID, toNumber, fromTableID)
	if err != nil {
		return nil, err
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrInvalidRequest
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE dining_tables SET status = 'available', updated_at = now() WHERE id = $1
	`, fromTableID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetSaleByID(ctx, saleID)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action,
			entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole,
		entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
