package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
)

// defaultAdminPassword seeds the admin account created by branch
// provisioning. Managers are expected to rotate it on first login.
const defaultAdminPassword = "changeme123"

// headOfficeBranchCode is the reserved branch holding head-office accounts.
const headOfficeBranchCode = "HO"

func isSupportedRole(role string) bool {
	return role == domain.RoleManager || role == domain.RoleCashier
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// ProvisionBranch creates the branch and seeds its default admin user with
// the same id in both the credential store and the branch mirror.
func (s *Service) ProvisionBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.BranchProvisionResponse, error) {
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" {
		return domain.BranchProvisionResponse{}, store.ErrInvalidRequest
	}

	now := time.Now().UTC()
	branch, err := s.creds.CreateBranch(ctx, domain.Branch{
		ID:        uuid.NewString(),
		Code:      req.Code,
		Name:      req.Name,
		Address:   strings.TrimSpace(req.Address),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.BranchProvisionResponse{}, err
	}

	password := req.AdminPassword
	if password == "" {
		password = defaultAdminPassword
	}
	admin, err := s.CreateBranchUser(ctx, domain.BranchUserCreateRequest{
		BranchID:   branch.ID,
		Username:   "admin",
		Password:   password,
		FullNameEN: "Branch Admin",
		Role:       domain.RoleManager,
	})
	if err != nil {
		return domain.BranchProvisionResponse{}, fmt.Errorf("provision default admin: %w", err)
	}

	s.logAudit(ctx, branch.ID, "branch_provision", "branch", branch.ID, branch.Code)

	return domain.BranchProvisionResponse{Branch: *branch, Admin: admin}, nil
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.creds.ListBranches(ctx)
}

// EnsureHeadOfficeAdmin creates the reserved head-office branch and its
// admin-role account if they do not exist yet. It runs once at startup and is
// the only path that mints an admin: the user CRUD API never accepts the
// admin role, so a fresh deployment gets exactly the account configured here.
func (s *Service) EnsureHeadOfficeAdmin(ctx context.Context, username string, password string) (domain.BranchUser, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return domain.BranchUser{}, store.ErrInvalidRequest
	}
	if len(password) < 6 {
		return domain.BranchUser{}, store.ErrInvalidRequest
	}

	branch, err := s.creds.GetBranchByCode(ctx, headOfficeBranchCode)
	if errors.Is(err, store.ErrNotFound) {
		now := time.Now().UTC()
		branch, err = s.creds.CreateBranch(ctx, domain.Branch{
			ID:        uuid.NewString(),
			Code:      headOfficeBranchCode,
			Name:      "Head Office",
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err != nil {
		return domain.BranchUser{}, err
	}

	if existing, err := s.creds.FindUserByLogin(ctx, branch.ID, username); err == nil {
		return *existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.BranchUser{}, err
	}

	passwordHash, err := hashPassword(password)
	if err != nil {
		return domain.BranchUser{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	created, err := s.creds.CreateUser(ctx, domain.BranchUser{
		ID:           uuid.NewString(),
		BranchID:     branch.ID,
		Username:     username,
		PasswordHash: passwordHash,
		FullNameEN:   "Head Office Admin",
		Role:         domain.RoleAdmin,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return domain.BranchUser{}, err
	}

	s.mirrorUser(ctx, *created)
	s.logAudit(ctx, branch.ID, "admin_bootstrap", "branch_user", created.ID, created.Username)

	return *created, nil
}

// CreateBranchUser performs the dual write: credential store first, then the
// branch mirror with the same id. The credential store write is the
// durability boundary; a mirror failure is logged for reconciliation and
// never fails the operation.
func (s *Service) CreateBranchUser(ctx context.Context, req domain.BranchUserCreateRequest) (domain.BranchUser, error) {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if req.BranchID == "" || req.Username == "" {
		return domain.BranchUser{}, store.ErrInvalidRequest
	}
	if len(req.Password) < 6 {
		return domain.BranchUser{}, store.ErrInvalidRequest
	}
	if req.Role == "" {
		req.Role = domain.RoleCashier
	}
	if !isSupportedRole(req.Role) {
		return domain.BranchUser{}, store.ErrInvalidRequest
	}
	if _, err := s.creds.GetBranchByID(ctx, req.BranchID); err != nil {
		return domain.BranchUser{}, err
	}

	// Pre-check against the credential store only; the store's uniqueness
	// constraint still backs this up under concurrent creates.
	if _, err := s.creds.FindUserByLogin(ctx, req.BranchID, req.Username); err == nil {
		return domain.BranchUser{}, store.ErrDuplicateUsername
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.BranchUser{}, err
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.BranchUser{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := domain.BranchUser{
		ID:                uuid.NewString(),
		BranchID:          req.BranchID,
		Username:          req.Username,
		PasswordHash:      passwordHash,
		Email:             strings.TrimSpace(req.Email),
		FullNameEN:        strings.TrimSpace(req.FullNameEN),
		FullNameAR:        strings.TrimSpace(req.FullNameAR),
		Phone:             strings.TrimSpace(req.Phone),
		PreferredLanguage: strings.TrimSpace(req.PreferredLanguage),
		Role:              req.Role,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	created, err := s.creds.CreateUser(ctx, user)
	if err != nil {
		return domain.BranchUser{}, err
	}

	s.mirrorUser(ctx, *created)
	s.logAudit(ctx, created.BranchID, "branch_user_create", "branch_user", created.ID, created.Username)

	return *created, nil
}

// UpdateBranchUser applies the patch with the same credential-first ordering.
// A username change is revalidated against the credential store, excluding
// the record's own id.
func (s *Service) UpdateBranchUser(ctx context.Context, id string, patch domain.BranchUserUpdateRequest) (domain.BranchUser, error) {
	existing, err := s.creds.GetUserByID(ctx, id)
	if err != nil {
		return domain.BranchUser{}, err
	}

	updated := *existing
	if patch.Username != nil {
		username := strings.ToLower(strings.TrimSpace(*patch.Username))
		if username == "" {
			return domain.BranchUser{}, store.ErrInvalidRequest
		}
		if username != strings.ToLower(existing.Username) {
			other, err := s.creds.FindUserByLogin(ctx, existing.BranchID, username)
			if err == nil && other.ID != existing.ID {
				return domain.BranchUser{}, store.ErrDuplicateUsername
			}
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return domain.BranchUser{}, err
			}
		}
		updated.Username = username
	}
	if patch.Password != nil {
		if len(*patch.Password) < 6 {
			return domain.BranchUser{}, store.ErrInvalidRequest
		}
		hash, err := hashPassword(*patch.Password)
		if err != nil {
			return domain.BranchUser{}, fmt.Errorf("hash password: %w", err)
		}
		updated.PasswordHash = hash
	}
	if patch.Email != nil {
		updated.Email = strings.TrimSpace(*patch.Email)
	}
	if patch.FullNameEN != nil {
		updated.FullNameEN = strings.TrimSpace(*patch.FullNameEN)
	}
	if patch.FullNameAR != nil {
		updated.FullNameAR = strings.TrimSpace(*patch.FullNameAR)
	}
	if patch.Phone != nil {
		updated.Phone = strings.TrimSpace(*patch.Phone)
	}
	if patch.PreferredLanguage != nil {
		updated.PreferredLanguage = strings.TrimSpace(*patch.PreferredLanguage)
	}
	if patch.Role != nil {
		if !isSupportedRole(*patch.Role) {
			return domain.BranchUser{}, store.ErrInvalidRequest
		}
		updated.Role = *patch.Role
	}
	if patch.Active != nil {
		updated.Active = *patch.Active
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.creds.UpdateUser(ctx, updated)
	if err != nil {
		return domain.BranchUser{}, err
	}

	s.mirrorUser(ctx, *saved)
	s.logAudit(ctx, saved.BranchID, "branch_user_update", "branch_user", saved.ID, saved.Username)

	return *saved, nil
}

// DeactivateBranchUser soft-deletes: the record stays on both sides because
// sales and audit entries reference it.
func (s *Service) DeactivateBranchUser(ctx context.Context, id string) (domain.BranchUser, error) {
	existing, err := s.creds.GetUserByID(ctx, id)
	if err != nil {
		return domain.BranchUser{}, err
	}

	updated := *existing
	updated.Active = false
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.creds.UpdateUser(ctx, updated)
	if err != nil {
		return domain.BranchUser{}, err
	}

	s.mirrorUser(ctx, *saved)
	s.logAudit(ctx, saved.BranchID, "branch_user_deactivate", "branch_user", saved.ID, saved.Username)

	return *saved, nil
}

func (s *Service) ListBranchUsers(ctx context.Context, branchID string) ([]domain.BranchUser, error) {
	return s.creds.ListUsers(ctx, branchID)
}

func (s *Service) GetBranchUser(ctx context.Context, id string) (domain.BranchUser, error) {
	user, err := s.creds.GetUserByID(ctx, id)
	if err != nil {
		return domain.BranchUser{}, err
	}
	return *user, nil
}

// mirrorUser pushes the authoritative record to the branch mirror. Failure is
// logged and left to the reconcile sweep: the credential write has already
// committed, so the operation succeeded for authentication purposes.
func (s *Service) mirrorUser(ctx context.Context, user domain.BranchUser) {
	now := time.Now().UTC()
	user.SyncedAt = &now
	if err := s.mirror.UpsertUser(ctx, user); err != nil {
		s.log.WithFields(logrus.Fields{
			"module":    "sync",
			"user_id":   user.ID,
			"branch_id": user.BranchID,
		}).Warnf("mirror write failed, queued for reconcile: %v", err)
	}
}

// ReconcileUsers re-applies the credential store's version of every drifted
// record to the mirror. It never writes mirror state back to the credential
// store; records present only in the mirror are reported as orphans and left
// in place.
func (s *Service) ReconcileUsers(ctx context.Context, branchID string) (domain.ReconcileSummary, error) {
	summary := domain.ReconcileSummary{BranchID: branchID, RanAt: time.Now().UTC()}

	authoritative, err := s.creds.ListUsers(ctx, branchID)
	if err != nil {
		return summary, err
	}

	seen := make(map[string]struct{}, len(authoritative))
	for _, user := range authoritative {
		seen[user.ID] = struct{}{}
		summary.Checked++

		mirrored, err := s.mirror.GetUserByID(ctx, user.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return summary, err
		}
		if err == nil && usersEqual(user, *mirrored) {
			continue
		}

		now := time.Now().UTC()
		user.SyncedAt = &now
		if err := s.mirror.UpsertUser(ctx, user); err != nil {
			return summary, err
		}
		summary.Repaired++
	}

	mirrored, err := s.mirror.ListUsers(ctx, branchID)
	if err != nil {
		return summary, err
	}
	for _, user := range mirrored {
		if _, ok := seen[user.ID]; ok {
			continue
		}
		// Mirror-only record: flagged, never auto-deleted.
		summary.Orphans = append(summary.Orphans, user.ID)
		s.log.WithFields(logrus.Fields{
			"module":    "sync",
			"user_id":   user.ID,
			"branch_id": user.BranchID,
		}).Warn("mirror record has no credential store counterpart")
	}

	return summary, nil
}

func usersEqual(a, b domain.BranchUser) bool {
	return a.BranchID == b.BranchID &&
		a.Username == b.Username &&
		a.PasswordHash == b.PasswordHash &&
		a.Email == b.Email &&
		a.FullNameEN == b.FullNameEN &&
		a.FullNameAR == b.FullNameAR &&
		a.Phone == b.Phone &&
		a.PreferredLanguage == b.PreferredLanguage &&
		a.Role == b.Role &&
		a.Active == b.Active &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
