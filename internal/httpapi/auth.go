package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"cabangpos/backend/internal/domain"
	"cabangpos/backend/internal/store"
)

// AuthManager authenticates against the head-office credential store only.
// The branch mirror is never a login fallback: when the credential store is
// unreachable, login fails with store.ErrUnavailable instead of consulting
// possibly stale mirror records.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	creds    store.CredentialStore
	mirror   store.MirrorStore
	log      *logrus.Logger
}

// dummyHash keeps the unknown-user path doing the same bcrypt work as the
// wrong-password path.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Username   string `json:"username"`
	BranchID   string `json:"branch_id"`
	BranchCode string `json:"branch_code"`
	Role       string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, creds store.CredentialStore, mirror store.MirrorStore, logger *logrus.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		creds:    creds,
		mirror:   mirror,
		log:      logger,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	branchCode := strings.ToUpper(strings.TrimSpace(req.BranchCode))
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if branchCode == "" || username == "" || strings.TrimSpace(req.Password) == "" {
		return domain.LoginResponse{}, store.ErrInvalidCredentials
	}

	branch, err := a.creds.GetBranchByCode(ctx, branchCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, store.ErrInvalidCredentials
		}
		return domain.LoginResponse{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if !branch.Active {
		return domain.LoginResponse{}, store.ErrInvalidCredentials
	}

	user, err := a.creds.FindUserByLogin(ctx, branch.ID, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a bcrypt comparison so absent and wrong-password
			// responses take comparable time.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return domain.LoginResponse{}, store.ErrInvalidCredentials
		}
		return domain.LoginResponse{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if !user.Active {
		return domain.LoginResponse{}, store.ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return domain.LoginResponse{}, store.ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := a.creds.TouchLastLogin(ctx, user.ID, now); err != nil {
		return domain.LoginResponse{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	user.LastLoginAt = &now

	// Mirror timestamp update is best effort and off the request path.
	go func(id string, at time.Time) {
		mctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.mirror.TouchLastLogin(mctx, id, at); err != nil {
			a.log.WithField("module", "auth").Warnf("mirror last-login update failed: %v", err)
		}
	}(user.ID, now)

	expiresAt := now.Add(a.tokenTTL)
	token, err := a.sign(*user, branch.Code, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        *user,
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{
		UserID:   sub,
		Username: claims.Username,
		BranchID: claims.BranchID,
		Role:     claims.Role,
	}, nil
}

func (a *AuthManager) sign(user domain.BranchUser, branchCode string, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "cabangpos",
		},
		Username:   user.Username,
		BranchID:   user.BranchID,
		BranchCode: branchCode,
		Role:       user.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

var roleLevels = map[string]int{
	domain.RoleCashier: 1,
	domain.RoleManager: 2,
	domain.RoleAdmin:   3,
}

func roleLevel(role string) int {
	return roleLevels[role]
}
