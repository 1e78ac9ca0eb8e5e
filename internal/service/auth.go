// Package service contains the dev identity backend's account and token logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/consulta/internal/crypto"
	"github.com/and161185/consulta/internal/errs"
	"github.com/and161185/consulta/internal/limiter"
	"github.com/and161185/consulta/internal/model"
	"github.com/and161185/consulta/internal/repository"
)

// tokenLeeway tolerates clock skew between the backend and its clients.
const tokenLeeway = 30 * time.Second

// AuthService defines the identity backend operations.
type AuthService interface {
	// Register creates an account with a hashed password.
	Register(ctx context.Context, na NewAccount) (uuid.UUID, error)
	// LoginWithIP applies rate limiting and authenticates by email and password.
	LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, model.Account, error)
	// Me loads the account behind a verified token subject.
	Me(ctx context.Context, id uuid.UUID) (model.Account, error)
	// VerifyToken checks an access token and returns its subject.
	VerifyToken(token string) (uuid.UUID, error)
}

// NewAccount is the input for Register and the seed file entry.
type NewAccount struct {
	Email                 string          `yaml:"email" validate:"required,email"`
	Password              string          `yaml:"password" validate:"required,min=8"`
	FullName              string          `yaml:"fullName"`
	Roles                 []string        `yaml:"roles" validate:"dive,required"`
	Permissions           []string        `yaml:"permissions" validate:"dive,required"`
	Contexts              []model.Context `yaml:"contexts" validate:"dive"`
	DefaultContext        *model.Context  `yaml:"defaultContext"`
	ProfessionalProfileID string          `yaml:"professionalProfileId"`
}

// AuthServiceImpl is the AuthService backed by a repository and a limiter.
type AuthServiceImpl struct {
	accounts  repository.AccountRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	validate  *validator.Validate
	now       func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(accounts repository.AccountRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{
		accounts:  accounts,
		signKey:   signKey,
		accessTTL: accessTTL,
		lim:       lim,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Register creates a new account record with a per-account salt.
func (s *AuthServiceImpl) Register(ctx context.Context, na NewAccount) (uuid.UUID, error) {
	na.Email = strings.ToLower(strings.TrimSpace(na.Email))
	if err := s.validate.Struct(na); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	for _, c := range na.Contexts {
		if !c.Type.Valid() || c.ID == "" {
			return uuid.Nil, fmt.Errorf("%w: context %q/%q", errs.ErrValidation, c.Type, c.ID)
		}
	}
	if na.DefaultContext != nil && !containsContext(na.Contexts, *na.DefaultContext) {
		return uuid.Nil, fmt.Errorf("%w: default context %s/%s is not among contexts",
			errs.ErrValidation, na.DefaultContext.Type, na.DefaultContext.ID)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	hash, salt, err := pkgcrypto.NewPasswordHash(na.Password)
	if err != nil {
		return uuid.Nil, err
	}
	a := &model.Account{
		ID:                    id,
		Email:                 na.Email,
		FullName:              na.FullName,
		PwdHash:               hash,
		SaltAuth:              salt,
		Roles:                 na.Roles,
		Permissions:           na.Permissions,
		Contexts:              na.Contexts,
		DefaultContext:        na.DefaultContext,
		ProfessionalProfileID: na.ProfessionalProfileID,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// LoginWithIP authenticates with rate limiting by (email, ip).
// Emails are matched case-insensitively, so one lockout bucket covers every spelling.
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, email, password, ip string) (model.Tokens, model.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	if !allowed {
		return model.Tokens{}, model.Account{}, errs.ErrRateLimited
	}

	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.Account{}, err
	}
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), a.SaltAuth, a.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.Account{}, errs.ErrRateLimited
		}
		// unknown email and wrong password look the same
		return model.Tokens{}, model.Account{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, email, ipHash)

	access, exp, err := s.issueAccessToken(a.ID)
	if err != nil {
		return model.Tokens{}, model.Account{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *a, nil
}

// Me loads the account for id; a vanished account is unauthorized.
func (s *AuthServiceImpl) Me(ctx context.Context, id uuid.UUID) (model.Account, error) {
	a, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return model.Account{}, errs.ErrUnauthorized
	}
	if err != nil {
		return model.Account{}, err
	}
	return *a, nil
}

// VerifyToken parses an HS256 access token and returns its subject.
func (s *AuthServiceImpl) VerifyToken(token string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	return id, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(id uuid.UUID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp.Truncate(time.Second), err
}

func containsContext(cs []model.Context, c model.Context) bool {
	for _, have := range cs {
		if have.Same(c) {
			return true
		}
	}
	return false
}
