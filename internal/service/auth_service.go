package service

import (
	"context"
	"fmt"
	"time"

	"adcoin-ledger/internal/core/domain"
	"adcoin-ledger/internal/core/ports"
	"adcoin-ledger/pkg/apperror"
)

// GateService implements ports.Authorizer: it proves the initiating human is
// who they claim before a request reaches the transfer engine. The engine
// only ever sees the pass/fail outcome.
type GateService struct {
	participants ports.ParticipantRepository
	hashSvc      ports.HashService
}

// NewGateService creates a new GateService.
func NewGateService(participants ports.ParticipantRepository, hashSvc ports.HashService) *GateService {
	return &GateService{participants: participants, hashSvc: hashSvc}
}

// Authorize verifies the initiator's credential against the directory.
// Every failure mode collapses to Unauthorized; the caller learns nothing
// about which check failed.
func (s *GateService) Authorize(ctx context.Context, initiator domain.AccountRef, credential string) error {
	p, err := s.participants.GetByRef(ctx, initiator)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("lookup initiator: %w", err))
	}
	if p == nil || p.PasswordHash == "" {
		return apperror.ErrUnauthorized()
	}

	ok, err := s.hashSvc.Verify(credential, p.PasswordHash)
	if err != nil || !ok {
		return apperror.ErrUnauthorized()
	}
	return nil
}

// AuthServiceImpl implements ports.AuthService for staff dashboard sessions.
type AuthServiceImpl struct {
	participants ports.ParticipantRepository
	hashSvc      ports.HashService
	tokenSvc     ports.TokenService
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(participants ports.ParticipantRepository, hashSvc ports.HashService, tokenSvc ports.TokenService) *AuthServiceImpl {
	return &AuthServiceImpl{participants: participants, hashSvc: hashSvc, tokenSvc: tokenSvc}
}

// Login authenticates a staff member and issues a session token.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	p, err := s.participants.GetStaffByUsername(ctx, username)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("lookup staff: %w", err))
	}
	if p == nil {
		return "", time.Time{}, apperror.ErrUnauthorized()
	}

	ok, err := s.hashSvc.Verify(password, p.PasswordHash)
	if err != nil || !ok {
		return "", time.Time{}, apperror.ErrUnauthorized()
	}

	token, expiry, err := s.tokenSvc.Generate(p.Ref)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}
	return token, expiry, nil
}
