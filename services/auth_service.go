package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/identity"
	"github.com/upb/tma-auth-gateway/initdata"
	"github.com/upb/tma-auth-gateway/internal/observability"
	"github.com/upb/tma-auth-gateway/internal/shared"
	"github.com/upb/tma-auth-gateway/services/audit"
)

// AccountProvisioner ensures an account exists for a verified identity.
type AccountProvisioner interface {
	Ensure(ctx context.Context, identity *initdata.Identity) (subject string, created bool, err error)
}

// AuditRecorder receives exchange outcomes. Implemented by audit.AuditService.
type AuditRecorder interface {
	LogVerified(req audit.Request, externalID int64) error
	LogRejected(req audit.Request, kind string) error
	LogAccountCreated(req audit.Request, subject string, externalID int64) error
	LogTokenIssued(req audit.Request, subject string, externalID int64, created bool) error
	LogUpstreamFailed(req audit.Request, kind string, externalID int64) error
}

// Principal is a verified mini app user.
type Principal struct {
	Subject  string             `json:"subject"`
	Identity *initdata.Identity `json:"identity"`
	AuthDate *time.Time         `json:"auth_date,omitempty"`
}

// TelegramAuthService exchanges signed init data for an identity provider token
type TelegramAuthService struct {
	verifier    *initdata.Verifier
	provisioner AccountProvisioner
	issuer      identity.TokenIssuer
	timeout     time.Duration
	metrics     *observability.Metrics
	audit       AuditRecorder
	logger      *zap.Logger
}

// AuthServiceOption configures a TelegramAuthService
type AuthServiceOption func(*TelegramAuthService)

// WithUpstreamTimeout bounds provisioning and issuance together.
func WithUpstreamTimeout(d time.Duration) AuthServiceOption {
	return func(s *TelegramAuthService) {
		s.timeout = d
	}
}

// WithMetrics records exchange outcomes.
func WithMetrics(m *observability.Metrics) AuthServiceOption {
	return func(s *TelegramAuthService) {
		s.metrics = m
	}
}

// WithAudit records exchange outcomes in the audit trail.
func WithAudit(r AuditRecorder) AuthServiceOption {
	return func(s *TelegramAuthService) {
		s.audit = r
	}
}

// NewTelegramAuthService creates a new auth service
func NewTelegramAuthService(
	verifier *initdata.Verifier,
	provisioner AccountProvisioner,
	issuer identity.TokenIssuer,
	logger *zap.Logger,
	opts ...AuthServiceOption,
) *TelegramAuthService {
	s := &TelegramAuthService{
		verifier:    verifier,
		provisioner: provisioner,
		issuer:      issuer,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = nopAudit{}
	}
	return s
}

// Authenticate verifies raw init data and extracts its user. It never calls
// the identity provider.
func (s *TelegramAuthService) Authenticate(rawInitData string) (*Principal, error) {
	payload, err := s.verifier.ParseAndVerify(rawInitData)
	if err != nil {
		return nil, err
	}
	user, err := initdata.ExtractIdentity(payload)
	if err != nil {
		return nil, err
	}

	principal := &Principal{
		Subject:  identity.SubjectID(user.ExternalID),
		Identity: user,
	}
	if authDate, err := initdata.AuthDate(payload); err == nil {
		principal.AuthDate = &authDate
	}
	return principal, nil
}

// Exchange verifies init data, provisions the account on first login and
// issues a token for it. Returned errors are always shared.DomainError.
func (s *TelegramAuthService) Exchange(ctx context.Context, rawInitData string, req audit.Request) (string, error) {
	start := time.Now()
	logger := observability.RequestLogger(ctx, s.logger)

	principal, err := s.Authenticate(rawInitData)
	if err != nil {
		kind := string(shared.KindOf(err))
		s.metrics.RecordVerification(kind)
		s.metrics.ObserveExchange(kind, time.Since(start))
		s.record(logger, s.audit.LogRejected(req, kind))
		// the payload is attacker controlled, never log it
		logger.Warn("init data rejected", zap.String("kind", kind), zap.Error(err))
		return "", err
	}
	user := principal.Identity
	s.metrics.RecordVerification(observability.ResultSuccess)
	s.record(logger, s.audit.LogVerified(req, user.ExternalID))

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	subject, created, err := s.provisioner.Ensure(ctx, user)
	if err != nil {
		err = asUpstream(err, shared.ProvisioningFailure)
		s.metrics.RecordProvisioning(observability.ResultFailed)
		return "", s.upstreamFailed(logger, req, user, start, err)
	}
	if created {
		s.metrics.RecordProvisioning(observability.ResultCreated)
		s.record(logger, s.audit.LogAccountCreated(req, subject, user.ExternalID))
	} else {
		s.metrics.RecordProvisioning(observability.ResultExisting)
	}

	token, err := s.issuer.IssueToken(ctx, subject, identity.DisplayClaims(user))
	if err != nil {
		err = asUpstream(err, shared.UpstreamIssuanceFailure)
		s.metrics.RecordIssuance(observability.ResultFailed)
		return "", s.upstreamFailed(logger, req, user, start, err)
	}

	s.metrics.RecordIssuance(observability.ResultSuccess)
	s.metrics.ObserveExchange(observability.ResultSuccess, time.Since(start))
	s.record(logger, s.audit.LogTokenIssued(req, subject, user.ExternalID, created))
	logger.Info("init data exchanged",
		zap.String("subject", subject),
		zap.Bool("created", created),
		zap.Duration("duration", time.Since(start)))

	return token, nil
}

func (s *TelegramAuthService) upstreamFailed(logger *zap.Logger, req audit.Request, user *initdata.Identity, start time.Time, err error) error {
	kind := string(shared.KindOf(err))
	s.metrics.ObserveExchange(kind, time.Since(start))
	s.record(logger, s.audit.LogUpstreamFailed(req, kind, user.ExternalID))
	logger.Error("init data exchange failed upstream",
		zap.String("kind", kind),
		zap.Int64("telegram_id", user.ExternalID),
		zap.Error(err))
	return err
}

func (s *TelegramAuthService) record(logger *zap.Logger, err error) {
	if err != nil {
		logger.Debug("audit event not recorded", zap.Error(err))
	}
}

// asUpstream keeps domain errors and wraps anything else with wrap.
func asUpstream(err error, wrap func(error) error) error {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return wrap(err)
}

type nopAudit struct{}

func (nopAudit) LogVerified(audit.Request, int64) error                  { return nil }
func (nopAudit) LogRejected(audit.Request, string) error                 { return nil }
func (nopAudit) LogAccountCreated(audit.Request, string, int64) error    { return nil }
func (nopAudit) LogTokenIssued(audit.Request, string, int64, bool) error { return nil }
func (nopAudit) LogUpstreamFailed(audit.Request, string, int64) error    { return nil }
