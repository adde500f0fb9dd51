package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remotecast/remotecast-server/internal/audit"
	"github.com/remotecast/remotecast-server/internal/breaker"
	"github.com/remotecast/remotecast-server/internal/config"
	"github.com/remotecast/remotecast-server/internal/models"
	"github.com/remotecast/remotecast-server/internal/ratelimit"
	"github.com/remotecast/remotecast-server/internal/storage"
	"github.com/remotecast/remotecast-server/pkg/crypto"
)

// Service errors
var (
	ErrInvalidDeviceInfo = errors.New("invalid device info")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// Validation result messages. These are part of the client contract.
const (
	msgInvalidCode = "Invalid pairing code"
	msgCodeExpired = "Pairing code has expired"
	msgCodeUsed    = "Pairing code has already been used"
)

// A risk score at or above this is flagged for review. Deliberately
// soft-fail: excessive attempts are logged, never blocked here.
const riskReviewThreshold = 60

const tokenPrefix = "rpt_"

// Service issues and single-use-validates pairing tokens
type Service struct {
	cfg   config.PairingConfig
	store storage.Store
	sink  audit.Sink
	br    *breaker.Breaker
	qr    QREncoder

	userLimiter *ratelimit.Limiter
	addrLimiter *ratelimit.Limiter

	serverName string
	now        func() time.Time
}

// NewService creates a pairing service. The breaker is shared with the other
// store-guarded services and passed by reference.
func NewService(cfg config.PairingConfig, store storage.Store, sink audit.Sink, br *breaker.Breaker, qr QREncoder, serverName string) *Service {
	if qr == nil {
		qr = NewPNGEncoder()
	}
	return &Service{
		cfg:         cfg,
		store:       store,
		sink:        sink,
		br:          br,
		qr:          qr,
		userLimiter: ratelimit.NewLimiter(cfg.UserRateLimit, cfg.UserRateWindow),
		addrLimiter: ratelimit.NewLimiter(cfg.AddrRateLimit, cfg.AddrRateWindow),
		serverName:  serverName,
		now:         time.Now,
	}
}

// IssueResult is returned to the client that initiated pairing
type IssueResult struct {
	Code         string    `json:"code"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt"`
	QRPayload    string    `json:"qrPayload"`
	QRImageData  []byte    `json:"qrImageData,omitempty"`
	Instructions string    `json:"instructions"`
}

// ValidationResult is the structured outcome of a redemption attempt.
// Failures are results, not errors; the error return is reserved for
// store-level faults.
type ValidationResult struct {
	Valid      bool               `json:"valid"`
	Error      string             `json:"error,omitempty"`
	UserID     string             `json:"userId,omitempty"`
	DeviceInfo *models.DeviceInfo `json:"deviceInfo,omitempty"`
	Token      string             `json:"token,omitempty"`
}

// Issue creates a pairing token for a user after validating the device info
// and the caller's rate windows
func (s *Service) Issue(ctx context.Context, userID string, info models.DeviceInfo, remoteAddr string) (*IssueResult, error) {
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDeviceInfo, err)
	}

	now := s.now()

	// Opportunistic cleanup of the caller's own stale unused tokens.
	// Best effort; issuance proceeds regardless.
	if err := s.withBreaker(func() error {
		_, err := s.store.ExpireUserPairingTokens(ctx, userID, now)
		return err
	}); err != nil {
		log.Warn().Err(err).Str("userID", userID).Msg("Failed to expire stale pairing tokens")
	}

	if !s.userLimiter.Allow(userID) {
		s.auditRateLimited(ctx, userID, remoteAddr, "pairing requests per user")
		return nil, fmt.Errorf("%w: too many pairing requests", ErrRateLimited)
	}

	if remoteAddr != "" && !s.addrLimiter.Allow(remoteAddr) {
		s.auditRateLimited(ctx, userID, remoteAddr, "pairing requests per address")
		return nil, fmt.Errorf("%w: too many pairing requests from address", ErrRateLimited)
	}

	secret, err := crypto.NewOpaqueToken(tokenPrefix, 32)
	if err != nil {
		return nil, fmt.Errorf("generate pairing secret: %w", err)
	}

	token := &models.PairingToken{
		Token:      secret,
		UserID:     userID,
		DeviceInfo: info,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.TokenTTL),
	}

	// Retry on code collision; unexpired unused codes are unique.
	for attempt := 0; ; attempt++ {
		code, err := newCode(s.cfg.CodeLength)
		if err != nil {
			return nil, err
		}
		token.Code = code

		err = s.withBreaker(func() error {
			return s.store.CreatePairingToken(ctx, token)
		})
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrDuplicateKey) && attempt < 3 {
			continue
		}
		return nil, fmt.Errorf("create pairing token: %w", err)
	}

	payload := buildQRPayload(token.Code, s.serverName, token.ExpiresAt)
	image, err := s.qr.Encode(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to render pairing QR code")
		image = nil
	}

	s.sink.Record(ctx, &models.AuditEvent{
		Type:        models.AuditPairingTokenIssued,
		UserID:      userID,
		RemoteAddr:  remoteAddr,
		Result:      models.AuditResultSuccess,
		Description: "Pairing token issued",
		Details: models.Variables{
			"deviceName": info.Name,
			"deviceOS":   info.OS,
			"expiresAt":  token.ExpiresAt,
		},
	})

	return &IssueResult{
		Code:        token.Code,
		Token:       secret,
		ExpiresAt:   token.ExpiresAt,
		QRPayload:   payload,
		QRImageData: image,
		Instructions: fmt.Sprintf(
			"Enter code %s in the mobile app, or scan the QR code. The code expires in %d minutes.",
			token.Code, int(s.cfg.TokenTTL.Minutes())),
	}, nil
}

// Validate redeems a pairing code. A code validates successfully at most
// once, ever; concurrent redemptions race on an atomic conditional update.
func (s *Service) Validate(ctx context.Context, code string) (*ValidationResult, error) {
	code = NormalizeCode(code)
	if !isWellFormedCode(code, s.cfg.CodeLength) {
		return &ValidationResult{Valid: false, Error: msgInvalidCode}, nil
	}

	var token *models.PairingToken
	err := s.withBreaker(func() error {
		var err error
		token, err = s.store.GetPairingTokenByCode(ctx, code)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return &ValidationResult{Valid: false, Error: msgInvalidCode}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup pairing token: %w", err)
	}

	now := s.now()

	// Attempts count unconditionally, so failed guesses feed the
	// risk score too.
	token.Attempts++
	token.RiskScore = computeRiskScore(token.Attempts, now.Sub(token.CreatedAt), s.cfg.TokenTTL)
	if err := s.store.UpdatePairingToken(ctx, token); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("Failed to record pairing attempt")
	}

	if token.RiskScore >= riskReviewThreshold {
		s.sink.Record(ctx, &models.AuditEvent{
			Type:        models.AuditSuspiciousActivity,
			Level:       models.AuditLevelWarning,
			UserID:      token.UserID,
			Result:      models.AuditResultFailure,
			Description: "Pairing token flagged for review",
			Details: models.Variables{
				"code":      token.Code,
				"attempts":  token.Attempts,
				"riskScore": token.RiskScore,
			},
		})
	}

	if token.IsExpired(now) {
		s.auditPairingFailed(ctx, token, "expired")
		return &ValidationResult{Valid: false, Error: msgCodeExpired}, nil
	}

	if token.IsUsed {
		s.auditPairingFailed(ctx, token, "already used")
		return &ValidationResult{Valid: false, Error: msgCodeUsed}, nil
	}

	consumed, err := s.store.ConsumePairingToken(ctx, token.ID, now)
	if err != nil {
		return nil, fmt.Errorf("consume pairing token: %w", err)
	}
	if !consumed {
		// Lost the race against a concurrent redemption.
		s.auditPairingFailed(ctx, token, "already used")
		return &ValidationResult{Valid: false, Error: msgCodeUsed}, nil
	}

	s.sink.Record(ctx, &models.AuditEvent{
		Type:        models.AuditPairingCompleted,
		UserID:      token.UserID,
		Result:      models.AuditResultSuccess,
		Description: "Pairing code redeemed",
		Details: models.Variables{
			"deviceName": token.DeviceInfo.Name,
			"attempts":   token.Attempts,
		},
	})

	info := token.DeviceInfo
	return &ValidationResult{
		Valid:      true,
		UserID:     token.UserID,
		DeviceInfo: &info,
		Token:      token.Token,
	}, nil
}

// ResetLimits clears the rate windows (tests)
func (s *Service) ResetLimits() {
	s.userLimiter.Reset()
	s.addrLimiter.Reset()
}

// withBreaker runs a store operation under the shared circuit breaker.
// ErrNotFound is a domain outcome, not a dependency failure.
func (s *Service) withBreaker(fn func() error) error {
	if err := s.br.Allow(); err != nil {
		return err
	}

	err := fn()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.br.Failure()
		return err
	}

	s.br.Success()
	return err
}

func (s *Service) auditRateLimited(ctx context.Context, userID, remoteAddr, what string) {
	s.sink.Record(ctx, &models.AuditEvent{
		Type:        models.AuditRateLimitExceeded,
		Level:       models.AuditLevelWarning,
		UserID:      userID,
		RemoteAddr:  remoteAddr,
		Result:      models.AuditResultFailure,
		Description: "Rate limit exceeded: " + what,
	})
}

func (s *Service) auditPairingFailed(ctx context.Context, token *models.PairingToken, reason string) {
	s.sink.Record(ctx, &models.AuditEvent{
		Type:        models.AuditPairingFailed,
		Level:       models.AuditLevelWarning,
		UserID:      token.UserID,
		Result:      models.AuditResultFailure,
		Description: "Pairing validation failed: " + reason,
		Details: models.Variables{
			"code":     token.Code,
			"attempts": token.Attempts,
		},
	})
}

// computeRiskScore derives a 0-100 heuristic from attempt count and token
// age. A usage signal for review, not a threat assessment.
func computeRiskScore(attempts int, age, ttl time.Duration) float64 {
	score := float64(attempts-1) * 15
	if ttl > 0 && age > 0 {
		score += 25 * float64(age) / float64(ttl)
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
