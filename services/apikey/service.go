package apikey

import (
	"context"
	"errors"
	"strings"
	"time"

	"licensing-controlplane/pkg/accesscontrol"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/repository"
	"licensing-controlplane/pkg/security"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("licensing-controlplane/services/apikey")

const (
	keyIDBytes  = 12
	secretBytes = 32
	separator   = "."
)

var keyPrefix = map[APIKeyType]string{
	APIKeyTypeAdmin:   "lcsk_admin_",
	APIKeyTypeService: "lcsk_svc_",
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	validate *validator.Validate
	repo     repository.Repository[APIKey]
	now      func() time.Time
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		validate: validator.New(),
		repo:     repository.ProvideStore[APIKey](p.DB),
		now:      time.Now,
	}
}

type CreateRequest struct {
	TenantID  *string    `json:"tenant_id"`
	Name      string     `json:"name" validate:"required,max=128"`
	KeyType   APIKeyType `json:"key_type" validate:"required,oneof=admin service"`
	Scopes    []string   `json:"scopes" validate:"required,min=1"`
	CreatedBy *string    `json:"created_by"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type CreateResult struct {
	*APIKey
	// Token is the only time the plaintext secret is returned.
	Token string `json:"token"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	ctx, span := tracer.Start(ctx, "apikey.Create")
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return nil, errutil.ValidationFailed("invalid api key request", err)
	}
	for _, sc := range req.Scopes {
		if !accesscontrol.KnownScope(sc) {
			return nil, errutil.ValidationFailed("unknown scope", nil,
				errutil.WithDetails(errutil.Detail{Field: "scopes", Message: sc}))
		}
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, errutil.ValidationFailed("expires_at must be in the future", nil)
	}

	rawID, err := security.GenerateBase64Secret(keyIDBytes)
	if err != nil {
		return nil, errutil.Internal("failed to generate key id", err)
	}
	secret, err := security.GenerateBase64Secret(secretBytes)
	if err != nil {
		return nil, errutil.Internal("failed to generate secret", err)
	}
	hash, err := security.HashArgon2(secret)
	if err != nil {
		return nil, errutil.Internal("failed to hash secret", err)
	}

	key := &APIKey{
		ID:         s.node.Generate().String(),
		TenantID:   req.TenantID,
		Name:       req.Name,
		KeyID:      keyPrefix[req.KeyType] + strings.ReplaceAll(rawID, "-", "_"),
		KeyType:    req.KeyType,
		SecretHash: hash,
		Scopes:     Scopes(req.Scopes),
		Status:     APIKeyStatusActive,
		CreatedBy:  req.CreatedBy,
		ExpiresAt:  req.ExpiresAt,
	}

	if err := s.repo.Create(ctx, key); err != nil {
		logger.FromContext(ctx).Error("failed to create api key", zap.Error(err))
		return nil, errutil.Internal("failed to create api key", err)
	}

	logger.FromContext(ctx).Info("api key created", zap.String("key_id", key.KeyID), zap.Strings("scopes", req.Scopes))
	return &CreateResult{APIKey: key, Token: key.KeyID + separator + secret}, nil
}

// Authenticate resolves a presented "<key_id>.<secret>" token to an active key.
// Every failure is reported as the same Unauthorized error.
func (s *Service) Authenticate(ctx context.Context, token string) (*APIKey, error) {
	ctx, span := tracer.Start(ctx, "apikey.Authenticate")
	defer span.End()

	unauthorized := errutil.Unauthorized("invalid api key", nil)

	keyID, secret, ok := strings.Cut(token, separator)
	if !ok || keyID == "" || secret == "" {
		return nil, unauthorized
	}

	key, err := s.repo.FindOne(ctx, &APIKey{KeyID: keyID})
	if err != nil {
		return nil, errutil.Internal("failed to load api key", err)
	}
	if key == nil || key.Status != APIKeyStatusActive {
		return nil, unauthorized
	}

	now := s.now()
	if key.Expired(now) {
		return nil, unauthorized
	}

	match, err := security.VerifyArgon2(secret, key.SecretHash)
	if err != nil {
		if errors.Is(err, security.ErrInvalidHash) {
			logger.FromContext(ctx).Error("stored api key hash is malformed", zap.String("key_id", keyID))
		}
		return nil, unauthorized
	}
	if !match {
		return nil, unauthorized
	}

	if err := s.repo.Update(ctx, key.ID, map[string]any{"last_used_at": now}); err != nil {
		logger.FromContext(ctx).Warn("failed to touch api key", zap.String("key_id", keyID), zap.Error(err))
	}
	key.LastUsedAt = &now
	return key, nil
}

func (s *Service) Revoke(ctx context.Context, id string) (*APIKey, error) {
	ctx, span := tracer.Start(ctx, "apikey.Revoke")
	defer span.End()

	key, err := s.repo.FindOne(ctx, &APIKey{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load api key", err)
	}
	if key == nil {
		return nil, errutil.NotFound("api key not found", nil)
	}
	if key.Status == APIKeyStatusRevoked {
		return key, nil
	}

	now := s.now()
	if err := s.repo.Update(ctx, id, map[string]any{"status": APIKeyStatusRevoked, "revoked_at": now}); err != nil {
		return nil, errutil.Internal("failed to revoke api key", err)
	}
	key.Status = APIKeyStatusRevoked
	key.RevokedAt = &now

	logger.FromContext(ctx).Info("api key revoked", zap.String("key_id", key.KeyID))
	return key, nil
}
