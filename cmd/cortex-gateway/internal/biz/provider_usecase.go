package biz

import (
	"context"
	"strings"

	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
)

// ProviderUsecase 嵌入提供方注册管理
type ProviderUsecase struct {
	providers domain.ProviderRepository
	log       *log.Helper
}

// NewProviderUsecase 创建提供方用例
func NewProviderUsecase(providers domain.ProviderRepository, logger log.Logger) *ProviderUsecase {
	return &ProviderUsecase{providers: providers, log: log.NewHelper(logger)}
}

// Register 注册提供方
func (uc *ProviderUsecase) Register(ctx context.Context, p *domain.ProviderConfig) (*domain.ProviderConfig, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, domain.NewValidationError("name", "provider name must not be empty")
	}
	if strings.TrimSpace(p.EmbeddingModel) == "" {
		return nil, domain.NewValidationError("embedding_model", "embedding model must not be empty")
	}
	switch p.Kind {
	case domain.ProviderOpenAI, domain.ProviderAzure, domain.ProviderLocal:
	default:
		return nil, domain.NewValidationError("provider", "unknown provider kind")
	}
	if p.Kind != domain.ProviderLocal && strings.TrimSpace(p.APIKey) == "" {
		return nil, domain.NewValidationError("api_key", "api key is required")
	}

	p.Enabled = true
	if err := uc.providers.Create(ctx, p); err != nil {
		return nil, err
	}

	uc.log.WithContext(ctx).Infof("embedding provider %s (%s) registered", p.Name, p.Kind)
	out := *p
	out.APIKey = ""
	out.HasAPIKey = true
	return &out, nil
}

// Get 读取提供方（不含密钥）
func (uc *ProviderUsecase) Get(ctx context.Context, id string) (*domain.ProviderConfig, error) {
	return uc.providers.Get(ctx, id, false)
}

// List 列出全部提供方
func (uc *ProviderUsecase) List(ctx context.Context) ([]*domain.ProviderConfig, error) {
	return uc.providers.List(ctx)
}

// Delete 注销提供方
func (uc *ProviderUsecase) Delete(ctx context.Context, id string) error {
	return uc.providers.Delete(ctx, id)
}
