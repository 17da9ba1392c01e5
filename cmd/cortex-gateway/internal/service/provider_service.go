package service

import (
	"net/http"

	"cortex/cmd/cortex-gateway/internal/biz"
	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
)

// ProviderService 嵌入提供方管理HTTP入口
type ProviderService struct {
	uc  *biz.ProviderUsecase
	log *log.Helper
}

// NewProviderService 创建提供方服务
func NewProviderService(uc *biz.ProviderUsecase, logger log.Logger) *ProviderService {
	return &ProviderService{uc: uc, log: log.NewHelper(logger)}
}

// Create POST /v1/providers
func (s *ProviderService) Create(c *gin.Context) {
	var req struct {
		Name           string         `json:"name" binding:"required"`
		Provider       string         `json:"provider" binding:"required"`
		APIKey         string         `json:"api_key"`
		EmbeddingModel string         `json:"embedding_model" binding:"required"`
		BaseURL        string         `json:"base_url"`
		Metadata       map[string]any `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.NewValidationError("body", err.Error()))
		return
	}

	provider, err := s.uc.Register(c.Request.Context(), &domain.ProviderConfig{
		Name:           req.Name,
		Kind:           domain.ProviderKind(req.Provider),
		APIKey:         req.APIKey,
		EmbeddingModel: req.EmbeddingModel,
		BaseURL:        req.BaseURL,
		Metadata:       req.Metadata,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, provider)
}

// List GET /v1/providers
func (s *ProviderService) List(c *gin.Context) {
	providers, err := s.uc.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers, "total": len(providers)})
}

// Get GET /v1/providers/:id
func (s *ProviderService) Get(c *gin.Context) {
	provider, err := s.uc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, provider)
}

// Delete DELETE /v1/providers/:id
func (s *ProviderService) Delete(c *gin.Context) {
	if err := s.uc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
