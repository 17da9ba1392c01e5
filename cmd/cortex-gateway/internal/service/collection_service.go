package service

import (
	"net/http"

	"cortex/cmd/cortex-gateway/internal/biz"
	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
)

// CollectionService 集合管理HTTP入口
type CollectionService struct {
	uc  *biz.CollectionUsecase
	log *log.Helper
}

// NewCollectionService 创建集合服务
func NewCollectionService(uc *biz.CollectionUsecase, logger log.Logger) *CollectionService {
	return &CollectionService{uc: uc, log: log.NewHelper(logger)}
}

// Create POST /v1/collections
// 请求体即schema草案（JSON或YAML）
func (s *CollectionService) Create(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		fail(c, domain.NewSchemaError("failed to read request body"))
		return
	}

	draft, err := domain.ParseSchema(body)
	if err != nil {
		fail(c, err)
		return
	}

	schema, err := s.uc.Create(c.Request.Context(), draft)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, schema)
}

// List GET /v1/collections
func (s *CollectionService) List(c *gin.Context) {
	schemas, err := s.uc.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": schemas, "total": len(schemas)})
}

// Get GET /v1/collections/:name
func (s *CollectionService) Get(c *gin.Context) {
	schema, err := s.uc.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

// Extend POST /v1/collections/:name/fields
func (s *CollectionService) Extend(c *gin.Context) {
	var req struct {
		Fields []domain.FieldDefinition `json:"fields" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.NewSchemaError("invalid extension request: "+err.Error()))
		return
	}

	schema, err := s.uc.Extend(c.Request.Context(), c.Param("name"), req.Fields)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, schema)
}

// Delete DELETE /v1/collections/:name
func (s *CollectionService) Delete(c *gin.Context) {
	if err := s.uc.Delete(c.Request.Context(), c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
