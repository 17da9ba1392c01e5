package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cortex/cmd/cortex-gateway/internal/biz"
	"cortex/cmd/cortex-gateway/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
)

// RecordService 记录读写HTTP入口
type RecordService struct {
	uc             *biz.RecordUsecase
	maxUploadBytes int64
	log            *log.Helper
}

// NewRecordService 创建记录服务
func NewRecordService(uc *biz.RecordUsecase, maxUploadBytes int64, logger log.Logger) *RecordService {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 64 << 20
	}
	return &RecordService{uc: uc, maxUploadBytes: maxUploadBytes, log: log.NewHelper(logger)}
}

// Create POST /v1/collections/:name/records
// JSON负载直接作为记录；multipart时record部分带JSON，其余文件部分按字段名挂载
func (s *RecordService) Create(c *gin.Context) {
	payload, err := s.parsePayload(c)
	if err != nil {
		fail(c, err)
		return
	}

	record, err := s.uc.Create(c.Request.Context(), c.Param("name"), payload)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

// Get GET /v1/collections/:name/records/:id
func (s *RecordService) Get(c *gin.Context) {
	record, err := s.uc.Get(c.Request.Context(), c.Param("name"), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Update PATCH /v1/collections/:name/records/:id
func (s *RecordService) Update(c *gin.Context) {
	payload, err := s.parsePayload(c)
	if err != nil {
		fail(c, err)
		return
	}

	record, err := s.uc.Update(c.Request.Context(), c.Param("name"), c.Param("id"), payload)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Delete DELETE /v1/collections/:name/records/:id
func (s *RecordService) Delete(c *gin.Context) {
	if err := s.uc.Delete(c.Request.Context(), c.Param("name"), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Query POST /v1/collections/:name/query
func (s *RecordService) Query(c *gin.Context) {
	var req struct {
		Filters map[string]any `json:"filters"`
		Limit   int            `json:"limit"`
		Offset  int            `json:"offset"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.NewFilterError("invalid query request: "+err.Error()))
		return
	}

	records, err := s.uc.Query(c.Request.Context(), c.Param("name"), req.Filters, req.Limit, req.Offset)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"limit":   req.Limit,
		"offset":  req.Offset,
	})
}

// Search POST /v1/collections/:name/search
func (s *RecordService) Search(c *gin.Context) {
	var req struct {
		Query   string         `json:"query" binding:"required"`
		Filters map[string]any `json:"filters"`
		Limit   int            `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.NewFilterError("invalid search request: "+err.Error()))
		return
	}

	ranked, err := s.uc.Search(c.Request.Context(), c.Param("name"), req.Filters, req.Query, req.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ranked)
}

// Vectors GET /v1/collections/:name/records/:id/vectors
func (s *RecordService) Vectors(c *gin.Context) {
	points, err := s.uc.ListVectors(c.Request.Context(), c.Param("name"), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	type pointView struct {
		ID         string `json:"id"`
		Field      string `json:"field"`
		ChunkIndex int    `json:"chunk_index"`
		Text       string `json:"text"`
	}
	views := make([]pointView, 0, len(points))
	for _, p := range points {
		views = append(views, pointView{ID: p.ID, Field: p.Field, ChunkIndex: p.ChunkIndex, Text: p.Text})
	}
	c.JSON(http.StatusOK, gin.H{"points": views, "total": len(views)})
}

// parsePayload 解析记录负载，JSON与multipart两种形态
func (s *RecordService) parsePayload(c *gin.Context) (map[string]any, error) {
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		return s.parseMultipart(c)
	}

	var payload map[string]any
	decoder := json.NewDecoder(io.LimitReader(c.Request.Body, s.maxUploadBytes))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return nil, domain.NewValidationError("body", "invalid JSON payload: "+err.Error())
	}
	return normalizeNumbers(payload), nil
}

// parseMultipart record部分承载标量字段，文件部分按字段名挂载
func (s *RecordService) parseMultipart(c *gin.Context) (map[string]any, error) {
	if err := c.Request.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return nil, domain.NewValidationError("body", "invalid multipart form: "+err.Error())
	}

	payload := map[string]any{}
	if raw := c.Request.FormValue("record"); raw != "" {
		decoder := json.NewDecoder(strings.NewReader(raw))
		decoder.UseNumber()
		if err := decoder.Decode(&payload); err != nil {
			return nil, domain.NewValidationError("record", "invalid JSON in record part: "+err.Error())
		}
		payload = normalizeNumbers(payload)
	}

	for field, headers := range c.Request.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		header := headers[0]
		file, err := header.Open()
		if err != nil {
			return nil, domain.NewValidationError(field, "failed to open uploaded file")
		}
		data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes))
		file.Close()
		if err != nil {
			return nil, domain.NewValidationError(field, "failed to read uploaded file")
		}
		payload[field] = domain.FileInput{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		}
	}
	return payload, nil
}

// normalizeNumbers json.Number转原生数值，整数优先
func normalizeNumbers(value map[string]any) map[string]any {
	for k, v := range value {
		value[k] = normalizeNumber(v)
	}
	return value
}

func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		return normalizeNumbers(t)
	case []any:
		for i, item := range t {
			t[i] = normalizeNumber(item)
		}
		return t
	default:
		return v
	}
}
