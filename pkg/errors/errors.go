package errors

import (
	"github.com/go-kratos/kratos/v2/errors"
)

// 错误reason规范：
// - 校验类错误（schema、payload、filter）同步返回 4xx
// - 提交类错误已补偿，存储处于写前一致状态
// - 向量化错误按字段记录，不影响原始写入
const (
	ReasonSchemaInvalid     = "SCHEMA_INVALID"
	ReasonValidationFailed  = "VALIDATION_FAILED"
	ReasonFilterInvalid     = "FILTER_INVALID"
	ReasonDuplicateKey      = "DUPLICATE_KEY"
	ReasonCommitFailed      = "COMMIT_FAILED"
	ReasonExtractionFailed  = "EXTRACTION_FAILED"
	ReasonEmbeddingFailed   = "EMBEDDING_FAILED"
	ReasonSearchUnavailable = "SEARCH_UNAVAILABLE"
	ReasonNotFound          = "NOT_FOUND"
	ReasonInternal          = "INTERNAL_ERROR"
)

// SchemaInvalid schema草案不合法
func SchemaInvalid(message string) *errors.Error {
	return errors.BadRequest(ReasonSchemaInvalid, message)
}

// ValidationFailed 记录负载不合法
func ValidationFailed(message string) *errors.Error {
	return errors.New(422, ReasonValidationFailed, message)
}

// FilterInvalid 过滤表达式不合法
func FilterInvalid(message string) *errors.Error {
	return errors.BadRequest(ReasonFilterInvalid, message)
}

// DuplicateKey 唯一约束冲突
func DuplicateKey(message string) *errors.Error {
	return errors.Conflict(ReasonDuplicateKey, message)
}

// CommitFailed 跨存储提交失败（已补偿）
func CommitFailed(message string) *errors.Error {
	return errors.InternalServer(ReasonCommitFailed, message)
}

// ExtractionFailed 内容提取失败
func ExtractionFailed(message string) *errors.Error {
	return errors.InternalServer(ReasonExtractionFailed, message)
}

// EmbeddingFailed 向量化失败
func EmbeddingFailed(message string) *errors.Error {
	return errors.InternalServer(ReasonEmbeddingFailed, message)
}

// SearchUnavailable 语义检索不可用
func SearchUnavailable(message string) *errors.Error {
	return errors.ServiceUnavailable(ReasonSearchUnavailable, message)
}

// NotFound 资源不存在
func NotFound(message string) *errors.Error {
	return errors.NotFound(ReasonNotFound, message)
}

// Internal 其余内部错误
func Internal(message string) *errors.Error {
	return errors.InternalServer(ReasonInternal, message)
}

// Reason 提取错误reason，非kratos错误返回空串
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return errors.FromError(err).Reason
}

// HTTPCode 提取HTTP状态码，非kratos错误归为500
func HTTPCode(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.FromError(err).Code)
}
