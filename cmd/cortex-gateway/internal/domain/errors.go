package domain

import (
	"errors"
	"fmt"

	xerrors "cortex/pkg/errors"
)

var (
	// Collection errors
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")

	// Record errors
	ErrRecordNotFound = errors.New("record not found")

	// Provider errors
	ErrProviderNotFound = errors.New("embedding provider not found")
	ErrProviderDisabled = errors.New("embedding provider is disabled")

	// Dispatcher errors
	ErrQueueFull = errors.New("vectorization queue is full")
)

// NewSchemaError schema草案不合法，同步立即返回
func NewSchemaError(msg string) error {
	return xerrors.SchemaInvalid(msg)
}

// NewValidationError 负载不合法，在触碰任何存储之前拒绝
func NewValidationError(field, msg string) error {
	return xerrors.ValidationFailed(fmt.Sprintf("field %s: %s", field, msg))
}

// NewFilterError 过滤表达式不合法，编译期快速失败
func NewFilterError(msg string) error {
	return xerrors.FilterInvalid(msg)
}

// NewDuplicateKeyError 唯一约束冲突
func NewDuplicateKeyError(field string) error {
	return xerrors.DuplicateKey(fmt.Sprintf("unique constraint violated on field %s", field))
}

// NewCommitError 部分写入已被补偿，存储回到写前状态
func NewCommitError(stage string, cause error) error {
	return xerrors.CommitFailed(fmt.Sprintf("commit failed at %s: %v", stage, cause))
}

// NewSearchUnavailable 语义检索不可用，绝不静默降级为仅过滤
func NewSearchUnavailable(cause error) error {
	return xerrors.SearchUnavailable(fmt.Sprintf("semantic search unavailable: %v", cause))
}

// IsSchemaError 判断是否为schema校验错误
func IsSchemaError(err error) bool {
	return xerrors.Reason(err) == xerrors.ReasonSchemaInvalid
}

// IsValidationError 判断是否为负载校验错误
func IsValidationError(err error) bool {
	return xerrors.Reason(err) == xerrors.ReasonValidationFailed
}

// IsDuplicateKey 判断是否为唯一约束冲突
func IsDuplicateKey(err error) bool {
	return xerrors.Reason(err) == xerrors.ReasonDuplicateKey
}
