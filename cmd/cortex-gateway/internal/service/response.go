package service

import (
	"errors"
	"net/http"

	"cortex/cmd/cortex-gateway/internal/domain"
	xerrors "cortex/pkg/errors"

	"github.com/gin-gonic/gin"
)

// errorBody 错误响应体
type errorBody struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// fail 统一错误出口
func fail(c *gin.Context, err error) {
	status, reason := httpStatus(err)
	c.JSON(status, errorBody{
		Code:    status,
		Reason:  reason,
		Message: err.Error(),
	})
}

// httpStatus 领域错误到HTTP状态码
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound),
		errors.Is(err, domain.ErrRecordNotFound),
		errors.Is(err, domain.ErrProviderNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrCollectionExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, domain.ErrProviderDisabled):
		return http.StatusConflict, "PROVIDER_DISABLED"
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusServiceUnavailable, "QUEUE_FULL"
	}

	if reason := xerrors.Reason(err); reason != "" {
		return xerrors.HTTPCode(err), reason
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}
