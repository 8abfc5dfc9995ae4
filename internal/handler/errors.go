package handler

import (
	"errors"

	"dairyrun/internal/repository"
	"dairyrun/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var errorCodes = []struct {
	err  error
	code int
}{
	{repository.ErrInsufficientFunds, response.CodeInsufficientFunds},
	{repository.ErrInvalidTransition, response.CodeInvalidTransition},
	{repository.ErrUserNotFound, response.CodeUserNotFound},
	{repository.ErrSubscriptionNotFound, response.CodeSubscriptionNotFound},
	{repository.ErrWalletNotFound, response.CodeWalletNotFound},
	{repository.ErrProductNotFound, response.CodeProductNotFound},
	{repository.ErrProductUnavailable, response.CodeProductUnavailable},
	{repository.ErrInvalidAmount, response.CodeInvalidAmount},
	{repository.ErrOptimisticLock, response.CodeConcurrentUpdate},
	{repository.ErrInvalidArgument, response.CodeParamError},
	{repository.ErrForbidden, response.CodeForbidden},
	{repository.ErrStoreUnavailable, response.CodeStoreUnavailable},
}

func errorCode(err error) int {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return response.CodeServerError
}

// writeError maps a service error to its response code. Store failures are
// logged with their cause and reported to the client without it.
func writeError(c *gin.Context, err error) {
	code := errorCode(err)
	switch code {
	case response.CodeStoreUnavailable:
		requestLogger(c).WithError(err).Error("store unavailable")
		response.Error(c, code, "service temporarily unavailable, retry later")
	case response.CodeServerError:
		requestLogger(c).WithError(err).Error("unexpected error")
		response.ServerError(c, "internal server error")
	default:
		response.Error(c, code, err.Error())
	}
}

func requestLogger(c *gin.Context) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
		"path":       c.FullPath(),
	})
}
