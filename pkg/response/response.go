package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

const (
	CodeInsufficientFunds    = 1001
	CodeInvalidTransition    = 1002
	CodeUserNotFound         = 1003
	CodeSubscriptionNotFound = 1004
	CodeWalletNotFound       = 1005
	CodeProductNotFound      = 1006
	CodeProductUnavailable   = 1007
	CodeInvalidAmount        = 1008
	CodeConcurrentUpdate     = 1009
	CodeStoreUnavailable     = 1010
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error writes an error body. The HTTP status follows the code so that
// clients which only look at the status still see the failure class.
func Error(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(HTTPStatus(code), Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, CodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, CodeForbidden, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func HTTPStatus(code int) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeParamError, CodeInvalidAmount:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeUserNotFound, CodeSubscriptionNotFound, CodeWalletNotFound, CodeProductNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeConcurrentUpdate:
		return http.StatusConflict
	case CodeInsufficientFunds, CodeProductUnavailable, CodeBusinessError:
		return http.StatusUnprocessableEntity
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
