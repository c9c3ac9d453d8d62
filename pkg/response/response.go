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
	CodeValidationFailed    = 1001 // 预检未通过（借贷不平/余额变负/恒等式破坏），违规明细在 data 里
	CodeEntryNotFound       = 1002
	CodeEntryStatusInvalid  = 1003
	CodeAccountNotFound     = 1004
	CodeDuplicateRequest    = 1005
	CodeConcurrencyConflict = 1006 // 乐观锁冲突，调用方可透明重试
	CodeIntegrityViolation  = 1007 // 审计链/证明验证失败，运维事件，不是临时错误
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

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}

// ErrorWithData 带数据的业务错误（预检失败时携带违规明细）
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}
