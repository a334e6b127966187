package http

import "github.com/gin-gonic/gin"

// ErrorBody 是所有错误响应的结构，code 为稳定的机器可读标识。
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ErrorResponse(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": ErrorBody{Code: code, Message: message}})
}

func SuccessResponse(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
