package http

import (
	"net/http"

	"exam-coordinator/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// requireIdentity 读取 Auth 中间件写入的身份，缺失时写入 401 响应。
func requireIdentity(c *gin.Context) (middleware.Identity, bool) {
	identity, ok := middleware.CurrentIdentity(c)
	if !ok {
		logrus.WithField("path", c.FullPath()).Warn("Identity not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
		return middleware.Identity{}, false
	}
	return identity, true
}
