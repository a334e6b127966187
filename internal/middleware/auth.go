package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// 角色取值
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// identityKey 是 Identity 在 gin.Context 中的键
const identityKey = "identity"

// Identity 是从 JWT 中解析出的调用者身份。
type Identity struct {
	UserID uint
	Role   string
	Name   string
	Avatar string
}

// IsTeacher 判断调用者是否为教师。
func (i Identity) IsTeacher() bool { return i.Role == RoleTeacher }

// ErrMissingAuthHeader 定义一个自定义错误，用于表示缺少 Authorization 头
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// Auth 返回一个 Gin 中间件，用于验证 JWT token 并把 Identity 写入上下文。
// 浏览器的 WebSocket 无法设置请求头，因此也接受 ?token= 查询参数。
func Auth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for Auth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Warn("Auth middleware: Missing Authorization header")
				abort(c, http.StatusUnauthorized, "unauthorized", "Authorization header is required")
			} else {
				logrus.Warnf("Auth middleware: Malformed token format: %v", err)
				abort(c, http.StatusUnauthorized, "unauthorized", "Invalid token format")
			}
			return
		}

		claims, err := validateToken(tokenStr, jwtSecret)
		if err != nil {
			logCtx := logrus.WithError(err)
			logCtx.Warn("Auth middleware: Invalid token")
			var validationError *jwt.ValidationError
			if errors.As(err, &validationError) && validationError.Errors&jwt.ValidationErrorExpired != 0 {
				logCtx.Warn("Reason: Token is expired")
			}
			abort(c, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
			return
		}

		identity, err := identityFromClaims(claims)
		if err != nil {
			logrus.WithError(err).Warn("Auth middleware: Invalid identity claims")
			abort(c, http.StatusUnauthorized, "unauthorized", "Token is missing identity claims")
			return
		}

		c.Set(identityKey, identity)
		logrus.WithFields(logrus.Fields{"user_id": identity.UserID, "role": identity.Role}).
			Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

// RequireRole 只允许指定角色继续处理请求。必须放在 Auth 之后。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "unauthorized", "User not authenticated")
			return
		}
		if identity.Role != role {
			logrus.WithFields(logrus.Fields{"user_id": identity.UserID, "role": identity.Role, "required": role}).
				Warn("Rejected request: role mismatch")
			abort(c, http.StatusForbidden, "forbidden", fmt.Sprintf("This action requires the %s role", role))
			return
		}
		c.Next()
	}
}

// CurrentIdentity 返回 Auth 中间件写入的调用者身份。
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}

// SetIdentity 将身份写入上下文，测试中用来跳过 JWT。
func SetIdentity(c *gin.Context, identity Identity) {
	c.Set(identityKey, identity)
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// extractToken 从 Authorization 头或 token 查询参数中提取 Bearer Token
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}

// validateToken 解析并验证 JWT token 字符串
func validateToken(tokenStr string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token or claims type")
}

// identityFromClaims 读取 user_id、role、name、avatar 声明。
// JWT 数字默认为 float64，需要安全转换为 uint
func identityFromClaims(claims jwt.MapClaims) (Identity, error) {
	userIDFloat, ok := claims["user_id"].(float64)
	if !ok || userIDFloat <= 0 || userIDFloat != float64(uint(userIDFloat)) {
		return Identity{}, fmt.Errorf("'user_id' claim is not a valid positive integer: %v", claims["user_id"])
	}
	role, _ := claims["role"].(string)
	if role != RoleTeacher && role != RoleStudent {
		return Identity{}, fmt.Errorf("'role' claim must be %q or %q, got %q", RoleTeacher, RoleStudent, role)
	}
	name, _ := claims["name"].(string)
	avatar, _ := claims["avatar"].(string)
	return Identity{UserID: uint(userIDFloat), Role: role, Name: name, Avatar: avatar}, nil
}
