package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenAuth はSaga内部APIを保護する静的トークン検証ミドルウェアを返す。
// Authorization: Token <credential> 形式のヘッダーを要求する。
// Sagaワーカーからの呼び出し以外を想定しないため、ユーザー単位の
// 認証は行わない。
func TokenAuth(credential string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if credential == "" {
			// 資格情報が未設定の場合は全リクエストを拒否する
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "内部APIの資格情報が設定されていません",
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(authHeader, "Token ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Token 形式のAuthorizationヘッダーが必要です",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(credential)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Next()
	}
}
