package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/eujuliu/email-serverless/internal/apperr"
)

const claimsKey = "claims"

// Claims is the decoded identity the handlers trust.
type Claims struct {
	UserID string
	Email  string
}

// Auth decodes the bearer token and injects the claims. Anything beyond
// signature verification is out of scope; handlers only trust UserID.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer"))
		if raw == "" {
			abortWithError(c, apperr.Unauthorized(""))
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			abortWithError(c, apperr.Unauthorized(""))
			return
		}

		mapClaims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			abortWithError(c, apperr.Unauthorized(""))
			return
		}

		userID, _ := mapClaims["userId"].(string)
		email, _ := mapClaims["email"].(string)
		if userID == "" {
			abortWithError(c, apperr.Unauthorized(""))
			return
		}

		c.Set(claimsKey, Claims{UserID: userID, Email: email})
		c.Next()
	}
}

func claimsFrom(c *gin.Context) Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(Claims)
	return claims
}

func abortWithError(c *gin.Context, err *apperr.Error) {
	c.AbortWithStatusJSON(err.HTTPStatus(), gin.H{"error": err.Message})
}
