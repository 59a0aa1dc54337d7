package middleware

import (
	"time"

	"github.com/Kshitijknk07/CicadaCI/internal/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const userRoleKey = "userRole"

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateJWT(userRole string) (string, error) {
	cfg := common.GetConfig()
	expirationTime := time.Now().Add(cfg.JWTExpire)
	claims := &Claims{
		Role: userRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "cicada",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTKey))
}

// JWTAuthMiddleware rejects requests without a valid bearer token. Tokens in
// the last quarter of their lifetime are renewed through the Authorization
// response header.
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := common.GetAuthorizationToken(c.GetHeader("Authorization"))
		if err != nil {
			common.Error(c, common.NewErrNo(common.TokenInvalid))
			c.Abort()
			return
		}

		cfg := common.GetConfig()
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTKey), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

		if err != nil || !token.Valid || claims.ExpiresAt == nil {
			common.Error(c, common.NewErrNo(common.TokenInvalid))
			c.Abort()
			return
		}

		if time.Until(claims.ExpiresAt.Time) < cfg.JWTExpire/4 {
			newToken, err := GenerateJWT(claims.Role)
			if err != nil {
				common.Error(c, common.NewErrNo(common.TokenInvalid))
				c.Abort()
				return
			}
			c.Header("Authorization", "Bearer "+newToken)
		}
		c.Set(userRoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole lets the request through only when the authenticated role is one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(userRoleKey)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		common.Error(c, common.NewErrNo(common.PermissionDenied))
		c.Abort()
	}
}

func UserRole(c *gin.Context) string {
	return c.GetString(userRoleKey)
}
