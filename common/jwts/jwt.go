package jwts

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type CustomClaims struct {
	UserID string `json:"userID"`
	jwt.RegisteredClaims
}

func GetToken(claims *CustomClaims, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken 校验 token 并返回其中的 userID
func ParseToken(token, secret string) (string, error) {
	parse, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := parse.Claims.(jwt.MapClaims); ok && parse.Valid {
		return fmt.Sprintf("%v", claims["userID"]), nil
	}
	return "", errors.New("token not valid")
}

// Verifier 外部认证的抽象，引擎侧只消费稳定的 userID
type Verifier interface {
	Verify(token string) (userID string, err error)
}

type HmacVerifier struct {
	Secret string
}

func (v HmacVerifier) Verify(token string) (string, error) {
	return ParseToken(token, v.Secret)
}
