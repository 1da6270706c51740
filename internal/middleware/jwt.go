package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grader/internal/utils"
)

const tokenLeeway = 30 * time.Second

var (
	errMissingHeader = errors.New("authorization header missing")
	errInvalidHeader = errors.New("invalid authorization header")
	errInvalidToken  = errors.New("invalid token")
	errNoSubject     = errors.New("token has no subject")
)

// JWTProtected validates HMAC-signed bearer tokens and stores the caller's user id in
// the `user_id` local. Only the subject is read; roles are not interpreted.
func JWTProtected(secret string) fiber.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(tokenLeeway),
	)

	return func(c *fiber.Ctx) error {
		userID, err := authenticate(parser, key, c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}

func authenticate(parser *jwt.Parser, key []byte, authorization string) (uint, error) {
	if authorization == "" {
		return 0, errMissingHeader
	}

	const bearer = "bearer "
	if len(authorization) < len(bearer) || !strings.EqualFold(authorization[:len(bearer)], bearer) {
		return 0, errInvalidHeader
	}

	tokenString := strings.TrimSpace(authorization[len(bearer):])
	if tokenString == "" {
		return 0, errInvalidToken
	}

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil || !token.Valid {
		return 0, errInvalidToken
	}

	for _, claim := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[claim]; ok {
			if userID, err := parseUserID(value); err == nil && userID != 0 {
				return userID, nil
			}
		}
	}

	return 0, errNoSubject
}

func parseUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("invalid subject %v", v)
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, err
		}
		return uint(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported subject type %T", value)
	}
}
