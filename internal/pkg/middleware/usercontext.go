package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ManuelReschke/LeadLedger/internal/pkg/usercontext"
)

var errMissingToken = errors.New("missing bearer token")

// Claims is the payload of the access tokens issued by the account service.
// OwnerID is set for team members; they spend from the owner's wallet.
type Claims struct {
	AccountID uint   `json:"account_id"`
	OwnerID   *uint  `json:"owner_id,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// BillingAccountID returns the account whose Subscriber the token holder uses.
func (c *Claims) BillingAccountID() uint {
	if c.OwnerID != nil && *c.OwnerID != 0 {
		return *c.OwnerID
	}
	return c.AccountID
}

// AccountContextMiddleware resolves the bearer token into an AccountContext for
// every request. Requests without a valid token continue as anonymous; the
// Require* guards decide whether that is acceptable.
func AccountContextMiddleware(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := ParseToken(secret, bearerToken(c))
		if err != nil {
			if !errors.Is(err, errMissingToken) {
				log.Debugf("[Auth] Rejected token: %v", err)
			}
			usercontext.Set(c, usercontext.AccountContext{})
			return c.Next()
		}

		usercontext.Set(c, usercontext.AccountContext{
			AccountID:        claims.AccountID,
			BillingAccountID: claims.BillingAccountID(),
			Role:             claims.Role,
			IsAuthenticated:  true,
			IsAdmin:          claims.Role == usercontext.RoleAdmin,
		})
		return c.Next()
	}
}

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(secret []byte, raw string) (*Claims, error) {
	if raw == "" {
		return nil, errMissingToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.AccountID == 0 {
		return nil, errors.New("token carries no account")
	}
	return claims, nil
}

func bearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
