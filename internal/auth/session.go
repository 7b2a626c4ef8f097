package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session token errors. Decode never reports signature/claim details to the
// caller beyond this split; anything that is not an expiry is ErrTokenInvalid.
var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Claims is the session claim set minted after password login or a verified
// LTI launch. LTIMode/LTICourseID carry the launch context into the SPA.
type Claims struct {
	UserID      string `json:"uid"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	LTIMode     bool   `json:"lti_mode,omitempty"`
	LTICourseID int64  `json:"lti_course_id,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens with a shared HMAC secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the clock (tests).
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Encode mints a compact signed token. Issuer/iat/exp are filled in here;
// callers only set the identity fields.
func (c *Codec) Encode(cl Claims) (string, error) {
	now := c.now()
	cl.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    "learnspace",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &cl)
	return t.SignedString(c.secret)
}

// Decode verifies signature, algorithm and expiry. Expiry is always enforced
// relative to the codec clock.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	cl, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return cl, nil
}
