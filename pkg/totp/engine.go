package totp

import (
	"encoding/base32"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/otpkeep/otpkeep/pkg/models"
)

// Code is a generated one-time password together with the number of
// seconds it remains valid.
type Code struct {
	Value            string
	SecondsRemaining int
}

// Engine computes TOTP codes. It holds only immutable configuration, so a
// single instance is safe for concurrent use across accounts and refresh
// ticks.
type Engine struct {
	period uint
	digits otp.Digits
}

// NewEngine constructs an Engine.
//
// If digits is not 6 or 8, it falls back to 6 digits. If period is 0, it
// uses the common 30-second period.
func NewEngine(period, digits uint) *Engine {
	d := otp.DigitsSix
	if digits == 8 {
		d = otp.DigitsEight
	}

	if period == 0 {
		period = 30
	}

	return &Engine{
		period: period,
		digits: d,
	}
}

// Period returns the step length in seconds.
func (e *Engine) Period() uint {
	return e.period
}

// Compute returns the code for the step containing at, plus the seconds
// left until the step rolls over. Same secret and same step always yield
// the same code.
func (e *Engine) Compute(secretKey string, at time.Time) (Code, error) {
	secret, err := e.ValidateSecret(secretKey)
	if err != nil {
		return Code{}, err
	}

	value, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    e.period,
		Skew:      0,
		Digits:    e.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return Code{}, fmt.Errorf("%w: %v", models.ErrInvalidSecret, err)
	}

	return Code{
		Value:            value,
		SecondsRemaining: e.secondsRemaining(at),
	}, nil
}

// ValidateSecret checks that the secret is well-formed base32 and returns
// its normalized form (upper-case, no spaces, no padding). This is the
// single validation point shared by the store and the import path.
func (e *Engine) ValidateSecret(secretKey string) (string, error) {
	secret := models.NormalizeSecret(secretKey)
	if secret == "" {
		return "", fmt.Errorf("%w: empty", models.ErrInvalidSecret)
	}

	if _, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidSecret, err)
	}

	return secret, nil
}

// secondsRemaining is period - (unix mod period), always in [1, period].
// At an exact step boundary a fresh step has just begun, so the full
// period is reported.
func (e *Engine) secondsRemaining(at time.Time) int {
	period := int64(e.period)
	return int(period - at.Unix()%period)
}
