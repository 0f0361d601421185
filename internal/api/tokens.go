package api

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidLink = errors.New("invalid or expired download link")

// LinkSigner issues short-lived download tokens bound to one export.
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewLinkSigner(secret string, ttl time.Duration) *LinkSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &LinkSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token for exportID and the time it stops being accepted.
func (s *LinkSigner) Sign(exportID string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl).Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Subject:   exportID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download link: %w", err)
	}
	return token, exp, nil
}

// Verify checks that token is valid, unexpired and issued for exportID.
func (s *LinkSigner) Verify(token, exportID string) error {
	if token == "" {
		return ErrInvalidLink
	}
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(exportID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	return nil
}

// URL builds the relative download path for exportID.
func (s *LinkSigner) URL(exportID string) (string, time.Time, error) {
	token, exp, err := s.Sign(exportID)
	if err != nil {
		return "", time.Time{}, err
	}
	return "/downloads/" + url.PathEscape(exportID) + "?token=" + url.QueryEscape(token), exp, nil
}
