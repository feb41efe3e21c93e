// Package identity issues anonymous identities. An identity is a random
// user ID carried in an HS256-signed JWT; it is not tied to any
// user-supplied credential.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuerName = "drive-docket"

// ErrInvalidToken is returned for tokens that do not verify.
var ErrInvalidToken = errors.New("invalid identity token")

// Identity is an anonymous user.
type Identity struct {
	UserID string `json:"uid"`
	Token  string `json:"token"`
}

// Issuer signs and verifies identity tokens.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// NewIssuer returns an Issuer signing with secret.
func NewIssuer(secret []byte) (*Issuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("identity secret must be at least 16 bytes")
	}
	return &Issuer{secret: secret, now: time.Now}, nil
}

// SignIn creates a new anonymous identity.
func (i *Issuer) SignIn() (Identity, error) {
	uid := uuid.NewString()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:   issuerName,
		Subject:  uid,
		IssuedAt: jwt.NewNumericDate(i.now()),
	})
	s, err := token.SignedString(i.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to sign identity token: %w", err)
	}
	return Identity{UserID: uid, Token: s}, nil
}

// Verify checks a token and returns the identity it carries.
func (i *Issuer) Verify(tokenString string) (Identity, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Token: tokenString}, nil
}

// LoadOrSignIn returns the identity stored at path, or signs in a new one
// and stores it there when the file is missing or no longer verifies.
func (i *Issuer) LoadOrSignIn(path string) (Identity, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id, err := i.Verify(strings.TrimSpace(string(data))); err == nil {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return Identity{}, fmt.Errorf("failed to read identity file: %w", err)
	}

	id, err := i.SignIn()
	if err != nil {
		return Identity{}, err
	}
	if err := writePrivate(path, []byte(id.Token)); err != nil {
		return Identity{}, fmt.Errorf("failed to save identity: %w", err)
	}
	return id, nil
}

// LoadOrCreateSecret reads the hex encoded secret at path, generating and
// saving a new random one if the file does not exist.
func LoadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		secret, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("corrupted identity secret %s: %w", path, err)
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity secret: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate identity secret: %w", err)
	}
	if err := writePrivate(path, []byte(hex.EncodeToString(secret))); err != nil {
		return nil, fmt.Errorf("failed to save identity secret: %w", err)
	}
	return secret, nil
}

// writePrivate writes data readable by the current user only.
func writePrivate(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
