package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/goHook/nonce"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the algorithm used to sign nonce values.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// Config defines the signing keys and claim checks of a Manager.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Manager encodes nonce records as signed compact JWTs and implements
// nonce.Codec.
//
// Expiry is carried in the token but not enforced here: the store decides
// between Valid and Expired so the outcome is reported the same way as for
// opaque values.
type Manager struct {
	config Config
}

var _ nonce.Codec = (*Manager)(nil)

// NonceClaims is the payload of a signed nonce value.
type NonceClaims struct {
	Purpose string `json:"pur"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
//
// NewManager may return an error when the signing method is unknown or the keys cannot be parsed.
func NewManager(cfg Config) (*Manager, error) {
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// Encode signs rec into a compact JWT whose jti is the record id.
//
// Encode fails when the Manager was built without a private key.
func (j *Manager) Encode(rec nonce.Record) (string, error) {
	claims := NonceClaims{
		Purpose: rec.Purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rec.ID,
			IssuedAt:  jwt.NewNumericDate(rec.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(rec.ExpiresAt),
			Issuer:    j.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// Decode verifies the signature of value and returns the record id it carries.
func (j *Manager) Decode(value string) (string, error) {
	claims, err := j.Parse(value)
	if err != nil {
		return "", err
	}
	return claims.ID, nil
}

// Parse verifies value and returns its claims. Time-based claims are not
// validated.
func (j *Manager) Parse(value string) (*NonceClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithoutClaimsValidation(),
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(value, &NonceClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(j.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := j.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return j.keyBytesToVerifyKey(key)
		}

		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}

		return j.getVerifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*NonceClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	// WithoutClaimsValidation also skips the issuer check.
	if j.config.Issuer != "" && claims.Issuer != j.config.Issuer {
		return nil, jwt.ErrTokenInvalidIssuer
	}
	if claims.ID == "" {
		return nil, errors.New("missing jti")
	}

	return claims, nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		if len(j.config.PrivateKey) == 0 {
			return nil, errors.New("ed25519 private key not configured")
		}
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
