package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer       = "campus-sso"
	defaultAudience     = "campusfound"
	defaultLeeway       = 30 * time.Second
	defaultJWKSCacheTTL = 5 * time.Minute
)

var errUnknownKey = errors.New("unknown token key")

// Profile is the caller identity extracted from a verified access token.
// This is the only source of user ids the application trusts.
type Profile struct {
	ID      string
	Email   string
	Name    string
	Picture string
}

type profileClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// Config configures access-token verification against the campus identity
// provider.
type Config struct {
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Resolver validates RS256 access tokens against the provider's JWKS and
// yields the caller's profile. Keys are cached and refreshed on rotation.
type Resolver struct {
	issuer     string
	audience   string
	leeway     time.Duration
	jwksURL    string
	httpClient *http.Client

	mu         sync.RWMutex
	rsaKeys    map[string]*rsa.PublicKey
	keysExpire time.Time
}

// NewResolver creates a resolver and primes its key cache.
func NewResolver(cfg Config) (*Resolver, error) {
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("identity resolver requires jwksURL")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}

	r := &Resolver{
		issuer:     issuer,
		audience:   audience,
		leeway:     leeway,
		jwksURL:    jwksURL,
		httpClient: httpClient,
	}
	if err := r.refreshKeys(); err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve validates the token and returns the caller's profile.
func (r *Resolver) Resolve(token string) (Profile, error) {
	claims, err := r.parse(token)
	if errors.Is(err, errUnknownKey) || (err != nil && r.keysExpired()) {
		// Provider may have rotated keys since the last fetch.
		if refreshErr := r.refreshKeys(); refreshErr != nil {
			return Profile{}, refreshErr
		}
		claims, err = r.parse(token)
	}
	if err != nil {
		return Profile{}, err
	}
	id := strings.TrimSpace(claims.Subject)
	if id == "" {
		return Profile{}, errors.New("token subject missing")
	}
	return Profile{
		ID:      id,
		Email:   strings.TrimSpace(claims.Email),
		Name:    strings.TrimSpace(claims.Name),
		Picture: strings.TrimSpace(claims.Picture),
	}, nil
}

func (r *Resolver) parse(token string) (profileClaims, error) {
	claims := profileClaims{}
	keys := r.copyKeys()
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(r.issuer),
		jwt.WithAudience(r.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(r.leeway),
	)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	return claims, nil
}

func (r *Resolver) keysExpired() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Now().UTC().After(r.keysExpire)
}

func (r *Resolver) copyKeys() map[string]*rsa.PublicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*rsa.PublicKey, len(r.rsaKeys))
	for kid, key := range r.rsaKeys {
		out[kid] = key
	}
	return out
}

func (r *Resolver) refreshKeys() error {
	resp, err := r.httpClient.Get(r.jwksURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if !strings.EqualFold(strings.TrimSpace(k.Kty), "RSA") {
			continue
		}
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	r.mu.Lock()
	r.rsaKeys = keys
	r.keysExpire = time.Now().UTC().Add(defaultJWKSCacheTTL)
	r.mu.Unlock()
	return nil
}

func parseRSAPublicKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	eBig := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !eBig.IsInt64() {
		return nil, errors.New("invalid rsa key")
	}
	e := int(eBig.Int64())
	if e <= 0 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}
