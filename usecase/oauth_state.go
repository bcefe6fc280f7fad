package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-sync/domain/model"
	"crm-sync/domain/repository"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

const MaxStateTTL = 10 * time.Minute

type stateClaims struct {
	OrganizationID string `json:"org"`
	Provider       string `json:"provider"`
	jwt.StandardClaims
}

// StateSigner issues and redeems the OAuth state parameter. Tokens are HS256
// JWTs bound to an organization and provider and can be redeemed once.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	nonces repository.IStateNonceStore
	now    func() time.Time
}

func NewStateSigner(secret string, ttl time.Duration, nonces repository.IStateNonceStore) (*StateSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("oauth state secret must be at least 16 bytes")
	}
	if ttl <= 0 || ttl > MaxStateTTL {
		ttl = MaxStateTTL
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, nonces: nonces, now: time.Now}, nil
}

func (s *StateSigner) Generate(organizationID string, provider model.Provider) (string, error) {
	if organizationID == "" {
		return "", errors.New("organization id required")
	}
	claims := stateClaims{
		OrganizationID: organizationID,
		Provider:       string(provider),
		StandardClaims: jwt.StandardClaims{
			Id:       uuid.NewString(),
			IssuedAt: s.now().Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks integrity and age of a state token and consumes its nonce.
// Every failure is reported as model.ErrInvalidState.
func (s *StateSigner) Verify(ctx context.Context, state string) (*model.OAuthState, error) {
	if state == "" {
		return nil, model.ErrInvalidState
	}
	var claims stateClaims
	parser := jwt.Parser{SkipClaimsValidation: true, ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	_, err := parser.ParseWithClaims(state, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidState, err)
	}
	if claims.OrganizationID == "" || claims.Provider == "" || claims.Id == "" || claims.IssuedAt == 0 {
		return nil, fmt.Errorf("%w: incomplete claims", model.ErrInvalidState)
	}

	issuedAt := time.Unix(claims.IssuedAt, 0)
	age := s.now().Sub(issuedAt)
	if age > s.ttl || age < -time.Minute {
		return nil, fmt.Errorf("%w: expired", model.ErrInvalidState)
	}

	if s.nonces != nil {
		fresh, err := s.nonces.Consume(ctx, claims.Id, s.ttl)
		if err != nil {
			return nil, fmt.Errorf("consuming oauth state: %w", err)
		}
		if !fresh {
			return nil, fmt.Errorf("%w: already used", model.ErrInvalidState)
		}
	}
	return &model.OAuthState{
		OrganizationID: claims.OrganizationID,
		Provider:       model.Provider(claims.Provider),
		Nonce:          claims.Id,
		IssuedAt:       issuedAt,
	}, nil
}
