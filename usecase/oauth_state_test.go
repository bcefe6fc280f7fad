package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"crm-sync/domain/model"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStateSecret = "state-secret-for-tests-0123456789"

func newTestSigner(t *testing.T) (*StateSigner, *time.Time) {
	t.Helper()
	s, err := NewStateSigner(testStateSecret, 10*time.Minute, &memNonces{})
	require.NoError(t, err)
	now := testNow
	s.now = func() time.Time { return now }
	return s, &now
}

func TestStateSigner_RoundTrip(t *testing.T) {
	s, _ := newTestSigner(t)
	token, err := s.Generate("org-1", model.ProviderHubSpot)
	require.NoError(t, err)

	st, err := s.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "org-1", st.OrganizationID)
	assert.Equal(t, model.ProviderHubSpot, st.Provider)
	assert.NotEmpty(t, st.Nonce)
}

func TestStateSigner_SingleUse(t *testing.T) {
	s, _ := newTestSigner(t)
	token, err := s.Generate("org-1", model.ProviderAttio)
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), token)
	require.NoError(t, err)
	_, err = s.Verify(context.Background(), token)
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestStateSigner_Expired(t *testing.T) {
	s, now := newTestSigner(t)
	token, err := s.Generate("org-1", model.ProviderSalesforce)
	require.NoError(t, err)

	*now = now.Add(11 * time.Minute)
	_, err = s.Verify(context.Background(), token)
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestStateSigner_Tampered(t *testing.T) {
	s, _ := newTestSigner(t)
	token, err := s.Generate("org-1", model.ProviderHubSpot)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		OrganizationID: "org-evil",
		Provider:       "hubspot",
		StandardClaims: jwt.StandardClaims{Id: "x", IssuedAt: testNow.Unix()},
	}).SignedString([]byte("some-other-secret-entirely"))
	require.NoError(t, err)

	tests := []string{
		parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2])),
		forged,
		"not-a-token",
		"",
	}
	for _, bad := range tests {
		_, err := s.Verify(context.Background(), bad)
		require.ErrorIs(t, err, model.ErrInvalidState)
	}
}

func TestStateSigner_RejectsNoneAlgorithm(t *testing.T) {
	s, _ := newTestSigner(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, stateClaims{
		OrganizationID: "org-1",
		Provider:       "hubspot",
		StandardClaims: jwt.StandardClaims{Id: "n", IssuedAt: testNow.Unix()},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), token)
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestNewStateSigner_CapsTTLAndRequiresSecret(t *testing.T) {
	_, err := NewStateSigner("short", time.Minute, nil)
	require.Error(t, err)

	s, err := NewStateSigner(testStateSecret, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, MaxStateTTL, s.ttl)
}
