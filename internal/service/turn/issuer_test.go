package turn

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingochat-backend/pkg/constants"
)

func TestGenerateCredentials_SignatureMatches(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	issuer := NewIssuer("s3cr3t", []string{"turn.example.com:3478"}, time.Hour).
		WithClock(func() time.Time { return now })

	servers := issuer.GenerateCredentials("user-1")

	require.Len(t, servers, 2)
	assert.Equal(t, StaticSTUNServers, servers[0].URLs)
	assert.Empty(t, servers[0].Username)

	relay := servers[1]
	assert.Equal(t, []string{
		"turn:turn.example.com:3478?transport=udp",
		"turn:turn.example.com:3478?transport=tcp",
	}, relay.URLs)
	assert.Equal(t, "1700003600:user-1", relay.Username)
	assert.Equal(t, Sign("s3cr3t", relay.Username), relay.Credential)
}

func TestGenerateCredentials_FreshPerCall(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	issuer := NewIssuer("s3cr3t", []string{"turn:relay.example.com"}, 0).
		WithClock(func() time.Time { return now })

	first := issuer.GenerateCredentials("anon:guest")
	now = now.Add(2 * time.Second)
	second := issuer.GenerateCredentials("anon:guest")

	assert.NotEqual(t, first[1].Username, second[1].Username)
	assert.NotEqual(t, first[1].Credential, second[1].Credential)

	expiry, err := strconv.ParseInt(strings.SplitN(second[1].Username, ":", 2)[0], 10, 64)
	require.NoError(t, err)
	assert.Equal(t, now.Add(constants.TurnCredentialTTL).Unix(), expiry)
	assert.Equal(t, []string{"turn:relay.example.com"}, second[1].URLs)
}

func TestGenerateCredentials_OneEntryPerHost(t *testing.T) {
	issuer := NewIssuer("s3cr3t", []string{"a.example:3478", "b.example:3478"}, time.Hour)

	servers := issuer.GenerateCredentials("user-2")

	require.Len(t, servers, 3)
	assert.Equal(t, servers[1].Username, servers[2].Username)
}

func TestGenerateCredentials_NoHostsOnlySTUN(t *testing.T) {
	servers := NewIssuer("s3cr3t", nil, time.Hour).GenerateCredentials("user-3")

	require.Len(t, servers, 1)
	assert.Equal(t, StaticSTUNServers, servers[0].URLs)
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, NewIssuer("s3cr3t", []string{"h"}, time.Hour).IsConfigured())
	assert.False(t, NewIssuer(constants.DefaultTurnSecret, []string{"h"}, time.Hour).IsConfigured())
	assert.False(t, NewIssuer("", []string{"h"}, time.Hour).IsConfigured())
	assert.False(t, NewIssuer("s3cr3t", nil, time.Hour).IsConfigured())
}

func TestSign_KnownVector(t *testing.T) {
	assert.Equal(t, "bjEG5jmu3SZmLv22wGfqFIJp0eo=", Sign("s3cr3t", "1700003600:user-1"))
}
