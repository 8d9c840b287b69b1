package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"lingochat-backend/internal/domain"
	"lingochat-backend/pkg/constants"
)

// StaticSTUNServers are always offered ahead of the relay entries
var StaticSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Issuer mints time-limited TURN REST credentials. It keeps no state
// between calls; every call signs a fresh expiry.
type Issuer struct {
	secret string
	hosts  []string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. A zero ttl falls back to the default.
func NewIssuer(secret string, hosts []string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = constants.TurnCredentialTTL
	}
	return &Issuer{
		secret: secret,
		hosts:  hosts,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock replaces time.Now, for tests
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// GenerateCredentials returns the STUN entries plus one relay entry per
// configured host, each carrying a username of "<expiry>:<identity>" and
// its HMAC-SHA1 signature
func (i *Issuer) GenerateCredentials(identity string) []domain.IceServer {
	servers := []domain.IceServer{{URLs: append([]string(nil), StaticSTUNServers...)}}
	if len(i.hosts) == 0 {
		return servers
	}

	expiry := i.now().Add(i.ttl).Unix()
	username := fmt.Sprintf("%d:%s", expiry, identity)
	credential := Sign(i.secret, username)

	for _, host := range i.hosts {
		servers = append(servers, domain.IceServer{
			URLs:       relayURLs(host),
			Username:   username,
			Credential: credential,
		})
	}
	return servers
}

// IsConfigured reports whether relay hosts and a non-default secret are set
func (i *Issuer) IsConfigured() bool {
	return len(i.hosts) > 0 && i.secret != "" && i.secret != constants.DefaultTurnSecret
}

// TTL returns the credential lifetime
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Sign computes base64(HMAC-SHA1(secret, username)) as TURN servers
// expect for the REST credential scheme
func Sign(secret, username string) string {
	h := hmac.New(sha1.New, []byte(secret))
	h.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func relayURLs(host string) []string {
	if strings.HasPrefix(host, "turn:") || strings.HasPrefix(host, "turns:") {
		return []string{host}
	}
	return []string{
		"turn:" + host + "?transport=udp",
		"turn:" + host + "?transport=tcp",
	}
}
