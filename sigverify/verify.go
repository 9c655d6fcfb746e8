// Package sigverify validates the HTTP Signature on inbound federation
// requests. It runs before the request body is trusted for anything else.
package sigverify

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/totegamma/httpsig"
	"go.opentelemetry.io/otel"

	"github.com/hotaru-social/hotaru/cache"
)

var tracer = otel.Tracer("sigverify")

// Authentication-class failures, mapped to 401 at the inbox boundary.
var (
	ErrMissingSignature   = errors.New("missing signature header")
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrKeyUnavailable     = errors.New("signing key unavailable")
	ErrBadSignature       = errors.New("signature mismatch")
)

// Repeated fetch storms from a misbehaving peer are absorbed by negative-
// caching key fetch failures for a short window.
const keyFailureTTL = 5 * time.Minute

// KeyResolver resolves the public key and actor URI owning a keyId.
type KeyResolver interface {
	PublicKey(ctx context.Context, keyID string) (*rsa.PublicKey, string, error)
}

// Verifier checks inbound request signatures against the claimed actor's key.
type Verifier struct {
	keys  KeyResolver
	cache cache.Cache
}

func NewVerifier(keys KeyResolver, c cache.Cache) *Verifier {
	return &Verifier{keys: keys, cache: c}
}

// Verify validates the Signature header of req and returns the verified
// actor's URI. The header is parsed before any network I/O so malformed
// requests are rejected without an actor fetch.
func (v *Verifier) Verify(ctx context.Context, req *http.Request) (string, error) {
	ctx, span := tracer.Start(ctx, "SigVerify")
	defer span.End()

	if req.Header.Get("Signature") == "" {
		return "", ErrMissingSignature
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", errors.Wrap(ErrMalformedSignature, err.Error())
	}
	keyID := verifier.KeyId()
	if keyID == "" {
		return "", ErrMalformedSignature
	}

	failKey := cache.Key("sigfail", keyID)
	if _, found := v.cache.Get(failKey); found {
		return "", errors.Wrap(ErrKeyUnavailable, "negative-cached")
	}

	pub, actorURI, err := v.keys.PublicKey(ctx, keyID)
	if err != nil {
		span.RecordError(err)
		v.cache.Set(failKey, []byte(err.Error()), keyFailureTTL)
		return "", errors.Wrap(ErrKeyUnavailable, err.Error())
	}

	if err := verifier.Verify(pub, httpsig.RSA_SHA256); err != nil {
		return "", errors.Wrap(ErrBadSignature, err.Error())
	}

	return actorURI, nil
}

// KeyOwner strips the key fragment off a keyId, yielding the actor URI.
func KeyOwner(keyID string) string {
	return strings.Split(keyID, "#")[0]
}

// IsAuthError reports whether err belongs to the authentication taxonomy.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrMalformedSignature) ||
		errors.Is(err, ErrKeyUnavailable) ||
		errors.Is(err, ErrBadSignature)
}
