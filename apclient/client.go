package apclient

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/totegamma/httpsig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hotaru-social/hotaru/types"
)

var (
	UserAgent = "Hotaru/1.0 (ActivityPub)"
)

var tracer = otel.Tracer("apclient")

// Delivery outcome classification. 4xx other than 429 means the peer told us
// the request is invalid; retrying would look like abuse.
var (
	ErrPermanentDelivery = errors.New("permanent delivery rejection")
	ErrTransientDelivery = errors.New("transient delivery failure")
)

const (
	fetchTimeout   = 10 * time.Second
	deliverTimeout = 30 * time.Second
)

// Signer identifies the key a request is signed with.
type Signer struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// Client performs all federation HTTP calls: actor fetches, WebFinger
// discovery and signed inbox deliveries. It holds no caching state.
type Client struct {
	fetch   *http.Client
	deliver *http.Client
}

func NewClient() *Client {
	return &Client{
		fetch:   &http.Client{Timeout: fetchTimeout},
		deliver: &http.Client{Timeout: deliverTimeout},
	}
}

// FetchActor fetches an actor document with ActivityPub content negotiation.
// The request is signed when a signer is supplied; some peers require it.
func (c *Client) FetchActor(ctx context.Context, actorURI string, signer *Signer) (*types.RawObject, error) {
	ctx, span := tracer.Start(ctx, "FetchActor")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, "GET", actorURI, nil)
	if err != nil {
		return nil, err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Host", req.URL.Host)

	if signer != nil {
		if err := signRequest(req, signer, nil); err != nil {
			return nil, err
		}
	}

	resp, err := c.fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("actor fetch %s: status %d", actorURI, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return types.ParseRawObject(body)
}

// WebFinger resolves user@host to the canonical actor URI via the rel=self
// link whose type is an ActivityPub content type.
func (c *Client) WebFinger(ctx context.Context, handle string) (string, error) {
	ctx, span := tracer.Start(ctx, "WebFinger")
	defer span.End()

	handle = strings.TrimPrefix(handle, "@")
	split := strings.Split(handle, "@")
	if len(split) != 2 {
		return "", errors.New("invalid handle")
	}
	host := split[1]

	target := "https://" + host + "/.well-known/webfinger?resource=acct:" + handle

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return "", err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.fetch.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var webfinger types.WebFinger
	err = json.Unmarshal(body, &webfinger)
	if err != nil {
		return "", errors.Wrap(err, "webfinger decode")
	}

	for _, link := range webfinger.Links {
		if link.Rel != "self" {
			continue
		}
		if strings.Contains(link.Type, "activity+json") ||
			strings.Contains(link.Type, "activitystreams") {
			return link.Href, nil
		}
	}

	return "", errors.New("no ap link found")
}

// PostToInbox signs and delivers an activity document to a remote inbox.
// 2xx is success. 4xx other than 429 returns ErrPermanentDelivery; 429, 5xx
// and transport failures return ErrTransientDelivery.
func (c *Client) PostToInbox(ctx context.Context, inbox string, body []byte, signer Signer) error {
	ctx, span := tracer.Start(ctx, "PostToInbox")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, "POST", inbox, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if err := signRequest(req, &signer, body); err != nil {
		return err
	}

	resp, err := c.deliver.Do(req)
	if err != nil {
		// DNS failure, connection refused, TLS failure, timeout.
		return errors.Wrapf(ErrTransientDelivery, "post %s: %v", inbox, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.Wrapf(ErrTransientDelivery, "post %s: status %d", inbox, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errors.Wrapf(ErrPermanentDelivery, "post %s: status %d", inbox, resp.StatusCode)
	default:
		return errors.Wrapf(ErrTransientDelivery, "post %s: status %d", inbox, resp.StatusCode)
	}
}

func signRequest(req *http.Request, signer *Signer, body []byte) error {
	prefs := []httpsig.Algorithm{httpsig.RSA_SHA256}
	digestAlgorithm := httpsig.DigestSha256
	headersToSign := []string{httpsig.RequestTarget, "date", "host"}
	if body != nil {
		headersToSign = append(headersToSign, "digest")
	}
	s, _, err := httpsig.NewSigner(prefs, digestAlgorithm, headersToSign, httpsig.Signature, 0)
	if err != nil {
		return err
	}
	return s.SignRequest(signer.PrivateKey, signer.KeyID, req, body)
}

// ParsePublicKey decodes a PEM-encoded RSA public key from an actor document.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Some implementations publish PKCS1 keys.
		if pkcs1, err1 := x509.ParsePKCS1PublicKey(block.Bytes); err1 == nil {
			return pkcs1, nil
		}
		return nil, errors.Wrap(err, "failed to parse public key")
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}
