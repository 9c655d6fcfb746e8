package apclient

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return Signer{
		KeyID:      "https://hotaru.example/users/alice#main-key",
		PrivateKey: key,
	}
}

func TestPostToInboxSignsRequest(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient()
	err := client.PostToInbox(context.Background(), server.URL+"/inbox", []byte(`{}`), testSigner(t))
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Contains(t, got.Header.Get("Signature"), "keyId=")
	assert.Contains(t, got.Header.Get("Signature"), "digest")
	assert.NotEmpty(t, got.Header.Get("Digest"))
	assert.Equal(t, "application/activity+json", got.Header.Get("Content-Type"))
}

func TestPostToInboxClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		permanent bool
		transient bool
	}{
		{"created", 201, false, false},
		{"gone", 410, true, false},
		{"forbidden", 403, true, false},
		{"rate limited", 429, false, true},
		{"server error", 503, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client := NewClient()
			err := client.PostToInbox(context.Background(), server.URL+"/inbox", []byte(`{}`), testSigner(t))

			assert.Equal(t, tc.permanent, errors.Is(err, ErrPermanentDelivery))
			assert.Equal(t, tc.transient, errors.Is(err, ErrTransientDelivery))
			if !tc.permanent && !tc.transient {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPostToInboxUnreachableHostIsTransient(t *testing.T) {
	client := NewClient()
	err := client.PostToInbox(context.Background(), "http://127.0.0.1:1/inbox", []byte(`{}`), testSigner(t))
	assert.ErrorIs(t, err, ErrTransientDelivery)
}

func TestParsePublicKeyFormats(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pkix, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pkixPem := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkix})

	parsed, err := ParsePublicKey(string(pkixPem))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&key.PublicKey))

	pkcs1Pem := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	})
	parsed, err = ParsePublicKey(string(pkcs1Pem))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&key.PublicKey))

	_, err = ParsePublicKey("not pem")
	assert.Error(t, err)
}

func TestFetchActorContentNegotiation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/activity+json", r.Header.Get("Accept"))
		w.Write([]byte(`{"id": "https://remote.example/users/bob", "type": "Person"}`))
	}))
	defer server.Close()

	client := NewClient()
	doc, err := client.FetchActor(context.Background(), server.URL+"/users/bob", nil)
	require.NoError(t, err)
	assert.Equal(t, "Person", doc.MustGetString("type"))
}
