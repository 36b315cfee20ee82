package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSigner はIDトークン署名用のRSA鍵と kid の組。
type testSigner struct {
	kid string
	key *rsa.PrivateKey
}

func newTestSigner(t *testing.T, kid string) *testSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey failed: %v", err)
	}
	return &testSigner{kid: kid, key: key}
}

func (s *testSigner) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.key)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return signed
}

func (s *testSigner) jwk() map[string]string {
	pub := s.key.PublicKey
	return map[string]string{
		"kty": "RSA",
		"kid": s.kid,
		"use": "sig",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// jwksServer は差し替え可能な鍵セットを配信し、取得回数を数えるテスト用JWKSエンドポイント。
type jwksServer struct {
	*httptest.Server
	mu      sync.Mutex
	signers []*testSigner
	status  int
	hits    atomic.Int32
	gate    chan struct{}
}

func newJWKSServer(t *testing.T, signers ...*testSigner) *jwksServer {
	t.Helper()
	s := &jwksServer{signers: signers, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		gate := s.gate
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}

		s.mu.Lock()
		status := s.status
		keys := make([]map[string]string, 0, len(s.signers))
		for _, signer := range s.signers {
			keys = append(keys, signer.jwk())
		}
		s.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setSigners(signers ...*testSigner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signers = signers
}

func (s *jwksServer) setGate(gate chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = gate
}

func (s *jwksServer) setStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// idTokenClaims はテスト用IDトークンの標準クレームを生成する。
func idTokenClaims(iss, aud, sub string, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": iss,
		"aud": aud,
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
	}
}

func strPtr(s string) *string {
	return &s
}
