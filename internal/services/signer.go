package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
)

// Callback query parameter names
const (
	ParamExternalID = "eid"
	ParamDealerID   = "dealerId"
	ParamPlan       = "plan"
	ParamState      = "state"
	ParamSignature  = "signature"
	ParamOutcome    = "outcome"
)

// signedParams are the only parameters covered by the callback signature
var signedParams = []string{ParamExternalID, ParamDealerID, ParamPlan, ParamState}

// CallbackSigner signs and verifies the callback URLs handed to the gateway
type CallbackSigner struct {
	secret []byte
}

func NewCallbackSigner(secret string) *CallbackSigner {
	return &CallbackSigner{secret: []byte(secret)}
}

// Enabled is false when no secret is configured; Verify then accepts everything
func (s *CallbackSigner) Enabled() bool {
	return len(s.secret) > 0
}

// CanonicalString is the exact byte sequence that gets signed: the signed
// parameters present in params, sorted by key and URL-encoded.
func CanonicalString(params url.Values) string {
	subset := url.Values{}
	for _, key := range signedParams {
		if v, ok := params[key]; ok && len(v) > 0 {
			subset.Set(key, v[0])
		}
	}
	return subset.Encode()
}

// Sign returns the hex HMAC-SHA256 of the canonical string
func (s *CallbackSigner) Sign(params url.Values) string {
	return hex.EncodeToString(s.mac(params))
}

// Verify checks signature against params in constant time
func (s *CallbackSigner) Verify(params url.Values, signature string) bool {
	if !s.Enabled() {
		return true
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(s.mac(params), got)
}

func (s *CallbackSigner) mac(params url.Values) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(CanonicalString(params)))
	return m.Sum(nil)
}

// CallbackURL builds a signed callback URL under base. outcome is a hint for
// logs only; it is not signed and never decides anything.
func (s *CallbackSigner) CallbackURL(base string, params url.Values, outcome string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse callback base url: %w", err)
	}

	q := url.Values{}
	for _, key := range signedParams {
		q.Set(key, params.Get(key))
	}
	if s.Enabled() {
		q.Set(ParamSignature, s.Sign(params))
	}
	if outcome != "" {
		q.Set(ParamOutcome, outcome)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
