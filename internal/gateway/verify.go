package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// signatureHeaders are checked in order; the first non-empty one is used.
var (
	paystackSignatureHeaders    = []string{"X-Paystack-Signature", "X-Signature"}
	startbuttonSignatureHeaders = []string{"X-Startbutton-Signature", "X-Webhook-Signature", "X-Signature"}
)

// VerifyPaystack checks the hex HMAC-SHA512 of body against the signature
// header. An empty secret is rejected in production and skipped otherwise.
func VerifyPaystack(body []byte, headers http.Header, secret string, production bool) error {
	if secret == "" {
		return missingSecret(Paystack, production)
	}

	signature := strings.ToLower(strings.TrimSpace(firstHeader(headers, paystackSignatureHeaders)))
	if signature == "" {
		return ErrUnauthorized
	}

	expected := hex.EncodeToString(digest(sha512.New, secret, body))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrUnauthorized
	}
	return nil
}

// VerifyStartbutton accepts a bearer token equal to the secret, or an HMAC
// signature header. The header may hold several comma separated segments,
// each optionally prefixed with "sha256=", "sha512=", "algo=" style keys.
// Digests are SHA-256 or SHA-512, hex or base64 with or without padding.
// Any candidate digest matching any segment passes.
func VerifyStartbutton(body []byte, headers http.Header, secret string, production bool) error {
	if secret == "" {
		return missingSecret(Startbutton, production)
	}

	if token := bearerToken(headers.Get("Authorization")); token != "" {
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
			return nil
		}
	}

	header := firstHeader(headers, startbuttonSignatureHeaders)
	if header == "" {
		return ErrUnauthorized
	}

	candidates := signatureCandidates(secret, body)
	matched := false
	for _, segment := range signatureSegments(header) {
		for _, candidate := range candidates {
			// Every comparison runs so timing does not reveal which matched.
			if subtle.ConstantTimeCompare([]byte(candidate), []byte(segment)) == 1 {
				matched = true
			}
			if subtle.ConstantTimeCompare([]byte(candidate), []byte(strings.ToLower(segment))) == 1 {
				matched = true
			}
		}
	}
	if !matched {
		return ErrUnauthorized
	}
	return nil
}

func missingSecret(gateway string, production bool) error {
	if production {
		return ErrMissingSecret
	}
	logrus.Warnf("%s webhook secret not configured; skipping signature verification outside production", gateway)
	return nil
}

func digest(h func() hash.Hash, secret string, body []byte) []byte {
	mac := hmac.New(h, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// signatureCandidates lists every accepted encoding of the body's HMAC
// under SHA-256 and SHA-512. Hex candidates are lowercase.
func signatureCandidates(secret string, body []byte) []string {
	var out []string
	for _, h := range []func() hash.Hash{sha256.New, sha512.New} {
		sum := digest(h, secret, body)
		out = append(out,
			hex.EncodeToString(sum),
			base64.StdEncoding.EncodeToString(sum),
			base64.RawStdEncoding.EncodeToString(sum),
			base64.URLEncoding.EncodeToString(sum),
			base64.RawURLEncoding.EncodeToString(sum),
		)
	}
	return out
}

var signaturePrefixes = []string{"sha256=", "sha512=", "algo=", "v1=", "signature=", "sig="}

func signatureSegments(header string) []string {
	var segments []string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		part = trimSignaturePrefixes(part)
		// "algo=sha256 <sig>" style segments carry the digest after a space.
		if i := strings.LastIndexByte(part, ' '); i >= 0 {
			part = part[i+1:]
		}
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

func firstHeader(headers http.Header, names []string) string {
	for _, name := range names {
		if v := headers.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func bearerToken(authorization string) string {
	const prefix = "bearer "
	if len(authorization) > len(prefix) && strings.EqualFold(authorization[:len(prefix)], prefix) {
		return strings.TrimSpace(authorization[len(prefix):])
	}
	return ""
}

// trimSignaturePrefixes strips known prefixes until none is left, so
// stacked forms such as "algo=sha256=<sig>" reduce to the digest.
func trimSignaturePrefixes(part string) string {
	for stripped := true; stripped; {
		stripped = false
		lower := strings.ToLower(part)
		for _, p := range signaturePrefixes {
			if strings.HasPrefix(lower, p) {
				part = strings.TrimSpace(part[len(p):])
				stripped = true
				break
			}
		}
	}
	return part
}
