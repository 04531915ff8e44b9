// Package proxy implements the signed proxy service (§4.5): issuing and
// verifying short-lived HMAC-SHA256 tokens over (fsPath, expireTs), serving
// content directly through the gateway for webProxy/requireSignature
// mounts, and rewriting HLS playlists in flight so every child URI carries
// a valid signature of its own.
package proxy

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
)

// Sign produces the signed-URL token for fsPath expiring at expireTs:
// base64(HMAC-SHA256(secret, fsPath+":"+expireTs)) + ":" + expireTs (§4.5,
// §6 "Signed-URL format").
func Sign(secret, fsPath string, expireTs int64) string {
	return signature(secret, fsPath, expireTs) + ":" + strconv.FormatInt(expireTs, 10)
}

func signature(secret, fsPath string, expireTs int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fsPath + ":" + strconv.FormatInt(expireTs, 10)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// splitToken separates a signed-URL token into its base64 signature and
// expireTs parts.
func splitToken(token string) (sig string, expireTs int64, err error) {
	idx := strings.LastIndex(token, ":")
	if idx < 0 {
		return "", 0, errors.Validation("proxy", "malformed signature token")
	}
	sig, tsPart := token[:idx], token[idx+1:]
	expireTs, perr := strconv.ParseInt(tsPart, 10, 64)
	if perr != nil {
		return "", 0, errors.Validation("proxy", "malformed signature expiry")
	}
	return sig, expireTs, nil
}

// Verify checks a token (the "sign" query value) against fsPath and the
// current time. It fails on a malformed token, a signature mismatch, or an
// expireTs at or before now.
func Verify(secret, fsPath, token string, nowMs int64) error {
	sig, expireTs, err := splitToken(token)
	if err != nil {
		return err
	}
	if expireTs <= nowMs {
		return errors.Forbidden("proxy", "signature expired")
	}
	want := signature(secret, fsPath, expireTs)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) != 1 {
		return errors.Forbidden("proxy", "invalid_signature")
	}
	return nil
}

// ExpireTsOf extracts the expireTs embedded in a token without verifying
// the signature, used to propagate the same expiry onto rewritten HLS
// child URIs.
func ExpireTsOf(token string) (int64, error) {
	_, expireTs, err := splitToken(token)
	return expireTs, err
}
