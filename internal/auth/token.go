package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNoSecret    = errors.New("worker token secret not configured")
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenLane   = errors.New("lane id mismatch")
)

// GenerateWorkerToken builds a voice worker token bound to one lane.
// Format: base64url(lane_id + "." + exp_unix + "." + hex(hmac_sha256(secret, lane_id+"."+exp)))
func GenerateWorkerToken(secret, laneID string, expUnix int64) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	msg := laneID + "." + strconv.FormatInt(expUnix, 10)
	raw := msg + "." + sign(secret, msg)
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

func sign(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateWorkerToken checks signature, lane and expiry and returns the
// embedded lane id and expiry. Expiry tolerates skewSeconds of clock drift.
// Lane ids may contain dots; the last two fields are always exp and sig.
func ValidateWorkerToken(secret, token, expectLaneID string, now time.Time, skewSeconds int) (string, int64, error) {
	if secret == "" {
		return "", 0, ErrNoSecret
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	raw := string(b)
	i := strings.LastIndexByte(raw, '.')
	if i <= 0 {
		return "", 0, ErrTokenFormat
	}
	msg, sigHex := raw[:i], raw[i+1:]
	j := strings.LastIndexByte(msg, '.')
	if j <= 0 {
		return "", 0, ErrTokenFormat
	}
	lane, expStr := msg[:j], msg[j+1:]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	want, _ := hex.DecodeString(sign(secret, msg))
	if !hmac.Equal(want, got) {
		return "", 0, ErrTokenSig
	}
	if expectLaneID != "" && lane != expectLaneID {
		return "", 0, ErrTokenLane
	}
	if now.Unix() > exp+int64(skewSeconds) {
		return "", 0, ErrTokenExp
	}
	return lane, exp, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <tok>" value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
