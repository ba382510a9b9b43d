// Package signing verifies the HMAC request signatures carried by signed
// endpoints (section 4.7 of the gateway specification).
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxSkew is the maximum tolerated difference between the request's
// x-timestamp and the server's clock.
const MaxSkew = 5 * time.Minute

// Verify recomputes HMAC-SHA256(hex-decoded signingKey, "<timestamp>.<stableStringify(payload)>")
// and compares it in constant time against signatureHex. now is injected for
// testability.
func Verify(signingKeyHex, timestampMillis, signatureHex string, payload any, now time.Time) error {
	if timestampMillis == "" || signatureHex == "" {
		return fmt.Errorf("missing x-timestamp or x-signature header")
	}

	ts, err := strconv.ParseInt(timestampMillis, 10, 64)
	if err != nil {
		return fmt.Errorf("x-timestamp is not a valid integer: %w", err)
	}

	requestTime := time.UnixMilli(ts)

	skew := now.Sub(requestTime)
	if skew < 0 {
		skew = -skew
	}

	if skew > MaxSkew {
		return fmt.Errorf("timestamp skew %s exceeds allowed window of %s", skew, MaxSkew)
	}

	key, err := hex.DecodeString(signingKeyHex)
	if err != nil {
		return fmt.Errorf("signing key is not valid hex: %w", err)
	}

	stable, err := StableStringify(payload)
	if err != nil {
		return fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	message := timestampMillis + "." + stable

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("x-signature is not valid hex")
	}

	if subtle.ConstantTimeCompare(expected, given) != 1 {
		return fmt.Errorf("signature mismatch")
	}

	return nil
}

// StableStringify produces deterministic JSON: object keys sorted
// lexicographically at every nesting level, arrays preserving order,
// primitives in canonical JSON form. Both client and server must produce
// the identical byte sequence for the signature to agree.
func StableStringify(v any) (string, error) {
	var b strings.Builder

	if err := writeStable(&b, v); err != nil {
		return "", err
	}

	return b.String(), nil
}

func writeStable(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
		return nil

	case map[string]any:
		return writeStableObject(b, val)

	case []any:
		return writeStableArray(b, val)

	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}

		b.Write(raw)

		return nil
	}
}

func writeStableObject(b *strings.Builder, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	b.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		keyJSON, err := json.Marshal(k)
		if err != nil {
			return err
		}

		b.Write(keyJSON)
		b.WriteByte(':')

		if err := writeStable(b, obj[k]); err != nil {
			return err
		}
	}

	b.WriteByte('}')

	return nil
}

func writeStableArray(b *strings.Builder, arr []any) error {
	b.WriteByte('[')

	for i, item := range arr {
		if i > 0 {
			b.WriteByte(',')
		}

		if err := writeStable(b, item); err != nil {
			return err
		}
	}

	b.WriteByte(']')

	return nil
}
