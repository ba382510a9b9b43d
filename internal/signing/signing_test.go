package signing_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/gateway/internal/signing"
)

func sign(t *testing.T, keyHex, timestamp string, payload any) string {
	t.Helper()

	key, err := hex.DecodeString(keyHex)
	require.NoError(t, err)

	stable, err := signing.StableStringify(payload)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + "." + stable))

	return hex.EncodeToString(mac.Sum(nil))
}

func TestStableStringifySortsKeysAtEveryDepth(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"b": 1,
		"a": map[string]any{"z": 1, "y": 2},
		"c": []any{map[string]any{"b": 1, "a": 2}, 3},
	}

	out, err := signing.StableStringify(payload)
	require.NoError(t, err)

	assert.Equal(t, `{"a":{"y":2,"z":1},"b":1,"c":[{"a":2,"b":1},3]}`, out)
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	t.Parallel()

	keyHex := "deadbeefdeadbeefdeadbeefdeadbeef"
	now := time.UnixMilli(1_700_000_000_000)
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	payload := map[string]any{"sessionId": "s1"}

	sig := sign(t, keyHex, timestamp, payload)

	err := signing.Verify(keyHex, timestamp, sig, payload, now)
	assert.NoError(t, err)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	t.Parallel()

	keyHex := "deadbeefdeadbeefdeadbeefdeadbeef"
	now := time.UnixMilli(1_700_000_000_000)
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)

	sig := sign(t, keyHex, timestamp, map[string]any{"sessionId": "s1"})

	err := signing.Verify(keyHex, timestamp, sig, map[string]any{"sessionId": "s2"}, now)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredTimestamp(t *testing.T) {
	t.Parallel()

	keyHex := "deadbeefdeadbeefdeadbeefdeadbeef"
	requestTime := time.UnixMilli(1_700_000_000_000)
	now := requestTime.Add(10 * time.Minute)
	timestamp := strconv.FormatInt(requestTime.UnixMilli(), 10)
	payload := map[string]any{"sessionId": "s1"}

	sig := sign(t, keyHex, timestamp, payload)

	err := signing.Verify(keyHex, timestamp, sig, payload, now)
	assert.Error(t, err)
}

func TestVerifyRejectsMissingHeaders(t *testing.T) {
	t.Parallel()

	err := signing.Verify("deadbeef", "", "", map[string]any{}, time.Now())
	assert.Error(t, err)
}
