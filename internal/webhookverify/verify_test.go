package webhookverify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneStrategyAlwaysPasses(t *testing.T) {
	v, err := New(Config{Strategy: "none"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.NoError(t, v.Verify(req, []byte("anything")))
}

func TestGitHubSignatureRoundTrip(t *testing.T) {
	secret := "topsecret"
	v, err := New(GitHub(secret))
	require.NoError(t, err)

	body := []byte(`{"action":"opened"}`)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/github/trigger", nil)
	req.Header.Set("X-Hub-Signature-256", sig)
	assert.NoError(t, v.Verify(req, body))
}

func TestGitHubSignatureMismatchRejected(t *testing.T) {
	v, err := New(GitHub("topsecret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/github/trigger", nil)
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	err = v.Verify(req, []byte(`{}`))
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestMissingSignatureHeaderRejected(t *testing.T) {
	v, err := New(GitHub("topsecret"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/github/trigger", nil)
	err = v.Verify(req, []byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingSignatureHeader)
}

func TestSlackSignatureRoundTrip(t *testing.T) {
	secret := "slack-secret"
	v, err := New(Slack(secret))
	require.NoError(t, err)

	ts := fmt.Sprintf("%d", time.Now().Unix())
	body := []byte("token=abc&team_id=T1")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/slack/events", nil)
	req.Header.Set("X-Slack-Signature", sig)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	assert.NoError(t, v.Verify(req, body))
}

func TestSlackStaleTimestampRejected(t *testing.T) {
	secret := "slack-secret"
	v, err := New(Slack(secret))
	require.NoError(t, err)

	ts := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix())
	body := []byte("token=abc")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/slack/events", nil)
	req.Header.Set("X-Slack-Signature", sig)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	err = v.Verify(req, body)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}
