package teacloud

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newSignedRequest returns a webhook request for the interaction, signed
// the way discord signs them
func newSignedRequest(
	t testing.TB,
	key ed25519.PrivateKey,
	i *discordgo.Interaction,
) *http.Request {
	t.Helper()
	body, err := json.Marshal(i)
	require.NoError(t, err)

	timestamp := fmt.Sprint(time.Now().Unix())
	sig := ed25519.Sign(key, append([]byte(timestamp), body...))

	req := httptest.NewRequest(http.MethodPost, apiDiscordInteractions, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
	req.Header.Set("X-Signature-Timestamp", timestamp)
	return req
}

func newTestWebhookTeaCloud(t testing.TB) (*TeaCloud, *fakeDiscordSession, ed25519.PrivateKey) {
	t.Helper()
	publicKey, privateKey := generateDiscordKey(t)
	cfg := newTestConfig(t)
	cfg.Discord.WebhookServer.Enabled = true
	cfg.Discord.WebhookServer.PublicKey = publicKey

	tc, session := newTestTeaCloud(t, cfg)
	require.NotNil(t, tc.discordWebhookServer)
	tc.webhookInteractionHandler = webhookReceiveHandler(context.Background(), tc)
	return tc, session, privateKey
}

func TestWebhookServer_Ping(t *testing.T) {
	tc, _, key := newTestWebhookTeaCloud(t)

	w := httptest.NewRecorder()
	tc.discordWebhookServer.engine.ServeHTTP(
		w,
		newSignedRequest(t, key, &discordgo.Interaction{ID: "ping", Type: discordgo.InteractionPing}),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var resp discordgo.InteractionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, discordgo.InteractionResponsePong, resp.Type)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))
}

func TestWebhookServer_Command(t *testing.T) {
	tc, session, key := newTestWebhookTeaCloud(t)
	addTestGuild(session)

	i := newCloudInteraction(t, newDiscordUser(t), testGuildID, testRandomID)
	w := httptest.NewRecorder()
	tc.discordWebhookServer.engine.ServeHTTP(w, newSignedRequest(t, key, i.Interaction))
	require.Equal(t, http.StatusOK, w.Code)

	var resp discordgo.InteractionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
	require.NotNil(t, resp.Data)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Contains(t, resp.Data.Content, "Generating word cloud for this channel")
	assert.Empty(t, session.interactionResponses())

	msg := waitForMessage(t, session)
	requireCloudMessage(t, msg, "Here's the Tea House word cloud for this channel")
}

func TestWebhookServer_Rejected(t *testing.T) {
	tc, _, key := newTestWebhookTeaCloud(t)
	_, otherKey := generateDiscordKey(t)

	tests := []struct {
		name   string
		req    func(t testing.TB) *http.Request
		status int
	}{
		{
			name: "wrong key",
			req: func(t testing.TB) *http.Request {
				return newSignedRequest(t, otherKey, &discordgo.Interaction{Type: discordgo.InteractionPing})
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "unsigned",
			req: func(t testing.TB) *http.Request {
				return httptest.NewRequest(
					http.MethodPost,
					apiDiscordInteractions,
					strings.NewReader(`{"type":1}`),
				)
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "tampered",
			req: func(t testing.TB) *http.Request {
				r := newSignedRequest(t, key, &discordgo.Interaction{Type: discordgo.InteractionPing})
				r.Body = io.NopCloser(strings.NewReader(`{"type":2}`))
				return r
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "signed, not an interaction",
			req: func(t testing.TB) *http.Request {
				r := newSignedRequest(t, key, &discordgo.Interaction{Type: discordgo.InteractionPing})
				body := []byte("not json")
				timestamp := r.Header.Get("X-Signature-Timestamp")
				sig := ed25519.Sign(key, append([]byte(timestamp), body...))
				r.Header.Set("X-Signature-Ed25519", hex.EncodeToString(sig))
				r.Body = io.NopCloser(bytes.NewReader(body))
				return r
			},
			status: http.StatusBadRequest,
		},
	}
	for _, tc2 := range tests {
		t.Run(
			tc2.name, func(t *testing.T) {
				w := httptest.NewRecorder()
				tc.discordWebhookServer.engine.ServeHTTP(w, tc2.req(t))
				assert.Equal(t, tc2.status, w.Code)
			},
		)
	}
}

func TestVerifyRequest(t *testing.T) {
	publicKeyHex, privateKey := generateDiscordKey(t)
	pk, err := hex.DecodeString(publicKeyHex)
	require.NoError(t, err)
	publicKey := ed25519.PublicKey(pk)

	ping := &discordgo.Interaction{Type: discordgo.InteractionPing}

	t.Run("valid", func(t *testing.T) {
		r := newSignedRequest(t, privateKey, ping)
		assert.True(t, verifyRequest(r, publicKey))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.NotEmpty(t, body, "body should be readable after verifying")
	})

	tests := []struct {
		name   string
		modify func(r *http.Request)
		key    ed25519.PublicKey
	}{
		{
			name:   "missing signature",
			modify: func(r *http.Request) { r.Header.Del("X-Signature-Ed25519") },
			key:    publicKey,
		},
		{
			name:   "missing timestamp",
			modify: func(r *http.Request) { r.Header.Del("X-Signature-Timestamp") },
			key:    publicKey,
		},
		{
			name:   "signature not hex",
			modify: func(r *http.Request) { r.Header.Set("X-Signature-Ed25519", "xyz") },
			key:    publicKey,
		},
		{
			name:   "short signature",
			modify: func(r *http.Request) { r.Header.Set("X-Signature-Ed25519", "abcd") },
			key:    publicKey,
		},
		{
			name:   "different timestamp",
			modify: func(r *http.Request) { r.Header.Set("X-Signature-Timestamp", "1") },
			key:    publicKey,
		},
		{
			name:   "invalid key",
			modify: func(r *http.Request) {},
			key:    ed25519.PublicKey("short"),
		},
	}
	for _, tc := range tests {
		t.Run(
			tc.name, func(t *testing.T) {
				r := newSignedRequest(t, privateKey, ping)
				tc.modify(r)
				assert.False(t, verifyRequest(r, tc.key))
			},
		)
	}
}
