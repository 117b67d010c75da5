package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhatsAppSender(t *testing.T) {
	var got []waMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v19.0/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		var msg waMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		got = append(got, msg)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	}))
	defer srv.Close()

	s := NewWhatsAppSender(srv.URL+"/v19.0/", "12345", "token", time.Second, logger.NewTestLogger(t))
	assert.Equal(t, ChannelWhatsApp, s.Channel())

	require.NoError(t, s.SendText(context.Background(), "+33612345678", "Bonjour"))
	require.NoError(t, s.SendImage(context.Background(), "+33612345678", "https://img/1.jpg", "https://post/1"))

	require.Len(t, got, 2)
	assert.Equal(t, "33612345678", got[0].To)
	assert.Equal(t, "text", got[0].Type)
	assert.Equal(t, "Bonjour", got[0].Text.Body)
	assert.Equal(t, "image", got[1].Type)
	assert.Equal(t, "https://img/1.jpg", got[1].Image.Link)
	assert.Equal(t, "https://post/1", got[1].Image.Caption)
}

func TestWhatsAppSender_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "slow") {
			<-r.Context().Done()
			return
		}
		http.Error(w, `{"error":{"message":"invalid recipient"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewWhatsAppSender(srv.URL, "1", "token", time.Second, logger.NewTestLogger(t))
	err := s.SendText(context.Background(), "+33600000000", "x")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeliveryFailed))
	assert.Contains(t, err.Error(), "invalid recipient")

	slow := NewWhatsAppSender(srv.URL, "slow", "token", time.Second, logger.NewTestLogger(t))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = slow.SendText(ctx, "+33600000000", "x")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeliveryTimeout))
}

type mockSMSClient struct {
	sent        []string
	SendSMSFunc func(ctx context.Context, phone, message string) (string, error)
}

func (m *mockSMSClient) SendSMS(ctx context.Context, phone, message string) (string, error) {
	m.sent = append(m.sent, message)
	if m.SendSMSFunc != nil {
		return m.SendSMSFunc(ctx, phone, message)
	}
	return "msg-1", nil
}

func TestSMSSender(t *testing.T) {
	client := &mockSMSClient{}
	s := NewSMSSender(client, logger.NewTestLogger(t))
	assert.Equal(t, ChannelSMS, s.Channel())

	require.NoError(t, s.SendText(context.Background(), "+33600000000", "Nouvelle annonce"))
	require.NoError(t, s.SendImage(context.Background(), "+33600000000", "https://img/1.jpg", "https://post/1"))
	require.NoError(t, s.SendImage(context.Background(), "+33600000000", "https://img/2.jpg", ""))
	require.NoError(t, s.SendText(context.Background(), "+33600000000", strings.Repeat("é", 2000)))

	require.Len(t, client.sent, 4)
	assert.Equal(t, "Nouvelle annonce", client.sent[0])
	assert.Equal(t, "https://post/1\n📷 https://img/1.jpg", client.sent[1])
	assert.Equal(t, "📷 https://img/2.jpg", client.sent[2])
	assert.Equal(t, maxSMSLength, len([]rune(client.sent[3])))
	assert.True(t, strings.HasSuffix(client.sent[3], "..."))
}

func TestSMSSender_Error(t *testing.T) {
	client := &mockSMSClient{SendSMSFunc: func(context.Context, string, string) (string, error) {
		return "", errors.New("throttled")
	}}
	err := NewSMSSender(client, logger.NewTestLogger(t)).SendText(context.Background(), "+33600000000", "x")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeliveryFailed))
}
