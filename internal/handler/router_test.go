package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatModel "github.com/zhouzirui/medchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/medchat/backend/internal/service/chat"
)

type cannedResponder struct{}

func (cannedResponder) GenerateResponse(context.Context, []chatModel.Message) string {
	return "Please see a doctor."
}

func (cannedResponder) GenerateImprovedResponse(context.Context, []chatModel.Message, string, string) string {
	return "Please see a doctor within 48 hours."
}

func newTestRouter() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "medchat_test_total", Help: "test"}))

	return NewRouter(Options{
		Store:          chatService.NewMemoryStore(),
		Responder:      cannedResponder{},
		Logger:         zerolog.Nop(),
		AllowedOrigins: []string{"http://localhost:3000"},
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
}

func TestRootHealth(t *testing.T) {
	r := newTestRouter()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"message":"Chat Bot API is running"}`, resp.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "medchat_test_total")
}

func TestConversationRoundTrip(t *testing.T) {
	r := newTestRouter()

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "http://localhost:3000", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header().Get("Content-Type"))

	var conv chatModel.Conversation
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &conv))

	body, err := json.Marshal(map[string]string{"conversation_id": conv.ID, "content": "I feel dizzy"})
	require.NoError(t, err)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, resp.Code)

	var bot chatModel.Message
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &bot))
	assert.Equal(t, "Please see a doctor.", bot.Content)

	body, err = json.Marshal(map[string]string{"conversationId": conv.ID, "messageId": bot.ID, "feedback": "when?"})
	require.NoError(t, err)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/messages/improve", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "within 48 hours")

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &conv))
	assert.Len(t, conv.Messages, 3)
}
