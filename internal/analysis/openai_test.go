package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/logging"
	"lease-analyzer/internal/models"
)

func fakeOpenAI(t *testing.T, status int, content string) (*OpenAIClassifier, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
			t.Errorf("expected json_object response format")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream said no","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:     "cmpl-1",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		})
	}))
	t.Cleanup(srv.Close)

	c, err := NewOpenAIClassifier(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1"}, logging.Discard())
	require.NoError(t, err)
	return c, &calls
}

func TestOpenAIClassifierParsesVerdict(t *testing.T) {
	c, _ := fakeOpenAI(t, http.StatusOK, `{"isLease":true,"confidence":1.4,"leaseType":"FinanceLease",
		"reasoning":["identified asset"],"rightToControl":{"hasRightToControl":true}}`)
	got, err := c.Classify(context.Background(), models.StructuredContent{FileID: "f1", RawContent: "lease"}, models.AnalysisOptions{})
	require.NoError(t, err)
	assert.True(t, got.IsLease)
	assert.Equal(t, 1.0, got.Confidence, "confidence is clamped")
	assert.Equal(t, models.LeaseTypeFinance, got.LeaseType)
	assert.Equal(t, []string{"identified asset"}, got.Reasoning)
	assert.NotNil(t, got.Citations)
	assert.True(t, got.RightToControlAnalysis.HasRightToControl)
	assert.NotNil(t, got.RightToControlAnalysis.ControlIndicators)
}

func TestOpenAIClassifierUnknownLeaseType(t *testing.T) {
	c, _ := fakeOpenAI(t, http.StatusOK, `{"isLease":false,"confidence":0.2,"leaseType":"Something"}`)
	got, err := c.Classify(context.Background(), models.StructuredContent{}, models.AnalysisOptions{Language: "ja"})
	require.NoError(t, err)
	assert.Equal(t, models.LeaseTypeNotApplicable, got.LeaseType)
}

func TestOpenAIClassifierErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		content   string
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, "", true},
		{"server error", http.StatusBadGateway, "", true},
		{"bad request", http.StatusBadRequest, "", false},
		{"malformed verdict", http.StatusOK, "not json", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, calls := fakeOpenAI(t, tc.status, tc.content)
			_, err := c.Classify(context.Background(), models.StructuredContent{}, models.AnalysisOptions{})
			require.Error(t, err)
			assert.Equal(t, tc.transient, apperr.IsTransient(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(calls), "classifier does not retry on its own")
		})
	}
}

func TestNewOpenAIClassifierRequiresKey(t *testing.T) {
	_, err := NewOpenAIClassifier(OpenAIConfig{}, logging.Discard())
	require.Error(t, err)
}
