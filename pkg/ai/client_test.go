package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minqiao/notepress-backend/pkg/config"
	"github.com/minqiao/notepress-backend/pkg/errors"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

func newTestAIClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientParams{
		Config: config.AIConfig{
			APIKey:      "sk-test",
			BaseURL:     baseURL,
			Model:       "deepseek-chat",
			MaxAttempts: 3,
		},
		Logger: logger.New(logger.Options{ServiceName: "test"}),
	})
	require.NoError(t, err)
	client.retryBase = time.Millisecond
	return client
}

func completionBody(reply string) string {
	content, _ := json.Marshal(reply)
	return fmt.Sprintf(`{"choices":[{"message":{"content":%s}}]}`, content)
}

func TestGenerateArticleParsesModelReply(t *testing.T) {
	var gotAuth string
	var gotRequest map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotRequest)
		fmt.Fprint(w, completionBody(`{"title":"防滑猫抓板","content":"正文","tags":"猫咪用品,好物分享, 铲屎官必备"}`))
	}))
	defer srv.Close()

	client := newTestAIClient(t, srv.URL)
	article, err := client.GenerateArticle(context.Background(), "写一篇文章")
	require.NoError(t, err)

	assert.Equal(t, "防滑猫抓板", article.Title)
	assert.Equal(t, "正文", article.Content)
	assert.Equal(t, []string{"猫咪用品", "好物分享", "铲屎官必备"}, article.Tags)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "deepseek-chat", gotRequest["model"])
	assert.Equal(t, float64(2000), gotRequest["max_tokens"])
	assert.Equal(t, 0.7, gotRequest["temperature"])
	format := gotRequest["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestGenerateArticleAcceptsTagArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(`{"title":"t","content":"c","tags":["#一","二"]}`))
	}))
	defer srv.Close()

	article, err := newTestAIClient(t, srv.URL).GenerateArticle(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"一", "二"}, article.Tags)
}

func TestGenerateArticleRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, completionBody(`{"title":"t","content":"c","tags":""}`))
	}))
	defer srv.Close()

	article, err := newTestAIClient(t, srv.URL).GenerateArticle(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "t", article.Title)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGenerateArticleDoesNotRetryModelErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"auth_error"}}`)
	}))
	defer srv.Close()

	_, err := newTestAIClient(t, srv.URL).GenerateArticle(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, errors.CodeUpstream, errors.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateArticleRejectsMalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completionBody(`这不是 JSON`))
	}))
	defer srv.Close()

	_, err := newTestAIClient(t, srv.URL).GenerateArticle(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, errors.CodeProtocol, errors.CodeOf(err))
}

func TestGenerateArticleValidatesPrompt(t *testing.T) {
	_, err := newTestAIClient(t, "http://unused.invalid").GenerateArticle(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}
