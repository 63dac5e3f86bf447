package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"LearnChat/internal/backend"
	"LearnChat/internal/cache"
	"LearnChat/internal/credentials"
	"LearnChat/internal/store"

	"github.com/stretchr/testify/require"
)

const testSecret = "relay-test-secret"

type fakeProvider struct {
	mu       sync.Mutex
	replies  int
	reply    string
	replyErr error
	availErr error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Reply(ctx context.Context, message string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies++
	if p.replyErr != nil {
		return "", p.replyErr
	}
	if p.reply != "" {
		return p.reply, nil
	}
	return "answer to " + message, nil
}

func (p *fakeProvider) Available(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availErr
}

func (p *fakeProvider) replyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.replies
}

func mint(t *testing.T, username string, roles ...string) string {
	t.Helper()
	token, err := credentials.Mint(testSecret, username, roles, time.Hour)
	require.NoError(t, err)
	return token
}

func newTestServer(t *testing.T, p *fakeProvider, opts Options) *httptest.Server {
	t.Helper()
	opts.Secret = testSecret
	srv := httptest.NewServer(NewServer(p, opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{}, Options{})

	resp := doRequest(t, http.MethodGet, srv.URL+backend.StatusPath, "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+backend.StatusPath, "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := credentials.Mint("other-secret", "mallory", nil, time.Hour)
	require.NoError(t, err)
	resp = doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, forged, backend.ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := credentials.Mint(testSecret, "ada", nil, -time.Minute)
	require.NoError(t, err)
	resp = doRequest(t, http.MethodGet, srv.URL+backend.StatusPath, expired, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHeartbeatIsPublic(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{}, Options{})
	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusReflectsProvider(t *testing.T) {
	p := &fakeProvider{}
	srv := newTestServer(t, p, Options{})
	token := mint(t, "ada")

	var body map[string]string
	resp := doRequest(t, http.MethodGet, srv.URL+backend.StatusPath, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, backend.StatusOnline, body["status"])
	require.Equal(t, "fake", body["provider"])

	p.mu.Lock()
	p.availErr = errors.New("model not pulled")
	p.mu.Unlock()

	resp = doRequest(t, http.MethodGet, srv.URL+backend.StatusPath, token, nil)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, backend.StatusOffline, body["status"])
}

func TestChatAnswers(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{}, Options{})

	resp := doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, mint(t, "ada"), backend.ChatRequest{Message: "  what is gravity? "})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body backend.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "answer to what is gravity?", body.Response)
}

func TestChatRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{}, Options{})
	token := mint(t, "ada")

	resp := doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, token, backend.ChatRequest{Message: "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+backend.ChatPath, bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	require.Equal(t, http.StatusBadRequest, raw.StatusCode)

	long := bytes.Repeat([]byte("a"), MaxMessageLength+1)
	resp = doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, token, backend.ChatRequest{Message: string(long)})
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestChatProviderFailureIsBadGateway(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	defer db.Close()

	p := &fakeProvider{replyErr: errors.New("connection refused")}
	srv := newTestServer(t, p, Options{DB: db})

	resp := doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, mint(t, "ada"), backend.ChatRequest{Message: "hi"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	logged, err := db.Recent(context.Background(), "ada", 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	require.Contains(t, logged[0].Error, "connection refused")
}

func TestChatUsesCache(t *testing.T) {
	p := &fakeProvider{}
	srv := newTestServer(t, p, Options{Cache: cache.New(time.Minute)})
	token := mint(t, "ada")

	for _, msg := range []string{"What is DNA?", "what is  dna?"} {
		resp := doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, token, backend.ChatRequest{Message: msg})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body backend.ChatResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, "answer to What is DNA?", body.Response)
	}
	require.Equal(t, 1, p.replyCount())
}

func TestChatRateLimitPerUser(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{}, Options{RateLimit: 0.001, RateBurst: 2})
	ada := mint(t, "ada")

	for i := 0; i < 2; i++ {
		resp := doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, ada, backend.ChatRequest{Message: "q"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, ada, backend.ChatRequest{Message: "q"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp = doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, mint(t, "grace"), backend.ChatRequest{Message: "q"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// status polling is not rate limited
	resp = doRequest(t, http.MethodGet, srv.URL+backend.StatusPath, ada, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHistoryScopedByRole(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	defer db.Close()

	srv := newTestServer(t, &fakeProvider{}, Options{DB: db})
	ada := mint(t, "ada", credentials.RoleStudent)
	grace := mint(t, "grace", credentials.RoleStudent)
	teacher := mint(t, "turing", credentials.RoleTeacher)

	doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, ada, backend.ChatRequest{Message: "from ada"})
	doRequest(t, http.MethodPost, srv.URL+backend.ChatPath, grace, backend.ChatRequest{Message: "from grace"})

	decode := func(resp *http.Response) []HistoryItem {
		var body struct {
			Exchanges []HistoryItem `json:"exchanges"`
		}
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body.Exchanges
	}

	own := decode(doRequest(t, http.MethodGet, srv.URL+historyPath+"?user=grace", ada, nil))
	require.Len(t, own, 1)
	require.Equal(t, "from ada", own[0].Message)

	all := decode(doRequest(t, http.MethodGet, srv.URL+historyPath, teacher, nil))
	require.Len(t, all, 2)

	filtered := decode(doRequest(t, http.MethodGet, srv.URL+historyPath+"?user=grace", teacher, nil))
	require.Len(t, filtered, 1)
	require.Equal(t, "grace", filtered[0].Username)

	resp := doRequest(t, http.MethodGet, srv.URL+historyPath+"?limit=0", teacher, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryDisabledWithoutDB(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{}, Options{})
	resp := doRequest(t, http.MethodGet, srv.URL+historyPath, mint(t, "ada"), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{}, Options{AllowedOrigins: []string{"https://lms.example.com"}})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+backend.ChatPath, nil)
	req.Header.Set("Origin", "https://lms.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "https://lms.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestWidgetClientAgainstRelay(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{reply: "Mitochondria make ATP."}, Options{})
	client := backend.NewClient(srv.URL, credentials.Static(mint(t, "ada")))

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, backend.StatusOnline, status)

	reply, err := client.Chat(context.Background(), "what do mitochondria do?")
	require.NoError(t, err)
	require.Equal(t, "Mitochondria make ATP.", reply)
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	s := NewServer(&fakeProvider{}, Options{Secret: testSecret})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
