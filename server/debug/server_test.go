package debug

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentloop/interviewgraph/graph/checkpoint/inmemory"
	"github.com/talentloop/interviewgraph/interview"
	"github.com/talentloop/interviewgraph/model"
)

// stubGenerator answers every agent prompt with a fixed, well-formed
// response so sessions advance one topic per answer.
type stubGenerator struct {
	questions int
}

func (g *stubGenerator) GenerateText(ctx context.Context, prompt string, history []model.Message) (string, error) {
	switch {
	case strings.Contains(prompt, "opening question"):
		g.questions++
		return fmt.Sprintf("Question %d?", g.questions), nil
	case strings.Contains(prompt, "You are judging"):
		return `{"verdict":"advance"}`, nil
	case strings.Contains(prompt, "final assessment"):
		return `{"strengths":["direct"],"gaps":[],"recommendation":"hire"}`, nil
	}
	return "", fmt.Errorf("unexpected prompt: %s", prompt)
}

func (g *stubGenerator) Info() model.Info {
	return model.Info{Name: "stub"}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine, err := interview.New(&stubGenerator{}, inmemory.NewSaver(),
		interview.WithTopics("Go", "SQL"))
	require.NoError(t, err)
	ts := httptest.NewServer(New(engine).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postMessage(t *testing.T, ts *httptest.Server, sessionID string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/sessions/"+sessionID+"/messages",
		"application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Start.
	resp, body := postMessage(t, ts, "s1", map[string]string{"job_title": "Backend Engineer"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Question 1?", body["question"])
	assert.Equal(t, false, body["done"])

	// Introspect.
	resp2, err := http.Get(ts.URL + "/sessions/s1")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	var snap interview.StateSnapshot
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&snap))
	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, interview.NodeHumanInput, snap.NextStep)

	// Answer both topics.
	resp, _ = postMessage(t, ts, "s1", map[string]string{"answer": "Channels synchronize goroutines."})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = postMessage(t, ts, "s1", map[string]string{"answer": "Use EXPLAIN before guessing."})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["done"])
	feedback, ok := body["feedback"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hire", feedback["recommendation"])

	// Delete.
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/s1", nil)
	require.NoError(t, err)
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp3.StatusCode)
}

func TestErrorStatuses(t *testing.T) {
	ts := newTestServer(t)

	// Unknown session.
	resp, err := http.Get(ts.URL + "/sessions/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Starting without a job title.
	resp2, body := postMessage(t, ts, "s1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	assert.NotEmpty(t, body["error"])

	// Resuming without an answer.
	resp3, _ := postMessage(t, ts, "s1", map[string]string{"job_title": "Backend Engineer"})
	assert.Equal(t, http.StatusOK, resp3.StatusCode)
	resp4, _ := postMessage(t, ts, "s1", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp4.StatusCode)

	// Malformed body.
	resp5, err := http.Post(ts.URL+"/sessions/s1/messages", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	resp5.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp5.StatusCode)
}
