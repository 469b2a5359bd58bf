package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startTestHTTP(t *testing.T, opts agentHTTPOpts) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addrCh := make(chan string, 1)
	opts.httpAddr = "127.0.0.1:0"
	opts.onListen = func(addr string) { addrCh <- addr }

	go func() { _ = runAgentHTTPServer(ctx, opts) }()

	select {
	case addr := <-addrCh:
		return "http://" + addr
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
		return ""
	}
}

func TestAgentHTTP_Healthz(t *testing.T) {
	base := startTestHTTP(t, agentHTTPOpts{})

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestAgentHTTP_SyncTriggersAgent(t *testing.T) {
	agent := newAgent(nil, nil, time.Minute, 30)
	base := startTestHTTP(t, agentHTTPOpts{agent: agent})

	resp, err := http.Post(base+"/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-agent.triggerCh:
	default:
		t.Fatal("trigger not queued")
	}
}

func TestAgentHTTP_UnwiredServices(t *testing.T) {
	base := startTestHTTP(t, agentHTTPOpts{})

	for _, path := range []string{"/stats", "/feed", "/session"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		require.Contains(t, body, "error", path)
	}
}

func TestAgentTrigger_NonBlocking(t *testing.T) {
	agent := newAgent(nil, nil, time.Minute, 30)
	// Канал на один элемент, повторные триггеры схлопываются.
	agent.Trigger()
	agent.Trigger()
	agent.Trigger()

	require.Len(t, agent.triggerCh, 1)
}
