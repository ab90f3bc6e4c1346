package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewboard/userauth/internal/logging"
)

func TestRunServeEndToEnd(t *testing.T) {
	cfg, err := loadConfig(newFlagSet(t,
		"--listen", "127.0.0.1:0",
		"--metrics_listen", "",
		"--redis.addr", "memory",
		"--store.driver", "redis",
	), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, logging.Discard(), ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr

	resp, err := http.Post(base+"/register", "application/json",
		strings.NewReader(`{"username":"ada","email":"ada@example.com","password":"kX9#vQ2!mZ7@pL4w"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/brewboard")
	require.NoError(t, err)
	var users []map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&users))
	resp.Body.Close()
	assert.Equal(t, []map[string]string{{"username": "ada", "email": "ada@example.com"}}, users)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
