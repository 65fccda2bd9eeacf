// SPDX-License-Identifier: MIT

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const link = "roblox://placeId=100&gameId=job-1&ticket=ABC123"

type recordingStarter struct {
	name string
	args []string
	err  error
}

func (r *recordingStarter) Start(name string, args ...string) error {
	r.name = name
	r.args = args
	return r.err
}

func TestExecLauncher_Openers(t *testing.T) {
	tests := []struct {
		goos string
		name string
		args []string
	}{
		{"linux", "xdg-open", []string{link}},
		{"darwin", "open", []string{link}},
		{"windows", "rundll32", []string{"url.dll,FileProtocolHandler", link}},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			starter := &recordingStarter{}
			l := &ExecLauncher{GOOS: tt.goos, Starter: starter}

			require.NoError(t, l.Launch(context.Background(), link))
			assert.Equal(t, tt.name, starter.name)
			assert.Equal(t, tt.args, starter.args)
		})
	}
}

func TestExecLauncher_StartFailure(t *testing.T) {
	l := &ExecLauncher{GOOS: "linux", Starter: &recordingStarter{err: errors.New("not found")}}

	err := l.Launch(context.Background(), link)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xdg-open")
}

func TestLogLauncher_PrintsLink(t *testing.T) {
	var out bytes.Buffer
	l := NewLogLauncher(&out)

	require.NoError(t, l.Launch(context.Background(), link))
	assert.Contains(t, out.String(), "Paste this in browser to join")
	assert.Contains(t, out.String(), link)
}

func TestLinkFileLauncher_ReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "join.link")
	l := &LinkFileLauncher{Path: path}

	require.NoError(t, l.Launch(context.Background(), "roblox://first"))
	require.NoError(t, l.Launch(context.Background(), link))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, link+"\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLinkFileLauncher_MissingDirectory(t *testing.T) {
	l := &LinkFileLauncher{Path: filepath.Join(t.TempDir(), "missing", "join.link")}
	assert.Error(t, l.Launch(context.Background(), link))
}

func TestMulti_CallsAllAndJoinsErrors(t *testing.T) {
	var got []string
	ok := LauncherFunc(func(_ context.Context, uri string) error {
		got = append(got, uri)
		return nil
	})
	boom := errors.New("boom")
	failing := LauncherFunc(func(context.Context, string) error { return boom })

	err := Multi{failing, ok, NopLauncher{}}.Launch(context.Background(), link)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{link}, got, "a failing launcher does not stop the others")

	assert.NoError(t, Multi{ok}.Launch(context.Background(), link))
}

func TestWebhookNotifier_PostsContent(t *testing.T) {
	var msg map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 2*time.Second)
	require.NoError(t, n.Notify(context.Background(), "Alice joined place 100"))
	assert.Equal(t, map[string]string{"content": "Alice joined place 100"}, msg)
}

func TestWebhookNotifier_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, 2*time.Second).Notify(context.Background(), "hi")
	require.Error(t, err)

	var nerr *NotificationError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, http.StatusBadRequest, nerr.Status)
	assert.Equal(t, "notification rejected (HTTP 400)", err.Error())
}

func TestWebhookNotifier_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := NewWebhookNotifier(addr, time.Second).Notify(context.Background(), "hi")
	require.Error(t, err)

	var nerr *NotificationError
	require.True(t, errors.As(err, &nerr))
	assert.Zero(t, nerr.Status)
	assert.Contains(t, err.Error(), "notification failed")
}

func TestWebhookNotifier_UnreachableRedactsToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL + "/api/webhooks/123/SECRET-TOKEN"
	srv.Close()

	err := NewWebhookNotifier(addr, time.Second).Notify(context.Background(), "hi")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
	assert.NotContains(t, err.Error(), "/api/webhooks")
	assert.Contains(t, err.Error(), strings.TrimPrefix(srv.URL, "http://")+"/***")

	var uerr *url.Error
	require.True(t, errors.As(err, &uerr))
	assert.NotNil(t, uerr.Err)
}

func TestNopNotifier(t *testing.T) {
	assert.NoError(t, NopNotifier{}.Notify(context.Background(), "x"))
}
