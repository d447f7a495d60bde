package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/encodis/encodis/internal/scheduler"
	"github.com/stretchr/testify/require"
)

func TestDiscordSink_PostsSummary(t *testing.T) {
	var gotBody string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	sink := NewDiscordSink(ts.URL)
	err := sink.NotifyQuiescence(context.Background(), scheduler.QuiescenceSummary{CompletedCount: 3, FailedCount: 1})
	require.NoError(t, err)
	require.Contains(t, gotBody, "3 completed")
	require.Contains(t, gotBody, "1 failed")
}

func TestDiscordSink_EmptyURLIsNoop(t *testing.T) {
	sink := NewDiscordSink("")
	require.NoError(t, sink.NotifyQuiescence(context.Background(), scheduler.QuiescenceSummary{}))
}

func TestDiscordSink_NonSuccessStatusReturnsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	sink := NewDiscordSink(ts.URL)
	err := sink.NotifyQuiescence(context.Background(), scheduler.QuiescenceSummary{})
	require.Error(t, err)
}

func TestPushoverSink_PostsFormEncodedMessage(t *testing.T) {
	var gotForm string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm.Get("message")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewPushoverSink("token", "user")
	sink.client = ts.Client()

	saved := pushoverAPIURL
	pushoverAPIURL = ts.URL
	defer func() { pushoverAPIURL = saved }()

	err := sink.NotifyQuiescence(context.Background(), scheduler.QuiescenceSummary{CompletedCount: 2})
	require.NoError(t, err)
	require.Contains(t, gotForm, "2 completed")
}

func TestPushoverSink_MissingCredentialsIsNoop(t *testing.T) {
	sink := NewPushoverSink("", "")
	require.NoError(t, sink.NotifyQuiescence(context.Background(), scheduler.QuiescenceSummary{}))
}

func TestMultiSink_ContinuesPastFailingSink(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	failing := NewDiscordSink("http://127.0.0.1:1/nope")
	ok := NewDiscordSink(ts.URL)
	multi := &MultiSink{Sinks: []Sink{failing, ok}}

	err := multi.NotifyQuiescence(context.Background(), scheduler.QuiescenceSummary{CompletedCount: 1})
	require.NoError(t, err, "MultiSink swallows individual sink errors")
}
