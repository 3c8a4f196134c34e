package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotifyPostsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	New(srv.URL).Notify(context.Background(), "session creation failing")
	if got["content"] != "session creation failing" {
		t.Fatalf("payload = %v", got)
	}
}

func TestNotifyDisabledWithoutURL(t *testing.T) {
	n := New("")
	if n.Enabled() {
		t.Fatal("notifier without URL reports enabled")
	}
	n.Notify(context.Background(), "ignored")

	var nilNotifier *Notifier
	nilNotifier.Notify(context.Background(), "ignored")
}

func TestNotifySwallowsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	New(srv.URL).Notify(context.Background(), "boom")
}
