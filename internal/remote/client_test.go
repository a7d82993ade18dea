package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/security"
)

func signedIn(t *testing.T, userID string) *Credentials {
	t.Helper()
	token, err := security.NewJWTManager("test-secret", "chatnil", time.Hour).GenerateAccessToken(userID, "")
	require.NoError(t, err)

	creds := &Credentials{}
	got, err := creds.SignIn(token)
	require.NoError(t, err)
	require.Equal(t, userID, got)
	return creds
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *Credentials) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	creds := signedIn(t, "user-1")
	c := New(srv.URL, creds, WithRetry(3, func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	return c, creds
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	ok := status < 300
	body := map[string]any{"success": ok}
	if ok {
		body["data"] = data
	} else {
		body["error"] = data
	}
	json.NewEncoder(w).Encode(body)
}

func TestLoadChatsForUser(t *testing.T) {
	var auth string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/chats", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeEnvelope(w, http.StatusOK, []domain.Chat{
			{ID: "c1", Title: "Recruiting timeline", Messages: []domain.Message{{ID: "m1", Role: domain.RoleUser, Content: "hi"}}},
		})
	})
	c, creds := newTestClient(t, mux)

	chats, err := c.LoadChatsForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Recruiting timeline", chats[0].Title)
	assert.Equal(t, "Bearer "+creds.Token(), auth)
}

func TestLoadChatsForUser_EmptyList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/chats", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, nil)
	})
	c, _ := newTestClient(t, mux)

	chats, err := c.LoadChatsForUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestScopeMismatchSendsNothing(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	_, err := c.LoadChatsForUser(context.Background(), "user-2")
	assert.ErrorIs(t, err, domain.ErrScopeMismatch)
	err = c.UpsertChat(context.Background(), "", domain.Chat{ID: "c1"})
	assert.ErrorIs(t, err, domain.ErrScopeMismatch)
	assert.Zero(t, calls.Load())
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  error
		attempts int32
	}{
		{"not found", http.StatusNotFound, domain.ErrNotFound, 1},
		{"unauthorized", http.StatusUnauthorized, domain.ErrUnauthorized, 1},
		{"forbidden", http.StatusForbidden, domain.ErrUnauthorized, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeEnvelope(w, tt.status, "nope")
			}))

			err := c.DeleteChat(context.Background(), "user-1", "c1")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.attempts, calls.Load())
		})
	}
}

func TestBadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusBadRequest, "title too long")
	}))

	err := c.UpsertChat(context.Background(), "user-1", domain.Chat{ID: "c1"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "title too long", se.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/v1/chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeEnvelope(w, http.StatusServiceUnavailable, "warming up")
			return
		}
		var chat domain.Chat
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&chat))
		assert.Equal(t, r.PathValue("id"), chat.ID)
		writeEnvelope(w, http.StatusOK, chat)
	})
	c, _ := newTestClient(t, mux)

	err := c.UpsertChat(context.Background(), "user-1", domain.Chat{ID: "c1", Title: "NIL basics"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := c.DeleteMessage(context.Background(), "user-1", "c1", "m1")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUnreachableServerIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, signedIn(t, "user-1"), WithRetry(2, func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	_, err := c.LoadChatsForUser(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrOffline)
}

func TestEditAndDeleteMessage(t *testing.T) {
	var edited, deleted string
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/v1/chats/{chat}/messages/{msg}", func(w http.ResponseWriter, r *http.Request) {
		var body editRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		edited = fmt.Sprintf("%s/%s=%s", r.PathValue("chat"), r.PathValue("msg"), body.Content)
		writeEnvelope(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("DELETE /api/v1/chats/{chat}/messages/{msg}", func(w http.ResponseWriter, r *http.Request) {
		deleted = r.PathValue("chat") + "/" + r.PathValue("msg")
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := newTestClient(t, mux)

	require.NoError(t, c.EditMessage(context.Background(), "user-1", "c1", "m1", "fixed typo"))
	require.NoError(t, c.DeleteMessage(context.Background(), "user-1", "c1", "m2"))
	assert.Equal(t, "c1/m1=fixed typo", edited)
	assert.Equal(t, "c1/m2", deleted)
}

func TestProcessDocument(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/documents", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		assert.Equal(t, "offer.pdf", header.Filename)
		assert.Equal(t, "application/pdf", header.Header.Get("Content-Type"))
		assert.Equal(t, "%PDF-1.7", string(data))
		writeEnvelope(w, http.StatusCreated, map[string]string{"id": "doc-9"})
	})
	c, _ := newTestClient(t, mux)

	id, err := c.ProcessDocument(context.Background(), "offer.pdf", "application/pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "doc-9", id)
}

func sseHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range frames {
			io.WriteString(w, f)
			w.(http.Flusher).Flush()
		}
	}
}

func collect(t *testing.T, events <-chan domain.StreamEvent) []domain.StreamEvent {
	t.Helper()
	var out []domain.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream was not closed")
			return nil
		}
	}
}

func TestStreamCompletion(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/completions", sseHandler(
		"event: status\ndata: {\"status\":\"Searching knowledge base\"}\n\n",
		": heartbeat\n\n",
		"event: content\ndata: {\"type\":\"content\",\"delta\":\"Hello\"}\n\n",
		"event: content\ndata: {\"delta\":\" there\"}\n\n",
		"event: sources\ndata: {\"sources\":[{\"title\":\"NCAA NIL policy\"}]}\n\n",
		"event: complete\ndata: {}\n\n",
		"event: content\ndata: {\"delta\":\"ignored\"}\n\n",
	))
	c, _ := newTestClient(t, mux)

	events, err := c.StreamCompletion(context.Background(), domain.CompletionRequest{ChatID: "c1", MessageID: "m2"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 5)
	assert.Equal(t, domain.EventStatus, got[0].Type)
	assert.Equal(t, "Searching knowledge base", got[0].Status)
	assert.Equal(t, "Hello", got[1].Delta)
	assert.Equal(t, " there", got[2].Delta)
	assert.Equal(t, "NCAA NIL policy", got[3].Sources[0].Title)
	assert.Equal(t, domain.EventComplete, got[4].Type)
}

func TestStreamCompletion_ClosesWithoutTerminalEvent(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/completions", sseHandler(
		"event: content\ndata: {\"delta\":\"partial\"}\n\n",
		"event: bogus\ndata: {}\n\n",
		"event: content\ndata: not json\n\n",
	))
	c, _ := newTestClient(t, mux)

	events, err := c.StreamCompletion(context.Background(), domain.CompletionRequest{ChatID: "c1", MessageID: "m2"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, "partial", got[0].Delta)
}

func TestStreamCompletion_RejectsNonStream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, "not a stream")
	})
	c, _ := newTestClient(t, mux)

	_, err := c.StreamCompletion(context.Background(), domain.CompletionRequest{ChatID: "c1", MessageID: "m2"})
	assert.Error(t, err)
}

func TestStreamCompletion_StartIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeEnvelope(w, http.StatusBadGateway, "upstream unavailable")
			return
		}
		sseHandler("event: complete\ndata: {}\n\n").ServeHTTP(w, r)
	})
	c, _ := newTestClient(t, mux)

	_, err := c.StreamCompletion(context.Background(), domain.CompletionRequest{ChatID: "c1", MessageID: "m2"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCredentials(t *testing.T) {
	creds := signedIn(t, "user-7")
	assert.Equal(t, "user-7", creds.UserID())
	assert.NotEmpty(t, creds.Token())

	creds.SignOut()
	assert.Empty(t, creds.UserID())
	assert.Empty(t, creds.Token())

	_, err := creds.SignIn("not-a-jwt")
	assert.Error(t, err)
}
