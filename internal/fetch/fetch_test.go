package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOne_CachesAndRevalidates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, err := uuid.Parse(r.Header.Get("X-Request-Id"))
		assert.NoError(t, err)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f := New(t.TempDir(), srv.Client())
	src := Source{ID: "backend", URL: srv.URL + "/events/mine", Token: "secret"}

	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, "[]", string(res.Body))

	res, err = f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "[]", string(res.Body))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchOne_FallsBackOnServerError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("BEGIN:VCALENDAR"))
	}))
	defer srv.Close()

	f := New(t.TempDir(), srv.Client())
	src := Source{ID: "ics", URL: srv.URL}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "BEGIN:VCALENDAR", string(res.Body))
}

func TestFetchOne_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := New(t.TempDir(), srv.Client())

	_, err := f.FetchOne(context.Background(), Source{ID: "empty"})
	assert.Error(t, err)

	_, err = f.FetchOne(context.Background(), Source{ID: "304", URL: srv.URL})
	assert.Error(t, err)

	results, errs := f.FetchAll(context.Background(), []Source{{ID: "a", URL: srv.URL}, {ID: "b"}})
	assert.Empty(t, results)
	assert.Len(t, errs, 2)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)", RedactURL("https://calendar.example.com/private/abc.ics?token=x"))
	assert.Equal(t, "url://...(redacted)", RedactURL("not a url"))
}
