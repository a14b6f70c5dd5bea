package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, host string, creds Credentials) *CollyClient {
	t.Helper()
	c, err := NewCollyClient(Config{
		Host:       host,
		UserAgent:  "bookhaul-test",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
	}, creds, nil)
	require.NoError(t, err)
	return c
}

func TestCredentialsValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		creds   Credentials
		wantErr bool
	}{
		{"cookie only", Credentials{Cookie: "sessionid=abc"}, false},
		{"user and password", Credentials{User: "u@example.com", Password: "pw"}, false},
		{"both forms", Credentials{Cookie: "sessionid=abc", User: "u", Password: "pw"}, true},
		{"neither form", Credentials{}, true},
		{"user without password", Credentials{User: "u"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.creds.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSearchDecodesPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v2/search/", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "mining data", body["query"])
		require.EqualValues(t, 2, body["page"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"total": 25,
			"results": [
				{"archive_id": "123", "title": "Data Mining", "language": "en",
				 "authors": ["Ian Witten"], "virtual_pages": 400}
			]
		}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Credentials{Cookie: "sessionid=abc"})
	page, err := c.Search(context.Background(), "mining data", 2)
	require.NoError(t, err)
	require.Equal(t, 25, page.Total)
	require.Len(t, page.Results, 1)
	require.Equal(t, "123", page.Results[0].ArchiveID)

	rec := page.Results[0].Record("mining data")
	require.Equal(t, "123", rec.ID)
	require.Equal(t, []string{"mining data"}, rec.Tags)
	require.Equal(t, []string{"Ian Witten"}, rec.Authors)
}

func TestTOCUsesBookIDQuery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/nest/epub/toc/", r.URL.Path)
		require.Equal(t, "9781449319939", r.URL.Query().Get("book_id"))
		_, _ = w.Write([]byte(`{
			"book_id": "9781449319939",
			"title": "Mastering Regular Expressions",
			"title_safe": "mastering-regular-expressions",
			"thumbnail_tag": "<img src=\"/covers/123.jpg\" alt=\"cover\">",
			"items": [{"url": "/api/v1/page/1/", "label": "Chapter 1"}]
		}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Credentials{Cookie: "sessionid=abc"})
	toc, err := c.TOC(context.Background(), "9781449319939")
	require.NoError(t, err)
	require.Equal(t, "Mastering Regular Expressions", toc.Title)
	require.Len(t, toc.Items, 1)
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("stylesheet body"))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Credentials{Cookie: "sessionid=abc"})
	data, err := c.Fetch(context.Background(), srv.URL+"/style.css")
	require.NoError(t, err)
	require.Equal(t, "stylesheet body", string(data))
	require.EqualValues(t, 2, calls.Load())
}

func TestFetchSurfacesClientErrorsWithoutRetry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Credentials{Cookie: "sessionid=abc"})
	_, err := c.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusNotFound, se.Code)
	require.EqualValues(t, 1, calls.Load())
}

func TestLoginFormRejectedIsAuthFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts/login/", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, Credentials{User: "u@example.com", Password: "wrong"})
	err := c.Login(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestLoginWithCookieSkipsNetwork(t *testing.T) {
	t.Parallel()

	c := testClient(t, "https://catalog.example.com", Credentials{Cookie: "sessionid=abc; csrftoken=def"})
	require.NoError(t, c.Login(context.Background()))
}

func TestParseCookieHeader(t *testing.T) {
	t.Parallel()

	cookies, err := parseCookieHeader("sessionid=abc; csrftoken=def")
	require.NoError(t, err)
	require.Len(t, cookies, 2)
	require.Equal(t, "sessionid", cookies[0].Name)
	require.Equal(t, "abc", cookies[0].Value)

	_, err = parseCookieHeader("")
	require.Error(t, err)
	_, err = parseCookieHeader("not-a-cookie")
	require.Error(t, err)
}

func TestAbsoluteURL(t *testing.T) {
	t.Parallel()

	c := testClient(t, "https://catalog.example.com/", Credentials{Cookie: "sessionid=abc"})
	require.Equal(t, "https://catalog.example.com/api/v2/search/", c.AbsoluteURL("/api/v2/search/"))
	require.Equal(t, "https://other.example.com/x", c.AbsoluteURL("https://other.example.com/x"))
}
