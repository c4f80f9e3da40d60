package morcore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCore struct {
	tokens   atomic.Int32
	requests []*http.Request
	bodies   []map[string]any
	handler  http.HandlerFunc
}

func newFakeCore(t *testing.T, handler http.HandlerFunc) (*fakeCore, *Client) {
	t.Helper()
	fc := &fakeCore{handler: handler}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == tokenPath {
			fc.tokens.Add(1)
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			if creds["username"] != "automatr" || creds["password"] != "insecure" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"non_field_errors": ["Unable to log in"]}`)
				return
			}
			_, _ = io.WriteString(w, `{"token": "t0k3n"}`)
			return
		}

		require.Equal(t, "Token t0k3n", r.Header.Get("Authorization"))
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		fc.requests = append(fc.requests, r)
		fc.bodies = append(fc.bodies, body)
		fc.handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{
		BaseURL:  srv.URL + "/",
		User:     "automatr",
		Password: "insecure",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return fc, c
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New(Options{BaseURL: "core.local"})
	require.Error(t, err)
}

func TestFetchCase(t *testing.T) {
	fc, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/melding/c-1/", r.URL.Path)
		_, _ = io.WriteString(w, `{"uuid": "c-1", "status": {"naam": "controle"}, "meldinggebeurtenissen": [{}]}`)
	})

	melding, err := c.FetchCase(context.Background(), "/api/v1/melding/c-1/")
	require.NoError(t, err)
	require.Equal(t, "c-1", melding["uuid"])
	require.Equal(t, "controle", melding["status"].(map[string]any)["naam"])
	require.Len(t, fc.requests, 1)
	require.Equal(t, int32(1), fc.tokens.Load())
}

func TestFetchCaseNotFound(t *testing.T) {
	_, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail": "Niet gevonden."}`)
	})

	_, err := c.FetchCase(context.Background(), "/api/v1/melding/onbekend/")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "Niet gevonden.", apiErr.Reason)
}

func TestResolveCase(t *testing.T) {
	fc, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{}`)
	})

	err := c.ResolveCase(context.Background(), "c-1", map[string]any{
		"uuid":                "c-1",
		"resolutie":           "opgelost",
		"omschrijving_extern": "Afgehandeld door bot",
	})
	require.NoError(t, err)

	require.Equal(t, http.MethodPatch, fc.requests[0].Method)
	require.Equal(t, "/api/v1/melding/c-1/afhandelen/", fc.requests[0].URL.Path)
	require.Equal(t, "opgelost", fc.bodies[0]["resolutie"])
	require.NotContains(t, fc.bodies[0], "uuid")
}

func TestCreateSubtask(t *testing.T) {
	fc, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	err := c.CreateSubtask(context.Background(), "c-2", map[string]any{
		"taaktype":        "http://taken/taaktype/1/",
		"titel":           "Grofvuil",
		"afhankelijkheid": []any{},
	})
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, fc.requests[0].Method)
	require.Equal(t, "/api/v1/melding/c-2/taakopdracht/", fc.requests[0].URL.Path)
	require.Equal(t, "Grofvuil", fc.bodies[0]["titel"])
}

func TestAddNote(t *testing.T) {
	fc, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.AddNote(context.Background(), "c-1", "voorwaarden vervuld", "bot@example.org"))
	require.Equal(t, "/api/v1/melding/c-1/gebeurtenis-toevoegen/", fc.requests[0].URL.Path)
	require.Equal(t, "voorwaarden vervuld", fc.bodies[0]["omschrijving_intern"])
	require.Equal(t, "bot@example.org", fc.bodies[0]["gebruiker"])
}

func TestAddNoteServerError(t *testing.T) {
	_, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "upstream down")
	})

	err := c.AddNote(context.Background(), "c-1", "note", "bot")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "upstream down", apiErr.Reason)
}

func TestLookupTaskType(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantNil bool
		wantErr bool
	}{
		{
			name: "single match",
			body: `{"count": 1, "results": [{"_links": {"self": {"href": "http://core/api/v1/taaktype/7/"}}, "omschrijving": "Grofvuil ophalen"}]}`,
			want: "Grofvuil ophalen",
		},
		{name: "no match", body: `{"count": 0, "results": []}`, wantNil: true},
		{name: "ambiguous", body: `{"count": 2, "results": [{}, {}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})

			got, err := c.LookupTaskType(context.Background(), "http://taken/taaktype/1/")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "/api/v1/taaktype/", fc.requests[0].URL.Path)
			require.Equal(t, "http://taken/taaktype/1/", fc.requests[0].URL.Query().Get("taakapplicatie_taaktype_url"))
			if tt.wantNil {
				require.Nil(t, got)
				return
			}
			require.Equal(t, tt.want, got.Title)
			require.Equal(t, "http://core/api/v1/taaktype/7/", got.URL)
		})
	}
}

func TestTokenReuse(t *testing.T) {
	fc, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"uuid": "c-1"}`)
	})

	for i := 0; i < 3; i++ {
		_, err := c.FetchCase(context.Background(), "/api/v1/melding/c-1/")
		require.NoError(t, err)
	}
	require.Equal(t, int32(3), fc.tokens.Load(), "zero timeout fetches a token per request")
	require.Empty(t, c.token, "zero timeout never keeps a token")

	c.tokenTimeout = time.Minute
	for i := 0; i < 3; i++ {
		_, err := c.FetchCase(context.Background(), "/api/v1/melding/c-1/")
		require.NoError(t, err)
	}
	require.Equal(t, int32(4), fc.tokens.Load(), "one fresh token, then reused")
}

func TestBadCredentials(t *testing.T) {
	fc, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {})
	c.password = "wrong"

	_, err := c.FetchCase(context.Background(), "/api/v1/melding/c-1/")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "Unable to log in", apiErr.Reason)
	require.Empty(t, fc.requests)
}

func TestFetchCaseAbsoluteReference(t *testing.T) {
	fc, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"uuid": "c-1"}`)
	})

	melding, err := c.FetchCase(context.Background(), c.base.String()+"/api/v1/melding/c-1/")
	require.NoError(t, err)
	require.Equal(t, "c-1", melding["uuid"])
	require.Equal(t, "/api/v1/melding/c-1/", fc.requests[0].URL.Path)
}

func TestFetchCaseRejectsForeignHost(t *testing.T) {
	fc, c := newFakeCore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"uuid": "c-1"}`)
	})

	_, err := c.FetchCase(context.Background(), "http://elders.example/api/v1/melding/c-1/")
	require.ErrorIs(t, err, ErrForeignHost)
	require.Zero(t, fc.tokens.Load(), "no token may be requested for a foreign host")
	require.Empty(t, fc.requests)
}
