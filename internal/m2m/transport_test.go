package m2m

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov87/m2mfetch/internal/logging"
)

func newTestTransport(url string) *Transport {
	return NewTransport(url+"/", 5*time.Second, 0, logging.NewDiscard())
}

func TestTransportCall_Success(t *testing.T) {
	var gotToken, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Auth-Token")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"requestId":1,"errorCode":null,"errorMessage":null,"data":{"value":42}}`))
	}))
	defer srv.Close()

	tr := newTestTransport(srv.URL)
	data, err := tr.Call(context.Background(), "scene-search", map[string]string{"datasetName": "x"}, "secret")
	require.NoError(t, err)

	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "/scene-search", gotPath)
	assert.Equal(t, "x", gotBody["datasetName"])
	assert.JSONEq(t, `{"value":42}`, string(data))
}

func TestTransportCall_NoTokenHeaderWhenAbsent(t *testing.T) {
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["X-Auth-Token"]
		w.Write([]byte(`{"errorCode":null,"data":"key"}`))
	}))
	defer srv.Close()

	_, err := newTestTransport(srv.URL).Call(context.Background(), "login-token", struct{}{}, "")
	require.NoError(t, err)
	assert.False(t, sawHeader)
}

func TestTransportCall_ServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		code string
		want error
	}{
		{"auth invalid", "AUTH_INVALID", ErrAuth},
		{"token expired", "TOKEN_EXPIRED", ErrAuth},
		{"rate limit", "RATE_LIMIT", ErrRateLimited},
		{"bad input", "INPUT_PARAMETER_INVALID", ErrInvalidParameter},
		{"missing download", "DOWNLOAD_NOT_FOUND", ErrNotFound},
		{"anything else", "SERVER_ERROR", ErrService},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				resp := map[string]any{"errorCode": tc.code, "errorMessage": "boom", "data": nil}
				json.NewEncoder(w).Encode(resp)
			}))
			defer srv.Close()

			_, err := newTestTransport(srv.URL).Call(context.Background(), "op", struct{}{}, "tok")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.code, apiErr.Code)
			assert.Equal(t, "boom", apiErr.Message)
		})
	}
}

func TestTransportCall_ErrorCodeWinsOverHTTPStatus(t *testing.T) {
	// A service-reported error code is authoritative even on HTTP 200,
	// and vice versa: a 5xx with a code maps by the code.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errorCode":"RATE_LIMIT","errorMessage":"slow down","data":null}`))
	}))
	defer srv.Close()

	_, err := newTestTransport(srv.URL).Call(context.Background(), "op", struct{}{}, "tok")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestTransportCall_HTTPStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadGateway, ErrService},
		{http.StatusBadRequest, ErrInvalidParameter},
	}

	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"errorCode":null,"data":null}`))
		}))
		_, err := newTestTransport(srv.URL).Call(context.Background(), "op", struct{}{}, "tok")
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		srv.Close()
	}
}

func TestTransportCall_MalformedBodyIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	_, err := newTestTransport(srv.URL).Call(context.Background(), "op", struct{}{}, "tok")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestTransportCall_NonEnvelopeErrorPageMapsByStatus(t *testing.T) {
	// A gateway serving an HTML error page must map by HTTP status, not be
	// mistaken for a client/service version mismatch.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html><body>502 Bad Gateway</body></html>`))
	}))
	defer srv.Close()

	_, err := newTestTransport(srv.URL).Call(context.Background(), "op", struct{}{}, "tok")
	assert.ErrorIs(t, err, ErrService)
	assert.NotErrorIs(t, err, ErrProtocol)
}

func TestTransportCall_ConnectionFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	_, err := newTestTransport(srv.URL).Call(context.Background(), "op", struct{}{}, "tok")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestDecodeData_StrictTypes(t *testing.T) {
	var out struct {
		Total int `json:"totalHits"`
	}
	err := DecodeData("scene-search", json.RawMessage(`{"totalHits":"many"}`), &out)
	assert.ErrorIs(t, err, ErrProtocol)

	require.NoError(t, DecodeData("scene-search", json.RawMessage(`{"totalHits":7}`), &out))
	assert.Equal(t, 7, out.Total)
}

func TestTransportGet_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestTransport(srv.URL).Get(context.Background(), srv.URL+"/file.tar")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestTransportGet_OutlivesEnvelopeTimeout(t *testing.T) {
	// File transfers run on their own client: a stream taking longer than
	// the envelope timeout must complete, not be cut mid-body.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			w.Write([]byte("chunk"))
			fl.Flush()
			time.Sleep(60 * time.Millisecond)
		}
	}))
	defer srv.Close()

	tr := NewTransport(srv.URL+"/", 100*time.Millisecond, 0, logging.NewDiscard())
	resp, err := tr.Get(context.Background(), srv.URL+"/file.tar")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "chunkchunkchunkchunk", string(body))
}

func TestTransportGet_ContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		w.Write([]byte("chunk"))
		fl.Flush()
		cancel()
		<-r.Context().Done()
	}))
	defer srv.Close()

	resp, err := newTestTransport(srv.URL).Get(ctx, srv.URL+"/file.tar")
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	assert.ErrorContains(t, err, "context canceled")
}
