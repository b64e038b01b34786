package download

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akarpov87/m2mfetch/internal/logging"
)

// fakeGetter hands out crafted responses so size and checksum mismatches are
// reproducible without a real server.
type fakeGetter struct {
	responses map[string]*http.Response
}

func (f *fakeGetter) Get(ctx context.Context, url string) (*http.Response, error) {
	resp, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	return resp, nil
}

func respFrom(body string, header http.Header, contentLength int64) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: contentLength,
	}
}

func TestFetcher_StreamsAndRenames(t *testing.T) {
	body := "scene archive bytes"
	header := http.Header{}
	header.Set("Content-Disposition", `attachment; filename="LE07_L1TP.tar.gz"`)

	fs := afero.NewMemMapFs()
	f := NewFetcher(&fakeGetter{responses: map[string]*http.Response{
		"https://dds/x": respFrom(body, header, int64(len(body))),
	}}, fs, nil, logging.NewDiscard())

	path, n, err := f.Fetch(context.Background(), "https://dds/x", "/out")
	require.NoError(t, err)
	assert.Equal(t, "/out/LE07_L1TP.tar.gz", path)
	assert.EqualValues(t, len(body), n)

	got, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	// No .part leftovers.
	exists, err := afero.Exists(fs, path+".part")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFetcher_FilenameFallsBackToURL(t *testing.T) {
	body := "x"
	fs := afero.NewMemMapFs()
	f := NewFetcher(&fakeGetter{responses: map[string]*http.Response{
		"https://dds/files/archive.tar": respFrom(body, http.Header{}, 1),
	}}, fs, nil, logging.NewDiscard())

	path, _, err := f.Fetch(context.Background(), "https://dds/files/archive.tar", "/out")
	require.NoError(t, err)
	assert.Equal(t, "/out/archive.tar", path)
}

func TestFetcher_SizeMismatchIsIntegrityError(t *testing.T) {
	body := "short"
	fs := afero.NewMemMapFs()
	f := NewFetcher(&fakeGetter{responses: map[string]*http.Response{
		"https://dds/x": respFrom(body, http.Header{}, 100),
	}}, fs, nil, logging.NewDiscard())

	_, n, err := f.Fetch(context.Background(), "https://dds/x", "/out")
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.EqualValues(t, len(body), n)

	// The bad partial must not survive.
	empty, err := afero.IsEmpty(fs, "/out")
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestFetcher_ChecksumVerified(t *testing.T) {
	body := "verified payload"
	sum := md5.Sum([]byte(body))

	header := http.Header{}
	header.Set("Content-MD5", base64.StdEncoding.EncodeToString(sum[:]))
	fs := afero.NewMemMapFs()
	f := NewFetcher(&fakeGetter{responses: map[string]*http.Response{
		"https://dds/ok": respFrom(body, header, int64(len(body))),
	}}, fs, nil, logging.NewDiscard())

	_, _, err := f.Fetch(context.Background(), "https://dds/ok", "/out")
	assert.NoError(t, err)
}

func TestFetcher_ChecksumMismatchIsIntegrityError(t *testing.T) {
	body := "tampered payload"
	header := http.Header{}
	header.Set("Content-MD5", base64.StdEncoding.EncodeToString(make([]byte, 16)))
	fs := afero.NewMemMapFs()
	f := NewFetcher(&fakeGetter{responses: map[string]*http.Response{
		"https://dds/bad": respFrom(body, header, int64(len(body))),
	}}, fs, nil, logging.NewDiscard())

	_, _, err := f.Fetch(context.Background(), "https://dds/bad", "/out")
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestFetcher_ReportsProgress(t *testing.T) {
	body := strings.Repeat("a", 1000)
	var last int64
	progress := func(name string, done, total int64) {
		assert.Equal(t, "blob.bin", name)
		assert.EqualValues(t, 1000, total)
		last = done
	}

	fs := afero.NewMemMapFs()
	f := NewFetcher(&fakeGetter{responses: map[string]*http.Response{
		"https://dds/files/blob.bin": respFrom(body, http.Header{}, 1000),
	}}, fs, progress, logging.NewDiscard())

	_, _, err := f.Fetch(context.Background(), "https://dds/files/blob.bin", "/out")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, last)
}
