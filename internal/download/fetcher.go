package download

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/akarpov87/m2mfetch/internal/logging"
	"github.com/akarpov87/m2mfetch/internal/m2m"
)

// ErrIntegrity marks a size or checksum mismatch after a completed transfer.
var ErrIntegrity = errors.New("integrity check failed")

// Getter fetches a plain URL. Implemented by m2m.Transport.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// ProgressFunc receives transfer progress. total is -1 when unknown.
type ProgressFunc func(name string, done, total int64)

// Fetcher streams a signed download URL to the target directory and verifies
// the transfer afterwards. The filesystem is abstracted so tests run against
// an in-memory fs.
type Fetcher struct {
	get      Getter
	fs       afero.Fs
	log      logging.Logger
	progress ProgressFunc
}

func NewFetcher(get Getter, fs afero.Fs, progress ProgressFunc, log logging.Logger) *Fetcher {
	return &Fetcher{get: get, fs: fs, log: log, progress: progress}
}

// Fetch downloads url into dir. The filename comes from the
// Content-Disposition header, falling back to the URL path. The transfer is
// staged under a .part name and renamed only after verification, so a
// partially written file never shadows a good one.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dir string) (string, int64, error) {
	resp, err := f.get.Get(ctx, rawURL)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	name, err := filenameFrom(resp, rawURL)
	if err != nil {
		return "", 0, err
	}
	target := filepath.Join(dir, name)
	part := target + ".part"

	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create output dir: %w", err)
	}
	out, err := f.fs.Create(part)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", part, err)
	}

	var sum hash.Hash
	var w io.Writer = out
	wantMD5 := resp.Header.Get("Content-MD5")
	if wantMD5 != "" {
		sum = md5.New()
		w = io.MultiWriter(out, sum)
	}

	n, err := io.Copy(w, &progressReader{
		r:        resp.Body,
		name:     name,
		total:    resp.ContentLength,
		progress: f.progress,
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = f.fs.Remove(part)
		return "", n, fmt.Errorf("stream %s: %w: %v", name, m2mNetworkErr(err), err)
	}

	if resp.ContentLength >= 0 && n != resp.ContentLength {
		_ = f.fs.Remove(part)
		return "", n, fmt.Errorf("%s: wrote %d of %d bytes: %w", name, n, resp.ContentLength, ErrIntegrity)
	}
	if sum != nil {
		got := base64.StdEncoding.EncodeToString(sum.Sum(nil))
		if got != wantMD5 {
			_ = f.fs.Remove(part)
			return "", n, fmt.Errorf("%s: checksum mismatch: %w", name, ErrIntegrity)
		}
	}

	if err := f.fs.Rename(part, target); err != nil {
		return "", n, fmt.Errorf("finalize %s: %w", target, err)
	}
	f.log.Info(ctx, "file downloaded", "name", name, "bytes", n)
	return target, n, nil
}

// filenameFrom resolves the local filename for a response, URL-unescaped.
func filenameFrom(resp *http.Response, rawURL string) (string, error) {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				if unescaped, err := url.QueryUnescape(name); err == nil {
					name = unescaped
				}
				return filepath.Base(name), nil
			}
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil || path.Base(u.Path) == "/" || path.Base(u.Path) == "." {
		return "", fmt.Errorf("no usable filename for %s", rawURL)
	}
	return path.Base(u.Path), nil
}

// m2mNetworkErr classifies a mid-stream copy failure: cancellation keeps its
// own identity, everything else is a transient network failure.
func m2mNetworkErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return m2m.ErrNetwork
}

type progressReader struct {
	r        io.Reader
	name     string
	total    int64
	done     int64
	progress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.progress != nil {
			p.progress(p.name, p.done, p.total)
		}
	}
	return n, err
}
