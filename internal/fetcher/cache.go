package fetcher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// sidecarSuffix names the file next to each artifact that records where it
// came from.
const sidecarSuffix = ".source"

// Cache remembers which URL and server version each destination holds, so a
// later fetch can revalidate with a conditional GET instead of downloading
// again. It stores a SHA-256 of the URL, never the URL itself, because
// installer URLs are secrets.
type Cache struct{}

// Validators identify the version of an artifact the server sent.
type Validators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

func (v Validators) empty() bool { return v.ETag == "" && v.LastModified == "" }

// apply turns req into a conditional GET for v.
func (v Validators) apply(req *http.Request) {
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}
}

func validatorsFrom(h http.Header) Validators {
	return Validators{ETag: h.Get("ETag"), LastModified: h.Get("Last-Modified")}
}

type sidecar struct {
	URLSHA256 string `json:"url_sha256"`
	Size      int64  `json:"size"`
	Validators
}

func NewCache() *Cache {
	return &Cache{}
}

// Get returns the validators to revalidate dest against rawURL. It reports
// false when dest was not downloaded from rawURL, has been changed since, or
// the server gave nothing to revalidate with.
func (c *Cache) Get(dest, rawURL string) (Validators, int64, bool) {
	b, err := os.ReadFile(dest + sidecarSuffix)
	if err != nil {
		return Validators{}, 0, false
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return Validators{}, 0, false
	}
	if sc.URLSHA256 != hashURL(rawURL) || sc.Validators.empty() {
		return Validators{}, 0, false
	}
	fi, err := os.Stat(dest)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() != sc.Size {
		return Validators{}, 0, false
	}
	return sc.Validators, sc.Size, true
}

// Set records that dest holds size bytes of the version v of rawURL.
func (c *Cache) Set(dest, rawURL string, size int64, v Validators) error {
	if v.empty() {
		return nil
	}
	b, err := json.Marshal(sidecar{URLSHA256: hashURL(rawURL), Size: size, Validators: v})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".source.*")
	if err != nil {
		return fmt.Errorf("write cache record: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write cache record: %w", err)
	}
	return os.Rename(tmp.Name(), dest+sidecarSuffix)
}

// removeRecord drops the record for dest. It must run before dest is replaced
// so a record never describes a file it did not produce.
func removeRecord(dest string) error {
	if err := os.Remove(dest + sidecarSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func hashURL(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}
