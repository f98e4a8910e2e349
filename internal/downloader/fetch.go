package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go-stash-downloader/internal/helpers"
	"go-stash-downloader/internal/models"

	log "github.com/sirupsen/logrus"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// ProgressFunc receives a progress snapshot after every chunk.
type ProgressFunc func(models.Progress)

// Blob is a fully downloaded response body.
type Blob struct {
	Data        []byte
	ContentType string
	Filename    string
	SourceURL   string
}

// FetchStream downloads rawURL into memory, reporting progress, speed and ETA as chunks
// arrive. timeout bounds the whole transfer; kind picks the default content type.
func (s *Service) FetchStream(ctx context.Context, rawURL string, kind models.ContentType, timeout time.Duration, onProgress ProgressFunc) (*Blob, error) {
	if timeout <= 0 {
		timeout = s.timeoutFor(kind)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating download request for %s: %v", ErrNetwork, rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	log.Debugf("Fetching %s (timeout %s)", rawURL, timeout)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, rawURL)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, fmt.Errorf("%w: %s", ErrNoBody, rawURL)
	}

	total := resp.ContentLength
	start := time.Now()
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}
	counter := &helpers.CounterWriter{
		Writer: &buf,
		OnWrite: func(written uint64) {
			if onProgress != nil {
				onProgress(progressSnapshot(int64(written), total, time.Since(start)))
			}
		},
	}
	if _, err := io.Copy(counter, resp.Body); err != nil {
		return nil, transportError(ctx, rawURL, err)
	}

	blob := &Blob{
		Data:        buf.Bytes(),
		ContentType: blobContentType(resp.Header.Get("Content-Type"), rawURL, kind),
		Filename:    filenameFromResponse(resp, rawURL),
		SourceURL:   rawURL,
	}
	log.Debugf("Fetched %s (%s) in %s", rawURL, helpers.BytesToSize(uint64(len(blob.Data))), time.Since(start).Round(time.Millisecond))
	return blob, nil
}

func progressSnapshot(downloaded, total int64, elapsed time.Duration) models.Progress {
	p := models.Progress{
		BytesDownloaded: downloaded,
		TotalBytes:      total,
		LastActivity:    time.Now(),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		p.Speed = float64(downloaded) / secs
	}
	if total > 0 {
		p.Percentage = float64(downloaded) / float64(total) * 100
		if p.Speed > 0 {
			p.TimeRemaining = float64(total-downloaded) / p.Speed
		}
	}
	return p
}

func blobContentType(header, rawURL string, kind models.ContentType) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" && mt != "" {
		return mt
	}
	if byExt := mime.TypeByExtension(path.Ext(helpers.FilenameFromURL(rawURL))); byExt != "" {
		return byExt
	}
	if kind == models.ContentImage || kind == models.ContentGallery {
		return "image/jpeg"
	}
	return "video/mp4"
}

// filenameFromResponse prefers Content-Disposition, then the URL's last path segment.
func filenameFromResponse(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		_, params, err := mime.ParseMediaType(cd)
		if err == nil && params["filename"] != "" {
			return params["filename"]
		}
		if !strings.HasPrefix(cd, "inline") {
			log.WithError(err).Debugf("Could not parse Content-Disposition header: %s", cd)
		}
	}
	return helpers.FilenameFromURL(rawURL)
}

// extensionFor returns a file extension (without dot) for a MIME type.
func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "video/mp4":
		return "mp4"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

// SaveBlob writes blob into dir via a temporary file and rename, returning the final path
// and its BLAKE3 hash. An existing file with the same name and content is reused; a
// different file with the same name gets a numeric suffix.
func SaveBlob(dir, filename string, blob *Blob) (string, string, error) {
	if filename == "" {
		filename = blob.Filename
	}
	filename = helpers.SanitizeFilename(filename)
	if path.Ext(filename) == "" {
		filename += "." + extensionFor(blob.ContentType)
	}
	hash := helpers.HashBytes(blob.Data)

	if !helpers.CheckAndMakeDir(dir) {
		return "", "", fmt.Errorf("%w: failed to create target directory %s", ErrFileSystem, dir)
	}

	target, existing, err := resolveTarget(dir, filename, hash)
	if err != nil {
		return "", "", err
	}
	if existing {
		log.Infof("Found existing file with identical content: %s. Skipping write.", target)
		return target, hash, nil
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, target, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	if _, err := tempFile.Write(blob.Data); err != nil {
		tempFile.Close()
		return "", "", fmt.Errorf("%w: writing temporary file %s: %v", ErrFileSystem, tempFile.Name(), err)
	}
	if err := tempFile.Close(); err != nil {
		return "", "", fmt.Errorf("%w: closing temp file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := os.Rename(tempFile.Name(), target); err != nil {
		return "", "", fmt.Errorf("%w: renaming temporary file %s to %s: %v", ErrFileSystem, tempFile.Name(), target, err)
	}
	shouldCleanupTemp = false
	log.Infof("Saved %s (%s)", target, helpers.BytesToSize(uint64(len(blob.Data))))
	return target, hash, nil
}

// resolveTarget picks a free path for filename in dir, reporting whether an identical
// file already exists there.
func resolveTarget(dir, filename, hash string) (string, bool, error) {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for i := 0; i < 1000; i++ {
		name := filename
		if i > 0 {
			name = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, false, nil
		} else if err != nil {
			return "", false, fmt.Errorf("%w: checking %s: %v", ErrFileSystem, candidate, err)
		}
		existingHash, err := helpers.HashFile(candidate)
		if err == nil && existingHash == hash {
			return candidate, true, nil
		}
	}
	return "", false, fmt.Errorf("%w: no free filename for %s in %s", ErrFileSystem, filename, dir)
}
