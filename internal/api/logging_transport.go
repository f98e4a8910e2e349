package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper and appends request/response dumps to a file.
// Only JSON and GraphQL bodies are logged; media responses log headers only.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	mu        sync.Mutex
	writer    *bufio.Writer
}

// NewLoggingTransport opens logFilePath for appending and wraps transport.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	// Dumping the request body is only safe when it can be replayed.
	dumpBody := req.Body == nil || req.GetBody != nil
	if reqDump, err := httputil.DumpRequestOut(req, dumpBody); err != nil {
		log.WithError(err).Debug("Failed to dump request for API log")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", start.Format(time.RFC3339), redactAuth(string(reqDump))))
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s", duration, err.Error()))
		return resp, err
	}

	contentType := resp.Header.Get("Content-Type")
	header, _ := httputil.DumpResponse(resp, false)
	if !strings.Contains(contentType, "json") {
		t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v, Type: %s) ---\n%s(Body not logged)", duration, contentType, header))
		return resp, nil
	}

	bodyBytes, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	if readErr != nil {
		t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v) ---\n%s(Body read failed: %v)", duration, header, readErr))
		return resp, readErr
	}
	t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\n%s%s", duration, header, string(bodyBytes)))
	return resp, nil
}

func (t *LoggingTransport) writeLog(entry string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.WriteString(entry + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
		return
	}
	_ = t.writer.Flush()
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}

// redactAuth hides credential headers in request dumps.
func redactAuth(dump string) string {
	lines := strings.Split(dump, "\r\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "apikey:") || strings.HasPrefix(lower, "authorization:") {
			name := line[:strings.Index(line, ":")]
			lines[i] = name + ": [redacted]"
		}
	}
	return strings.Join(lines, "\r\n")
}
