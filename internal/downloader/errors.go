package downloader

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Custom Downloader Errors
var (
	ErrTimeout     = errors.New("download aborted or timed out")
	ErrNetwork     = errors.New("network error")
	ErrHttpStatus  = errors.New("unexpected HTTP status code")
	ErrNoBody      = errors.New("response has no body")
	ErrFileSystem  = errors.New("filesystem error") // Covers create, remove, rename
	ErrNoHost      = errors.New("server-side download unavailable: no Stash connection")
	ErrPollTimeout = errors.New("polling gave up before a result was available")

	// Server-side delegation failures
	ErrTaskFailed    = errors.New("download task failed")
	ErrResultMissing = errors.New("download task produced no result")
	ErrToolReported  = errors.New("download tool reported an error")
)

// transportError wraps a request/read failure as ErrTimeout or ErrNetwork.
func transportError(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, rawURL, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, rawURL, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrNetwork, rawURL, err)
}

// UserHint returns a short operator-facing suggestion for err, or "" if there is none.
func UserHint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "The download timed out or was cancelled. Retry it, or raise DownloadTimeoutSec for large files."
	case errors.Is(err, ErrNetwork):
		return "The site could not be reached. Check the connection and HttpProxy, or let the Stash server download it."
	case errors.Is(err, ErrHttpStatus):
		return "The site refused the request. The link may have expired or need a login."
	case errors.Is(err, ErrNoBody):
		return "The site answered without any content."
	case errors.Is(err, ErrTaskFailed):
		return "The Stash plugin task failed. Check the Stash logs for the task."
	case errors.Is(err, ErrResultMissing):
		return "The download tool exited without writing a result. Check that yt-dlp is installed on the Stash server."
	case errors.Is(err, ErrToolReported):
		return "The download tool reported an error; the site may not be supported."
	case errors.Is(err, ErrNoHost):
		return "Configure StashUrl and ApiKey to enable server-side downloads."
	case errors.Is(err, ErrFileSystem):
		return "The file could not be written. Check SavePath permissions and free space."
	}
	return ""
}
