package bridge

import (
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var extensionSchemes = []string{"chrome-extension", "moz-extension", "safari-web-extension"}

// originPolicy decides which browser origins may use the bridge. Requests without an
// Origin header come from non-browser clients and are allowed.
type originPolicy struct {
	mu      sync.RWMutex
	origins map[string]struct{}
}

func newOriginPolicy() *originPolicy {
	return &originPolicy{origins: make(map[string]struct{})}
}

func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

func (p *originPolicy) allow(origins ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range origins {
		if o == "" {
			continue
		}
		norm, ok := normalizeOrigin(o)
		if !ok {
			log.WithField("origin", o).Warn("Ignoring malformed bridge origin")
			continue
		}
		p.origins[norm] = struct{}{}
	}
}

func (p *originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	norm, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	scheme, _, _ := strings.Cut(norm, "://")
	if slices.Contains(extensionSchemes, scheme) {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok = p.origins[norm]
	return ok
}

// guard rejects requests from foreign origins and request bodies that are not JSON.
func (p *originPolicy) guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !p.check(c.Request) {
			log.WithField("origin", c.GetHeader("Origin")).Warn("Rejected bridge request from foreign origin")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if c.Request.ContentLength != 0 && !isJSON(c.GetHeader("Content-Type")) {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be application/json"})
				return
			}
		}
		c.Next()
	}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}
