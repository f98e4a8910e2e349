package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go-stash-downloader/internal/models"
	"go-stash-downloader/internal/queue"
	"go-stash-downloader/internal/settings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidURL = errors.New("url must be an absolute http(s) URL")

// AddResult is the reply to addUrl and sendUrl messages.
type AddResult struct {
	ID        string `json:"id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// Server exposes the queue and settings to external senders over HTTP.
type Server struct {
	queue    *queue.Queue
	settings *settings.Store
	bus      *Bus
	mailbox  *Mailbox
	hub      *Hub
	origins  *originPolicy

	mu         sync.Mutex
	currentURL string
	unsubs     []func()
}

// NewServer wires the default bus handlers to q and st. mailbox may be nil.
// Browser origins other than extensions and the stored Stash URL must be added with AllowOrigins.
func NewServer(q *queue.Queue, st *settings.Store, bus *Bus, mailbox *Mailbox) *Server {
	s := &Server{queue: q, settings: st, bus: bus, mailbox: mailbox, origins: newOriginPolicy()}
	s.hub = NewHub(s.origins.check)
	if v, err := st.Get(); err == nil {
		s.origins.allow(v.StashURL)
	}

	addID := bus.Subscribe(ActionAddURL, s.addURL)
	sendID := bus.Subscribe(ActionSendURL, func(m Message) (any, error) {
		s.mu.Lock()
		s.currentURL = m.URL
		s.mu.Unlock()
		return s.addURL(m)
	})
	settingsID := bus.Subscribe(ActionGetSettings, func(Message) (any, error) { return st.Get() })
	tabID := bus.Subscribe(ActionGetCurrentTab, func(Message) (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return Message{Action: ActionGetCurrentTab, URL: s.currentURL}, nil
	})
	stopEvents := q.Subscribe(func(e queue.Event) { s.hub.BroadcastJSON(e) })

	s.unsubs = []func(){
		func() { bus.Unsubscribe(addID) },
		func() { bus.Unsubscribe(sendID) },
		func() { bus.Unsubscribe(settingsID) },
		func() { bus.Unsubscribe(tabID) },
		stopEvents,
	}
	return s
}

// AllowOrigins lets browser pages on the given origins use the bridge.
func (s *Server) AllowOrigins(origins ...string) {
	s.origins.allow(origins...)
}

// Close detaches the server from the bus and the queue.
func (s *Server) Close() {
	for _, fn := range s.unsubs {
		fn()
	}
	s.unsubs = nil
}

func (s *Server) addURL(m Message) (any, error) {
	if err := validateURL(m.URL); err != nil {
		return nil, err
	}
	hint, ok := models.ParseContentType(m.ContentType)
	if !ok {
		log.WithField("contentType", m.ContentType).Warn("Ignoring unknown content type hint")
	}
	id, added := s.queue.AddWithHint(m.URL, hint, nil)
	return AddResult{ID: id, Duplicate: !added}, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// DrainMailbox publishes every queued message and returns how many were delivered.
func DrainMailbox(mb *Mailbox, bus *Bus) (int, error) {
	msgs, err := mb.Drain()
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, m := range msgs {
		if bus.Publish(m) > 0 {
			delivered++
		}
	}
	if len(msgs) > 0 {
		log.Infof("Delivered %d of %d queued external URLs", delivered, len(msgs))
	}
	return delivered, nil
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(s.origins.guard())

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": s.hub.Count()})
	})
	api.POST("/urls", s.postURL)
	api.POST("/messages", s.postMessage)
	api.GET("/queue", s.getQueue)
	api.DELETE("/queue/:id", s.deleteItem)
	api.POST("/queue/:id/retry", s.retryItem)
	api.POST("/queue/clear-completed", s.clearCompleted)
	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.putSettings)
	api.GET("/events", s.hub.Handler())
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("Bridge request")
	}
}

// postURL accepts {url, contentType}. Without a queue consumer the message goes to the mailbox.
func (s *Server) postURL(c *gin.Context) {
	var m Message
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.Action = ActionAddURL
	if err := validateURL(m.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reply, err := s.bus.Request(m)
	if errors.Is(err, ErrNoHandler) && s.mailbox != nil {
		if err := s.mailbox.Push(m); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": true})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, _ := reply.(AddResult)
	if res.Duplicate {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) postMessage(c *gin.Context) {
	var m Message
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reply, err := s.bus.Request(m)
	switch {
	case errors.Is(err, ErrNoHandler):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, reply)
	}
}

func (s *Server) getQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.queue.Items(), "stats": s.queue.Stats()})
}

func (s *Server) deleteItem(c *gin.Context) {
	if !s.queue.Remove(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) retryItem(c *gin.Context) {
	if !s.queue.Retry(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	item, _ := s.queue.Get(c.Param("id"))
	c.JSON(http.StatusOK, item)
}

func (s *Server) clearCompleted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.queue.ClearCompleted()})
}

func (s *Server) getSettings(c *gin.Context) {
	v, err := s.settings.Get()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) putSettings(c *gin.Context) {
	var v models.Settings
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.settings.Save(v); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

// ListenAndServe runs the bridge on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Bridge listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
