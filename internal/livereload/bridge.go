// Package livereload proxies a development web server and tells connected
// browsers to reload when built files change.
package livereload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gin-gonic/gin"
)

const (
	// ClientPath serves the browser script.
	ClientPath = "/__oscar/client.js"
	// EventsPath is the Server-Sent Events stream browsers subscribe to.
	EventsPath = "/__oscar/events"
)

// Message kinds sent to browsers.
const (
	Inject = "inject"
	Reload = "reload"
)

// Message is one change notification.
type Message struct {
	Kind string
	Path string
}

var snippet = []byte(`<script async src="` + ClientPath + `"></script>`)

const clientScript = `(function () {
  var source = new EventSource(%q);
  source.addEventListener(%q, function () { window.location.reload(); });
  source.addEventListener(%q, function (e) {
    var name = e.data.split("/").pop();
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    var swapped = false;
    for (var i = 0; i < links.length; i++) {
      var href = links[i].href.split("?")[0];
      if (href.split("/").pop() === name) {
        links[i].href = href + "?oscar=" + Date.now();
        swapped = true;
      }
    }
    if (!swapped) { window.location.reload(); }
  });
})();
`

// Bridge is the reverse proxy plus the registry of connected browsers.
type Bridge struct {
	target *url.URL
	ignore []string
	logger *slog.Logger
	engine *gin.Engine

	mu      sync.Mutex
	clients map[uint64]chan Message
	nextID  uint64
	closed  bool
}

// New builds a bridge proxying to target. Requests whose path matches one of
// ignorePaths are proxied untouched.
func New(target string, ignorePaths []string, logger *slog.Logger) (*Bridge, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy target: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("proxy target %q must be an absolute http(s) URL", target)
	}
	for _, p := range ignorePaths {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore path pattern %q", p)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		target:  u,
		ignore:  ignorePaths,
		logger:  logger,
		clients: make(map[uint64]chan Message),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET(ClientPath, b.serveClient)
	engine.GET(EventsPath, b.serveEvents)
	engine.NoRoute(gin.WrapH(b.proxy()))
	b.engine = engine

	return b, nil
}

// Handler returns the HTTP handler serving the proxy and the event stream.
func (b *Bridge) Handler() http.Handler {
	return b.engine
}

// Clients returns the number of connected browsers.
func (b *Bridge) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Notify tells every browser about changed files. Stylesheets are swapped in
// place; anything else reloads the page.
func (b *Bridge) Notify(paths ...string) {
	for _, p := range paths {
		msg := Message{Kind: Reload, Path: p}
		if strings.EqualFold(path.Ext(p), ".css") {
			msg.Kind = Inject
		}
		b.broadcast(msg)
	}
}

func (b *Bridge) broadcast(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.clients {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("dropping message for slow browser", "client", id, "kind", msg.Kind, "path", msg.Path)
		}
	}
	b.logger.Debug("notified browsers", "kind", msg.Kind, "path", msg.Path, "clients", len(b.clients))
}

func (b *Bridge) connect() (uint64, chan Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, nil, false
	}
	b.nextID++
	ch := make(chan Message, 16)
	b.clients[b.nextID] = ch
	b.logger.Info("browser connected", "clients", len(b.clients))
	return b.nextID, ch, true
}

func (b *Bridge) disconnect(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(ch)
		b.logger.Info("browser disconnected", "clients", len(b.clients))
	}
}

// closeAll ends every event stream so the server can shut down.
func (b *Bridge) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.clients {
		delete(b.clients, id)
		close(ch)
	}
}

func (b *Bridge) serveClient(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8",
		fmt.Appendf(nil, clientScript, EventsPath, Reload, Inject))
}

func (b *Bridge) serveEvents(c *gin.Context) {
	id, ch, ok := b.connect()
	if !ok {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	defer b.disconnect(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(msg.Kind, msg.Path)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (b *Bridge) proxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(b.target)
			r.SetXForwarded()
			// compressed bodies cannot be rewritten; an explicit identity
			// also stops the transport from asking for gzip itself
			r.Out.Header.Set("Accept-Encoding", "identity")
		},
		ModifyResponse: b.inject,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			b.logger.Warn("proxy request failed", "path", r.URL.Path, "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// inject adds the client script to HTML responses.
func (b *Bridge) inject(resp *http.Response) error {
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		return nil
	}
	if resp.Header.Get("Content-Encoding") != "" || b.ignored(resp.Request.URL.Path) {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading proxied body: %w", err)
	}

	body = InjectSnippet(body)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

func (b *Bridge) ignored(p string) bool {
	for _, pattern := range b.ignore {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

var closeBody = []byte("</body>")

// InjectSnippet inserts the client script tag before the last closing body
// tag, or appends it when the document has none. The tag is matched without
// regard to ASCII case; the body may be in any encoding.
func InjectSnippet(html []byte) []byte {
	i := lastCloseBody(html)
	if i < 0 {
		return append(html, snippet...)
	}
	out := make([]byte, 0, len(html)+len(snippet))
	out = append(out, html[:i]...)
	out = append(out, snippet...)
	return append(out, html[i:]...)
}

func lastCloseBody(html []byte) int {
	for end := len(html); end > 0; {
		i := bytes.LastIndex(html[:end], []byte("</"))
		if i < 0 {
			return -1
		}
		if i+len(closeBody) <= len(html) && bytes.EqualFold(html[i:i+len(closeBody)], closeBody) {
			return i
		}
		end = i
	}
	return -1
}

// Serve listens on addr until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           b.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(b.closeAll)

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("live reload proxy listening", "addr", addr, "target", b.target.String())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("live reload server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down live reload server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
