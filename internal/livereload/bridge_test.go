package livereload_test

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/oscar/internal/livereload"
)

const page = "<html><body><h1>Oscar</h1></body></html>"

func upstream(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.Path, r.Header.Get("Accept-Encoding"))
		if strings.HasSuffix(r.URL.Path, ".json") {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"body":"</body>"}`)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func get(t *testing.T, url string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestProxyInjectsSnippet(t *testing.T) {
	up, seen := upstream(t)
	b, err := livereload.New(up.URL, []string{"/panel", "/panel/**"}, nil)
	require.NoError(t, err)
	proxy := httptest.NewServer(b.Handler())
	defer proxy.Close()

	body := get(t, proxy.URL+"/about")
	assert.Contains(t, body, livereload.ClientPath)
	assert.Less(t, strings.Index(body, livereload.ClientPath), strings.Index(body, "</body>"))

	enc, ok := seen.Load("/about")
	require.True(t, ok)
	assert.Equal(t, "identity", enc, "upstream must be asked for an uncompressed body")
}

func TestProxySkipsPanelAndNonHTML(t *testing.T) {
	up, _ := upstream(t)
	b, err := livereload.New(up.URL, []string{"/panel", "/panel/**"}, nil)
	require.NoError(t, err)
	proxy := httptest.NewServer(b.Handler())
	defer proxy.Close()

	assert.Equal(t, page, get(t, proxy.URL+"/panel"))
	assert.Equal(t, page, get(t, proxy.URL+"/panel/pages/home"))
	assert.Equal(t, `{"body":"</body>"}`, get(t, proxy.URL+"/api/data.json"))
	assert.Contains(t, get(t, proxy.URL+"/panelists"), livereload.ClientPath)
}

func TestInjectSnippet(t *testing.T) {
	out := string(livereload.InjectSnippet([]byte("<p>a</p></BODY>")))
	assert.True(t, strings.HasSuffix(out, "</script></BODY>"))

	out = string(livereload.InjectSnippet([]byte("<p>fragment</p>")))
	assert.True(t, strings.HasPrefix(out, "<p>fragment</p><script"))
}

func TestInjectSnippetKeepsByteOffsets(t *testing.T) {
	tag := `<script async src="` + livereload.ClientPath + `"></script>`

	// İ grows when lower-cased, so offsets must come from the original bytes
	page := "<html><body><p>İİİİİİİİ</p></body></html>"
	assert.Equal(t,
		"<html><body><p>İİİİİİİİ</p>"+tag+"</body></html>",
		string(livereload.InjectSnippet([]byte(page))))

	latin1 := []byte("<html><body><p>caf\xe9 cr\xe8me</p></Body></html>")
	want := append([]byte("<html><body><p>caf\xe9 cr\xe8me</p>"), tag...)
	want = append(want, "</Body></html>"...)
	assert.Equal(t, want, livereload.InjectSnippet(latin1))

	// a later "</" that is not the body tag is skipped
	assert.Equal(t,
		"<body>x"+tag+"</body><!-- </div> -->",
		string(livereload.InjectSnippet([]byte("<body>x</body><!-- </div> -->"))))
}

func TestClientScript(t *testing.T) {
	up, _ := upstream(t)
	b, err := livereload.New(up.URL, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, livereload.ClientPath, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), livereload.EventsPath)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
}

func TestNewRejectsBadTarget(t *testing.T) {
	for _, target := range []string{"", "192.168.100.100", "ftp://example.com", "http://"} {
		_, err := livereload.New(target, nil, nil)
		assert.Error(t, err, target)
	}
	_, err := livereload.New("http://localhost", []string{"/panel/[x"}, nil)
	assert.Error(t, err)
}

func TestEventsStream(t *testing.T) {
	up, _ := upstream(t)
	b, err := livereload.New(up.URL, nil, nil)
	require.NoError(t, err)
	proxy := httptest.NewServer(b.Handler())
	defer proxy.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, proxy.URL+livereload.EventsPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 5*time.Millisecond)

	b.Notify("assets/css/main.css", "site/templates/home.php")

	lines := bufio.NewScanner(resp.Body)
	var got []string
	for len(got) < 4 && lines.Scan() {
		if line := strings.TrimSpace(lines.Text()); line != "" {
			got = append(got, strings.ReplaceAll(line, ": ", ":"))
		}
	}
	assert.Equal(t, []string{
		"event:inject", "data:assets/css/main.css",
		"event:reload", "data:site/templates/home.php",
	}, got)

	cancel()
	require.Eventually(t, func() bool { return b.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServeStopsOnCancel(t *testing.T) {
	up, _ := upstream(t)
	b, err := livereload.New(up.URL, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
