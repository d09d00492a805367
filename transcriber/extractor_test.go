package transcriber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jupark12/voice-transcriber/logger"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "paragraphs collapse to one line",
			doc:  "<html><head><title>T</title></head><body>\n<h1>Result</h1>\n<p>hello\n   world</p></body></html>",
			want: "Result hello world",
		},
		{
			name: "script and style dropped",
			doc:  "<html><head><style>p{}</style></head><body><script>var x = 1;</script><div>olá <b>mundo</b></div></body></html>",
			want: "olá mundo",
		},
		{
			name: "inline markup joins, blocks separate",
			doc:  "<body><p>Hel<b>lo</b></p><p>there<br>again</p></body>",
			want: "Hello there again",
		},
		{
			name: "empty body",
			doc:  "<html><body>   \n\t </body></html>",
			want: "",
		},
		{
			name: "fragment without body tag",
			doc:  "<p>just text</p>",
			want: "just text",
		},
		{
			name: "empty document",
			doc:  "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(tt.doc); got != tt.want {
				t.Errorf("ExtractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractor_DocumentURL(t *testing.T) {
	e := NewExtractor("http://127.0.0.1:5502/", 1, 0, logger.Nop())
	want := "http://127.0.0.1:5502/transcriptions/551199999999/r1/r1.html"
	if got := e.DocumentURL("551199999999", "r1"); got != want {
		t.Errorf("DocumentURL() = %q, want %q", got, want)
	}
}

func TestExtractor_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcriptions/551199999999/r1/r1.html" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<html><body><p>hello world</p></body></html>"))
	}))
	defer srv.Close()

	e := NewExtractor(srv.URL, 1, 0, logger.Nop())
	text, ok := e.Fetch(context.Background(), "551199999999", "r1")
	if !ok || text != "hello world" {
		t.Errorf("Fetch() = %q, %v", text, ok)
	}
}

func TestExtractor_FetchRetriesUntilReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("<body>ready</body>"))
	}))
	defer srv.Close()

	e := NewExtractor(srv.URL, 3, 0, logger.Nop())
	text, ok := e.Fetch(context.Background(), "u", "r")
	if !ok || text != "ready" {
		t.Errorf("Fetch() = %q, %v", text, ok)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestExtractor_FetchNone(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }},
		{"empty body", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html><body></body></html>")) }},
		{"whitespace only", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<body>\n  <div> </div></body>")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			e := NewExtractor(srv.URL, 2, 0, logger.Nop())
			text, ok := e.Fetch(context.Background(), "u", "r")
			if ok || text != "" {
				t.Errorf("Fetch() = %q, %v, want none", text, ok)
			}
		})
	}
}

func TestExtractor_FetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := NewExtractor(url, 1, 0, logger.Nop())
	if text, ok := e.Fetch(context.Background(), "u", "r"); ok {
		t.Errorf("expected none, got %q", text)
	}
}
