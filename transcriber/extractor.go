package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxDocumentSize = 10 << 20

var errDocumentUnavailable = errors.New("document unavailable")

// Extractor fetches the rendered transcription page and reduces it to text.
type Extractor struct {
	baseURL  string
	attempts uint
	interval time.Duration
	http     *http.Client
	log      zerolog.Logger
}

// NewExtractor creates an extractor for the service at baseURL. The page is
// requested up to attempts times with exponential backoff starting at interval.
func NewExtractor(baseURL string, attempts uint, interval time.Duration, log zerolog.Logger) *Extractor {
	if attempts == 0 {
		attempts = 1
	}
	return &Extractor{
		baseURL:  strings.TrimRight(baseURL, "/"),
		attempts: attempts,
		interval: interval,
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

// DocumentURL returns where the service publishes the result for a request.
func (e *Extractor) DocumentURL(userID, requestID string) string {
	return fmt.Sprintf("%s/transcriptions/%s/%s/%s.html",
		e.baseURL, url.PathEscape(userID), url.PathEscape(requestID), url.PathEscape(requestID))
}

// Fetch returns the transcription text for the request. The boolean is false
// when the page could not be retrieved or holds no text; neither case is an
// error for the caller.
func (e *Extractor) Fetch(ctx context.Context, userID, requestID string) (string, bool) {
	docURL := e.DocumentURL(userID, requestID)
	log := e.log.With().Str("request_id", requestID).Str("url", docURL).Logger()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.interval
	b.MaxInterval = 30 * time.Second

	doc, err := backoff.Retry(ctx, func() (string, error) {
		return e.get(ctx, docURL)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("retry_in", next).Msg("Transcription page not ready")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch transcription page")
		return "", false
	}

	text := ExtractText(doc)
	if text == "" {
		return "", false
	}
	return text, true
}

func (e *Extractor) get(ctx context.Context, docURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", errDocumentUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ExtractText isolates the body of an HTML document, drops all markup and
// collapses whitespace into a single line.
func ExtractText(doc string) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}

	body := findBody(root)
	if body == nil {
		return ""
	}

	var sb strings.Builder
	collectText(body, &sb)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// collectText concatenates text nodes as they appear. Inline markup joins
// its neighbours; block elements and line breaks separate words.
func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Br:
			sb.WriteByte(' ')
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
	if block {
		sb.WriteByte(' ')
	}
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true, atom.Td: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Pre: true, atom.Blockquote: true,
}
