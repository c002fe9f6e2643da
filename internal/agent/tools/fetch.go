package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	fetchTimeout      = 15 * time.Second
	fetchMaxChars     = 120_000
	fetchMaxBodyBytes = 4 << 20
	fetchUserAgent    = "Mozilla/5.0 (compatible; Loom/1.0)"
)

// FetchTool retrieves a URL and returns its visible text.
type FetchTool struct {
	client *http.Client
}

func NewFetchTool() *FetchTool {
	return &FetchTool{client: &http.Client{Timeout: fetchTimeout}}
}

func (t *FetchTool) Name() string { return "fetch" }

func (t *FetchTool) Description() string {
	return "Fetch a web page by URL and return its visible text content. HTTP and HTTPS only."
}

func (t *FetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string"},
			"max_chars": {"type": "integer", "description": "Truncate the extracted text to this many characters"}
		},
		"required": ["url"]
	}`)
}

func (t *FetchTool) RequiresApproval() bool { return true }

// ApprovalRequest keys the always-allow cache on the tool name, so one
// grant covers subsequent fetches in the conversation.
func (t *FetchTool) ApprovalRequest(input json.RawMessage) (string, string) {
	var in fetchInput
	_ = json.Unmarshal(input, &in)
	return in.URL, "fetch"
}

type fetchInput struct {
	URL      string `json:"url"`
	MaxChars int    `json:"max_chars"`
}

func (t *FetchTool) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in fetchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid fetch input: %w", err)
	}

	url := strings.TrimSpace(in.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("invalid URL %q: must start with http:// or https://", in.URL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	contentType := resp.Header.Get("Content-Type")
	text := extractVisibleText(body, contentType)
	title := extractTitle(body, contentType)

	maxChars := in.MaxChars
	if maxChars <= 0 || maxChars > fetchMaxChars {
		maxChars = fetchMaxChars
	}
	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP %d", resp.StatusCode)
	if title != "" {
		fmt.Fprintf(&sb, " — %s", title)
	}
	sb.WriteString("\n\n")
	sb.WriteString(text)
	if truncated {
		sb.WriteString("\n[truncated]")
	}

	res := &Result{Content: sb.String()}
	if resp.StatusCode >= 400 {
		res.IsError = true
	}
	return res, nil
}

var titleRe = regexp.MustCompile(`(?i)<title[^>]*>([^<]*)</title>`)

func extractTitle(raw []byte, contentType string) string {
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return ""
	}
	m := titleRe.FindSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(string(m[1]))
}

// skipElements are elements whose entire subtree is discarded.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Iframe:   true,
}

var multiNewlineRe = regexp.MustCompile(`\n{3,}`)

// extractVisibleText parses HTML and returns only the text a reader would
// see. Non-HTML content passes through unchanged.
func extractVisibleText(raw []byte, contentType string) string {
	if !strings.Contains(strings.ToLower(contentType), "html") {
		return string(raw)
	}
	doc, err := html.Parse(strings.NewReader(string(raw)))
	if err != nil {
		return string(raw)
	}

	var buf strings.Builder
	walkText(doc, &buf)

	text := multiNewlineRe.ReplaceAllString(buf.String(), "\n\n")
	return strings.TrimSpace(text)
}

func walkText(n *html.Node, buf *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if s := strings.TrimSpace(n.Data); s != "" {
			buf.WriteString(s)
			buf.WriteString(" ")
		}
		return
	case html.ElementNode:
		if skipElements[n.DataAtom] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, buf)
	}
	if n.Type == html.ElementNode && isBlockElement(n.DataAtom) {
		buf.WriteString("\n")
	}
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Ul, atom.Ol, atom.Table, atom.Tr, atom.Br, atom.Pre, atom.Blockquote:
		return true
	}
	return false
}
