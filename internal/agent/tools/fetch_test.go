package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractVisibleText(t *testing.T) {
	page := `<html><head>
		<title>Release Notes</title>
		<script>var tracking = true;</script>
		<style>body { color: red }</style>
	</head><body>
		<h1>Release Notes</h1>
		<p>Version 2.1 ships today.</p>
		<noscript>Enable JavaScript</noscript>
	</body></html>`

	text := extractVisibleText([]byte(page), "text/html; charset=utf-8")
	assert.Contains(t, text, "Release Notes")
	assert.Contains(t, text, "Version 2.1 ships today.")
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "Enable JavaScript")
}

func TestExtractVisibleTextPassesThroughNonHTML(t *testing.T) {
	body := `{"status":"ok"}`
	assert.Equal(t, body, extractVisibleText([]byte(body), "application/json"))
}

func TestExtractTitle(t *testing.T) {
	page := `<html><head><title>  Hello  </title></head><body></body></html>`
	assert.Equal(t, "Hello", extractTitle([]byte(page), "text/html"))
	assert.Equal(t, "", extractTitle([]byte(page), "application/json"))
	assert.Equal(t, "", extractTitle([]byte("<html></html>"), "text/html"))
}
