// Package provider contains the provider registry and the shared HTTP
// error-classification logic every adapter (openai, anthropic, gemini,
// deepseek) uses to reduce an upstream response to a typed gateway.ErrorKind.
package provider

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var cloudflareStatusCodes = map[int]bool{520: true, 521: true, 522: true, 523: true, 524: true}

// cloudflareMessages mirrors the per-code messages the original adapter
// attaches to Cloudflare edge failures, so operators see something more
// useful than a raw HTML dump in logs.
var cloudflareMessages = map[int]string{
	520: "cloudflare: unknown error from origin server",
	521: "cloudflare: origin server is down",
	522: "cloudflare: connection timed out to origin server",
	523: "cloudflare: origin is unreachable",
	524: "cloudflare: a timeout occurred while waiting for origin server response",
}

// isHTMLErrorPage detects a Cloudflare or generic HTML error page so it is
// never handed to a JSON decoder. Grounded on the original's content-type
// sniffing plus a body heuristic for proxies that mislabel the content
// type.
func isHTMLErrorPage(status int, contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	if !cloudflareStatusCodes[status] {
		return false
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "<html") || strings.Contains(lower, "cloudflare")
}

// ClassifiedError is the minimal shape ClassifyHTTPError reports; adapters
// wrap it into a *gateway.ProviderError with their own provider name.
type ClassifiedError struct {
	Kind       string
	StatusCode int
	Message    string
	RetryAfter *float64
}

// extractMessage best-effort plucks an "error.message" field out of a JSON
// error body without decoding its full shape (every provider nests the
// message slightly differently around it), falling back to a truncated raw
// body, matching how every one of the original Python adapters reports
// non-200 responses.
func extractMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}
	s := string(body)
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

// isAuthMessage reports whether msg reads like an authentication/invalid-key
// failure rather than a generic client error, matching the original
// adapters' `"authentication" in error_message.lower() or ("invalid" in
// error_message.lower() and "api" in error_message.lower())` check. Needed
// because some providers (Gemini in particular) report a bad API key with
// a 400 rather than a 401.
func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "authentication") {
		return true
	}
	return strings.Contains(lower, "invalid") && strings.Contains(lower, "api")
}

// parseRetryAfter parses the Retry-After header as a float number of
// seconds; returns nil if absent or unparsable (Retry-After may also be an
// HTTP-date, which callers treat the same as "absent").
func parseRetryAfter(h http.Header) *float64 {
	v := h.Get("Retry-After")
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

// ClassifyHTTPError reduces a non-2xx upstream HTTP response to the
// provider-agnostic taxonomy from spec §4.2/§7: 429→RateLimit, 5xx and
// Cloudflare 520-524→Transient, 401 or an authentication/invalid-key message
// body→Authentication, other 4xx→Client.
func ClassifyHTTPError(resp *http.Response, body []byte) ClassifiedError {
	status := resp.StatusCode
	html := isHTMLErrorPage(status, resp.Header.Get("Content-Type"), body)

	var msg string
	if html {
		if m, ok := cloudflareMessages[status]; ok {
			msg = m
		} else {
			msg = fmt.Sprintf("upstream returned HTML error page (status %d)", status)
		}
	} else {
		msg = extractMessage(body)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return ClassifiedError{Kind: "rate_limit", StatusCode: status, Message: msg, RetryAfter: parseRetryAfter(resp.Header)}
	case status >= 500 || cloudflareStatusCodes[status]:
		return ClassifiedError{Kind: "transient", StatusCode: status, Message: msg}
	case status == http.StatusUnauthorized:
		return ClassifiedError{Kind: "authentication", StatusCode: status, Message: msg}
	default:
		if isAuthMessage(msg) {
			return ClassifiedError{Kind: "authentication", StatusCode: status, Message: msg}
		}
		return ClassifiedError{Kind: "client", StatusCode: status, Message: msg}
	}
}

// ReadErrorBody reads up to 4KB of a non-2xx response body.
func ReadErrorBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return body
}
