//nolint:revive // exported
package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"the-dev-tools/apidiff/pkg/compress"

	"golang.org/x/net/html/charset"
)

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Response is the transport-level capture: status, raw UTF-8 body bytes,
// header multimap, protocol, and wall time.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	Proto      string
	Elapsed    time.Duration
}

// DoAndRead executes the request, reads the full body, reverses any
// Content-Encoding, and normalizes the charset to UTF-8.
func DoAndRead(client HttpClient, req *http.Request) (Response, error) {
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return Response{}, err
	}

	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))
	if encoding != "" && encoding != "identity" {
		decoded, err := compress.DecompressWithContentEncodeStr(body, encoding)
		if err == nil {
			body = decoded
		}
	}

	// Convert body to UTF-8 if content-type specifies a charset
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && len(body) > 0 {
		reader, err := charset.NewReader(bytes.NewReader(body), contentType)
		if err == nil {
			converted, err := io.ReadAll(reader)
			if err == nil {
				body = converted
			}
		}
	}

	return Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
		Proto:      resp.Proto,
		Elapsed:    elapsed,
	}, nil
}

// LowercaseHeaders converts an http.Header into the lowercase multimap the
// comparator works over. Value order within one name is preserved.
func LowercaseHeaders(h http.Header) map[string][]string {
	result := make(map[string][]string, len(h))
	for key, values := range h {
		lower := strings.ToLower(key)
		result[lower] = append(result[lower], values...)
	}
	return result
}
