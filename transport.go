package dispatch

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Header is a case-insensitive view over an HTTP response's headers,
// since Discord's own gateway and proxies in front of it don't guarantee
// canonical casing.
type Header struct {
	values map[string]string
}

func newHeader() Header {
	return Header{values: make(map[string]string)}
}

func (h Header) set(name, value string) {
	h.values[strings.ToLower(name)] = value
}

// Get returns the header value for name, matched case-insensitively.
func (h Header) Get(name string) string {
	return h.values[strings.ToLower(name)]
}

// WireRequest is what the Request Pipeline asks the HTTP client collaborator
// to send: a fully-resolved URI, already-encoded body, and headers.
type WireRequest struct {
	Method  string
	URI     string
	Headers map[string]string
	Body    []byte
}

// WireResponse is what the HTTP client collaborator hands back.
type WireResponse struct {
	StatusCode int
	Header     Header
	Body       []byte
}

// HTTPClient is the collaborator capable of issuing a single HTTPS request
// and returning a response. dispatch ships a fasthttp-backed implementation
// but accepts any conforming type, so tests can stub it.
type HTTPClient interface {
	Do(ctx context.Context, req WireRequest) (*WireResponse, error)
}

// maxRedirects bounds how many redirects a single send will follow.
const maxRedirects = 5

// fasthttpClient is the default HTTPClient, built on a pooled
// *fasthttp.Client and fasthttp.Acquire/ReleaseRequest.
type fasthttpClient struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// NewFasthttpClient builds the default HTTPClient used when a caller does
// not supply its own.
func NewFasthttpClient(timeout time.Duration) HTTPClient {
	return &fasthttpClient{
		client:  &fasthttp.Client{},
		timeout: timeout,
	}
}

func (c *fasthttpClient) Do(ctx context.Context, wire WireRequest) (*WireResponse, error) {
	uri := wire.URI

	for redirect := 0; redirect <= maxRedirects; redirect++ {
		request := fasthttp.AcquireRequest()
		response := fasthttp.AcquireResponse()

		request.Header.SetMethod(wire.Method)
		request.SetRequestURI(uri)
		request.SetBodyRaw(wire.Body)

		for name, value := range wire.Headers {
			request.Header.Set(name, value)
		}

		timeout := c.timeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout || timeout == 0 {
				timeout = remaining
			}
		}

		err := c.client.DoTimeout(request, response, timeout)
		if err != nil {
			fasthttp.ReleaseRequest(request)
			fasthttp.ReleaseResponse(response)

			return nil, fmt.Errorf("%w", err)
		}

		result := &WireResponse{
			StatusCode: response.StatusCode(),
			Header:     newHeader(),
			Body:       append([]byte(nil), response.Body()...),
		}

		response.Header.VisitAll(func(key, value []byte) {
			result.Header.set(string(key), string(value))
		})

		location := string(response.Header.Peek("Location"))

		fasthttp.ReleaseRequest(request)
		fasthttp.ReleaseResponse(response)

		if !fasthttp.StatusCodeIsRedirect(result.StatusCode) || location == "" {
			return result, nil
		}

		uri = location
	}

	return nil, fmt.Errorf("dispatch: exceeded %d redirects resolving %s", maxRedirects, wire.URI)
}

// buildHeaders assembles the wire headers for a Request.
func buildHeaders(authScheme, token, userAgent string, millisecondPrecision bool, extra map[string]string, contentType string) map[string]string {
	headers := map[string]string{
		"Authorization": authScheme + " " + token,
		"User-Agent":    userAgent,
	}

	if contentType != "" {
		headers["Content-Type"] = contentType
	}

	if millisecondPrecision {
		headers["X-RateLimit-Precision"] = "millisecond"
	}

	for k, v := range extra {
		headers[k] = v
	}

	return headers
}

// quoteEscaper escapes quotes and backslashes in a multipart form field.
var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// buildBody resolves a Request's wire body and Content-Type: a plain JSON
// payload, or a multipart/form-data payload carrying `payload_json` plus
// attachments when Files is non-empty.
func buildBody(req Request) (contentType string, body []byte, err error) {
	if len(req.Files) == 0 {
		if len(req.Body) == 0 {
			return "", nil, nil
		}

		return "application/json", req.Body, nil
	}

	return createMultipartForm(req.Body, req.Files)
}

// createMultipartForm builds a multipart/form-data body carrying a
// `payload_json` part and one `files[n]` part per attachment.
func createMultipartForm(payload []byte, files []File) (string, []byte, error) {
	form := &bytes.Buffer{}
	writer := multipart.NewWriter(form)

	boundary, err := randomBoundary()
	if err != nil {
		return "", nil, fmt.Errorf("error generating multipart form boundary: %w", err)
	}

	if err := writer.SetBoundary(boundary); err != nil {
		return "", nil, fmt.Errorf("error setting multipart form boundary: %w", err)
	}

	if len(payload) > 0 {
		part, err := createPayloadJSONPart(writer)
		if err != nil {
			return "", nil, fmt.Errorf("error adding JSON payload header to multipart form: %w", err)
		}

		if _, err := part.Write(payload); err != nil {
			return "", nil, fmt.Errorf("error writing JSON payload data to multipart form: %w", err)
		}
	}

	for i, file := range files {
		name := "files[" + strconv.Itoa(i) + "]"

		part, err := createFormFilePart(writer, name, file.Name, file.ContentType)
		if err != nil {
			return "", nil, fmt.Errorf("error adding file %q to multipart form: %w", file.Name, err)
		}

		if _, err := part.Write(file.Data); err != nil {
			return "", nil, fmt.Errorf("error writing file %q data to multipart form: %w", file.Name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return "", nil, fmt.Errorf("error closing multipart form: %w", err)
	}

	return writer.FormDataContentType(), form.Bytes(), nil
}

func randomBoundary() (string, error) {
	var buf [30]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", buf[:]), nil
}

func createPayloadJSONPart(w *multipart.Writer) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="payload_json"`)
	h.Set("Content-Type", "application/json")

	return w.CreatePart(h) //nolint:wrapcheck
}

func createFormFilePart(w *multipart.Writer, name, filename, contentType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="%s"; filename="%s"`, name, quoteEscaper.Replace(filename)))

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h.Set("Content-Type", contentType)

	return w.CreatePart(h) //nolint:wrapcheck
}
