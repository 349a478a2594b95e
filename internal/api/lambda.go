package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// LambdaHandler adapts API Gateway proxy events to an http.Handler.
type LambdaHandler struct {
	router http.Handler
	logger *slog.Logger
}

// NewLambdaHandler wraps router for use with lambda.Start.
func NewLambdaHandler(router http.Handler, logger *slog.Logger) *LambdaHandler {
	return &LambdaHandler{router: router, logger: logger}
}

// Handle converts the event to an http.Request, runs it through the router
// and converts the recorded response back.
func (h *LambdaHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	// Create a new http.Request from the API Gateway event
	httpReq, err := createHTTPRequest(ctx, req)
	if err != nil {
		h.logger.Error("failed to create HTTP request", "path", req.Path, "error", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"internal server error"}`,
		}, nil
	}

	// Create a response recorder to capture the router's response
	rec := newResponseRecorder()
	h.router.ServeHTTP(rec, httpReq)

	// Convert the captured response to an API Gateway response
	resp := events.APIGatewayProxyResponse{
		StatusCode:        rec.statusCode,
		Headers:           make(map[string]string, len(rec.header)),
		MultiValueHeaders: make(map[string][]string, len(rec.header)),
		Body:              rec.body.String(),
	}
	for key, values := range rec.header {
		if len(values) > 0 {
			resp.Headers[key] = values[0]
		}
		resp.MultiValueHeaders[key] = values
	}
	return resp, nil
}

// createHTTPRequest creates an http.Request from an API Gateway event
func createHTTPRequest(ctx context.Context, req events.APIGatewayProxyRequest) (*http.Request, error) {
	body := req.Body
	if req.IsBase64Encoded && body != "" {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 body: %w", err)
		}
		body = string(decoded)
	}

	// Determine the full request path
	path := req.Path
	for param, value := range req.PathParameters {
		path = strings.ReplaceAll(path, "{"+param+"}", url.PathEscape(value))
	}
	if path == "" {
		path = "/"
	}

	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.HTTPMethod, path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	// Add query parameters, preferring the multi-value form
	query := url.Values{}
	for param, values := range req.MultiValueQueryStringParameters {
		for _, v := range values {
			query.Add(param, v)
		}
	}
	for param, value := range req.QueryStringParameters {
		if _, ok := query[param]; !ok {
			query.Set(param, value)
		}
	}
	httpReq.URL.RawQuery = query.Encode()

	// Add headers
	for key, values := range req.MultiValueHeaders {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for key, value := range req.Headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}
	if ip := req.RequestContext.Identity.SourceIP; ip != "" {
		httpReq.RemoteAddr = ip
	}

	return httpReq, nil
}

// responseRecorder captures the router's HTTP response
type responseRecorder struct {
	header      http.Header
	body        strings.Builder
	statusCode  int
	wroteHeader bool
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header:     http.Header{},
		statusCode: http.StatusOK,
	}
}

// Header implements the http.ResponseWriter interface
func (r *responseRecorder) Header() http.Header {
	return r.header
}

// Write implements the http.ResponseWriter interface
func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

// WriteHeader implements the http.ResponseWriter interface
func (r *responseRecorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	r.statusCode = statusCode
	r.wroteHeader = true
}
