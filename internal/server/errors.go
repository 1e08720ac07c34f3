package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/rangehttp/internal/logger"
)

// jsonMarshalFunc allows swapping out json.Marshal for testing.
var jsonMarshalFunc = json.Marshal

// ErrorDetail is the inner object of a JSON error body.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON is the JSON error body.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

type htmlMessage struct {
	Title   string
	Heading string
	Message string
}

var defaultHTMLMessages = map[int]htmlMessage{
	http.StatusNotFound: {
		Title:   "404 Not Found",
		Heading: "Not Found",
		Message: "The requested resource was not found on this server.",
	},
	http.StatusInternalServerError: {
		Title:   "500 Internal Server Error",
		Heading: "Internal Server Error",
		Message: "The server encountered an internal error and was unable to complete your request.",
	},
	http.StatusMethodNotAllowed: {
		Title:   "405 Method Not Allowed",
		Heading: "Method Not Allowed",
		Message: "The requested method is not supported for this resource.",
	},
	http.StatusBadRequest: {
		Title:   "400 Bad Request",
		Heading: "Bad Request",
		Message: "The server cannot process the request due to a client error.",
	},
}

// PrefersJSON reports whether the most preferred media type in an Accept
// header value is application/json. Ties on q-value go to the more specific
// type, then to the earlier one. An empty or fully rejected header means HTML.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool
		order     int
	}
	var offers []offer

	for i, part := range strings.Split(acceptHeaderValue, ",") {
		part = strings.TrimSpace(part)
		mediaType, params, _ := strings.Cut(part, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
		if mediaType == "" {
			continue
		}
		q := 1.0
		for _, param := range strings.Split(params, ";") {
			param = strings.TrimSpace(param)
			if !strings.HasPrefix(param, "q=") {
				continue
			}
			parsed, err := strconv.ParseFloat(param[2:], 64)
			if err != nil || parsed < 0 || parsed > 1 {
				parsed = 0
			}
			q = parsed
			break
		}
		// A q of zero means "not acceptable".
		if q > 0 {
			offers = append(offers, offer{
				mediaType: mediaType,
				q:         q,
				specific:  !strings.HasSuffix(mediaType, "/*"),
				order:     i,
			})
		}
	}
	if len(offers) == 0 {
		return false
	}

	sort.Slice(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})
	return offers[0].mediaType == "application/json"
}

// WriteErrorResponse sends a complete error response on stream. The body is
// JSON when acceptHeader prefers it and HTML otherwise; extraHeaders (for
// example allow on a 405) are appended to the standard set.
func WriteErrorResponse(stream ResponseWriter, statusCode int, acceptHeader string, detailMessage string, extraHeaders []HeaderField, log *logger.Logger) error {
	log.Debug("Writing error response", logger.LogFields{
		"status_code": statusCode,
		"detail":      detailMessage,
		"request_id":  StreamID(stream),
	})

	statusText := http.StatusText(statusCode)
	if statusText == "" {
		statusText = "Error"
	}

	var body []byte
	contentType := "application/json; charset=utf-8"
	sendJSON := PrefersJSON(acceptHeader)
	if sendJSON {
		var err error
		body, err = jsonMarshalFunc(ErrorResponseJSON{Error: ErrorDetail{
			StatusCode: statusCode,
			Message:    statusText,
			Detail:     detailMessage,
		}})
		if err != nil {
			log.Error("Failed to marshal JSON error response, falling back to HTML", logger.LogFields{"error": err.Error(), "status_code": statusCode})
			sendJSON = false
		}
	}
	if !sendJSON {
		contentType = "text/html; charset=utf-8"
		body = htmlErrorBody(statusCode, statusText, detailMessage)
	}

	headers := []HeaderField{
		{Name: "content-type", Value: contentType},
		{Name: "content-length", Value: strconv.Itoa(len(body))},
		{Name: "cache-control", Value: "no-cache, no-store, must-revalidate"},
		{Name: "pragma", Value: "no-cache"},
		{Name: "expires", Value: "0"},
	}
	headers = append(headers, extraHeaders...)

	if err := stream.SendHeaders(statusCode, headers, len(body) == 0); err != nil {
		log.Error("Failed to send error response headers", logger.LogFields{"error": err.Error(), "request_id": StreamID(stream), "status_code": statusCode})
		return fmt.Errorf("failed to send error response headers (status %d) for request %v: %w", statusCode, StreamID(stream), err)
	}
	if len(body) > 0 {
		if _, err := stream.WriteData(body, true); err != nil {
			log.Error("Failed to send error response body", logger.LogFields{"error": err.Error(), "request_id": StreamID(stream), "status_code": statusCode})
			return fmt.Errorf("failed to send error response body (status %d) for request %v: %w", statusCode, StreamID(stream), err)
		}
	}
	return nil
}

// SendDefaultErrorResponse writes an error response negotiated against req's
// Accept header. req may be nil, which selects HTML. Failures are logged only.
func SendDefaultErrorResponse(stream ResponseWriter, statusCode int, req *http.Request, optionalDetail string, log *logger.Logger) {
	SendErrorResponseWithHeaders(stream, statusCode, req, optionalDetail, nil, log)
}

// SendErrorResponseWithHeaders is SendDefaultErrorResponse with extra headers.
func SendErrorResponseWithHeaders(stream ResponseWriter, statusCode int, req *http.Request, optionalDetail string, extraHeaders []HeaderField, log *logger.Logger) {
	accept := ""
	if req != nil {
		accept = req.Header.Get("Accept")
	}
	// WriteErrorResponse has already logged the cause; the client is likely gone.
	_ = WriteErrorResponse(stream, statusCode, accept, optionalDetail, extraHeaders, log)
}

func htmlErrorBody(statusCode int, statusText, detailMessage string) []byte {
	msg, known := defaultHTMLMessages[statusCode]
	if !known {
		msg = htmlMessage{
			Title:   fmt.Sprintf("%d %s", statusCode, statusText),
			Heading: statusText,
			Message: "The server encountered an error processing your request.",
		}
	}
	text := html.EscapeString(msg.Message)
	if detailMessage != "" {
		if known {
			text += " " + html.EscapeString(detailMessage)
		} else {
			text = html.EscapeString(detailMessage)
		}
	}
	return []byte(fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`,
		html.EscapeString(msg.Title), html.EscapeString(msg.Heading), text))
}

// StreamID returns the request ID of s when it carries one.
func StreamID(s ResponseWriter) interface{} {
	if st, ok := s.(interface{ ID() uint64 }); ok {
		return st.ID()
	}
	return "unknown"
}
