package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/voucherscan/internal/types"
	"github.com/imroc/req/v3"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPClient posts raw image bytes to a REST OCR endpoint that answers
// {"text": "..."} on success and {"error": "..."} otherwise.
type HTTPClient struct {
	endpoint string
	client   *req.Client
}

// NewHTTPClient builds a client for endpoint. timeout bounds the whole
// round trip; zero leaves it to the caller's context.
func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	c := req.C().
		SetUserAgent("voucherscan").
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTPClient{endpoint: endpoint, client: c}
}

func (h *HTTPClient) Recognize(ctx context.Context, image []byte) (string, error) {
	var ok types.TextResult
	var fail types.ErrorResult

	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetBodyBytes(image).
		SetSuccessResult(&ok).
		SetErrorResult(&fail).
		Post(h.endpoint)
	if err != nil {
		return "", Wrap("http", err)
	}
	if resp.IsErrorState() {
		msg := fail.Error
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %s", resp.Status)
		}
		return "", &ServiceError{Backend: "http", Message: msg}
	}
	if !resp.IsSuccessState() {
		return "", &ServiceError{Backend: "http", Message: fmt.Sprintf("unexpected status %s", resp.Status)}
	}
	if ok.Error != "" {
		return "", &ServiceError{Backend: "http", Message: ok.Error}
	}
	return ok.Text, nil
}
