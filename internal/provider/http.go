package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 64 << 10

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// apiError is the error body shape shared by the REST providers
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// postJSON sends payload as JSON and turns any non-2xx answer into a Failure
func postJSON(ctx context.Context, client *http.Client, url string, payload any, header http.Header) *Failure {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Failure{Kind: KindOther, Detail: fmt.Sprintf("failed to encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Failure{Kind: KindOther, Detail: fmt.Sprintf("failed to create request: %v", err)}
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return NewFailure(0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return NewFailure(resp.StatusCode, errorDetail(resp.StatusCode, data))
}

// errorDetail builds a failure text from an error response
func errorDetail(status int, data []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
		if apiErr.Code != "" {
			return fmt.Sprintf("%s: %s (HTTP %d)", apiErr.Code, apiErr.Message, status)
		}
		return fmt.Sprintf("%s (HTTP %d)", apiErr.Message, status)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Sprintf("request failed with HTTP %d", status)
	}
	if len(text) > 200 {
		text = text[:200]
	}
	return fmt.Sprintf("request failed with HTTP %d: %s", status, text)
}
