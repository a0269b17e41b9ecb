package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
	// Upper bound for a single response body.
	maxBodyBytes = 8 << 20
)

type triggerResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

func (c *Client) trigger(ctx context.Context, reference string) (string, error) {
	payload, err := json.Marshal([]map[string]string{{"url": reference}})
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("dataset_id", c.datasetID)
	q.Set("include_errors", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/trigger?%s", c.APIURL, q.Encode()), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req = c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)

	status, body, err := c.request(req)
	if err != nil {
		return "", err
	}
	if err := classifyStatus(status, string(body)); err != nil {
		return "", err
	}

	var resp triggerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &Error{Kind: ErrMalformedResponse, StatusCode: status, Message: err.Error()}
	}
	if resp.SnapshotID == "" {
		return "", &Error{Kind: ErrMalformedResponse, StatusCode: status, Message: "empty snapshot id"}
	}

	return resp.SnapshotID, nil
}

func (c *Client) poll(ctx context.Context, snapshotID string) (*Snapshot, error) {
	q := url.Values{}
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/snapshot/%s?%s", c.APIURL, url.PathEscape(snapshotID), q.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req = c.setHeaders(req)

	status, body, err := c.request(req)
	if err != nil {
		return nil, err
	}
	if err := classifyStatus(status, string(body)); err != nil {
		return nil, err
	}

	return decodeSnapshot(status, body)
}

// request performs the call and returns the decoded body. Transport failures are transient.
func (c *Client) request(req *http.Request) (int, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return 0, nil, err
	}

	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.Redacted()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &Error{Kind: ErrTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.StatusCode, nil, &Error{Kind: ErrMalformedResponse, StatusCode: resp.StatusCode, Message: err.Error()}
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &Error{Kind: ErrTransient, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	return resp.StatusCode, body, nil
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)

	return req
}
