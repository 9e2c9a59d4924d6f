package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Envelope is the body shape of every backend response.
type Envelope struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data,omitempty"`

	// Body is the raw response. Some endpoints put fields next to data.
	Body []byte `json:"-"`
}

// OK reports a zero application status.
func (e *Envelope) OK() bool {
	return e.Status == StatusOK
}

// Err returns a *StatusError for a non-zero status.
func (e *Envelope) Err() error {
	if e.OK() {
		return nil
	}
	return &StatusError{Status: e.Status, Msg: e.Msg}
}

// DecodeData unmarshals the data field into v. A missing or null data field
// leaves v untouched.
func (e *Envelope) DecodeData(v any) error {
	data := bytes.TrimSpace(e.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedResponse, err)
	}
	return nil
}

// Decode unmarshals the whole body into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// ParseEnvelope decodes a response body.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	env.Body = body
	return &env, nil
}

// Call sends r and decodes the envelope. Any HTTP status other than 200 is
// an *APIError. A non-zero application status is not an error here, see
// Envelope.Err.
func (c *Client) Call(ctx context.Context, r Request) (*Envelope, error) {
	resp, err := c.Send(ctx, r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return ParseEnvelope(body)
}
