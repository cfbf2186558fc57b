package apiclient

import (
	"context"
	"encoding/json"
)

// Decoder turns a 2xx response body into a value.
type Decoder[T any] func(body []byte) (T, error)

// JSON decodes the body as a JSON document into T.
func JSON[T any]() Decoder[T] {
	return func(body []byte) (T, error) {
		var v T
		err := json.Unmarshal(body, &v)
		return v, err
	}
}

// Execute runs req through c and decodes the successful response. A body
// that fails to decode is returned as *DecodingError and is not retried.
func Execute[T any](ctx context.Context, c *Client, req Request, decode Decoder[T]) (T, error) {
	var zero T

	body, err := c.Do(ctx, req)
	if err != nil {
		return zero, err
	}

	v, err := decode(body)
	if err != nil {
		c.logger.Error("failed to decode response",
			"method", req.Method,
			"path", req.Path,
			"body", string(body),
			"error", err)
		return zero, &DecodingError{Body: body, Err: err}
	}
	return v, nil
}

