package transport

import "context"

// Doer executes remote calls. HTTPClient is the production implementation.
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}
