// Package webclient fetches plain HTTP resources outside the browser, such
// as the script bundles a page references.
package webclient

import "context"

type WebClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	Get(ctx context.Context, url string) (*Response, error)

	Close() error
}
