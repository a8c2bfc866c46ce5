package probe

import (
	"context"
	"fmt"

	"github.com/raysh454/permafind/internal/browser"
)

// InjectInterceptor installs the history hooks and starts a fresh capture
// list. Call it right before the action whose navigation is observed.
func InjectInterceptor(ctx context.Context, page browser.Page) error {
	if err := page.Evaluate(ctx, InterceptorJS, nil); err != nil {
		return fmt.Errorf("inject history interceptor: %w", err)
	}
	return nil
}

// CapturedURLs returns the URLs recorded since the last injection.
func CapturedURLs(ctx context.Context, page browser.Page) ([]string, error) {
	var urls []string
	if err := page.Evaluate(ctx, CapturedURLsJS, &urls); err != nil {
		return nil, fmt.Errorf("read captured urls: %w", err)
	}
	return urls, nil
}
