// Package provider integrates the third-party background-removal APIs. The
// remote services are opaque: one image goes up, a processed PNG comes back.
package provider

import "context"

// Client exposes the subset of provider functionality used by the
// processing flow.
type Client interface {
	// Remove sends the image to the named provider and returns the processed
	// PNG bytes. Errors (including timeouts) are recoverable; callers route
	// them to the local fallback pipeline.
	Remove(ctx context.Context, name string, image []byte) ([]byte, error)
}
