//go:build !unix && !windows

package resource

import "errors"

// NewProvider returns the provider for this platform.
func NewProvider() (Provider, error) {
	return nil, errors.New("resource: no provider for this platform")
}
