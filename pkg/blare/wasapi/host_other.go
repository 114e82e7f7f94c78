//go:build !windows

package wasapi

// NewHost fails outside windows.
func NewHost() (Host, error) {
	return nil, ErrUnsupportedPlatform
}
