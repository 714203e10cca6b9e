// Package speech defines the contract for rendering text to audible speech on
// a device's speaker.
package speech

import "context"

// Renderer speaks text aloud. Say blocks until playback finishes or ctx is
// cancelled.
type Renderer interface {
	Say(ctx context.Context, text string) error
}
