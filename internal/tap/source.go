package tap

import (
	"context"
	"errors"
	"fmt"

	"rtpstream-analyzer/pkg/types"
)

// ErrPassActive is returned when a pass is requested while another one runs.
var ErrPassActive = errors.New("a tap pass is already active")

// Source produces passes over a capture. Every pass re-delivers the frames
// selected by its filter, in increasing frame order.
type Source interface {
	// Register prepares a pass. An empty filter selects every frame.
	Register(filter string) (Pass, error)
}

// Pass is one registered traversal of the capture.
type Pass interface {
	// Run delivers each selected frame to fn and stops at the first error
	// returned by fn or when ctx is done.
	Run(ctx context.Context, fn func(pkt *types.Packet) error) error
}

// RegistrationError reports that the source refused a pass.
type RegistrationError struct {
	Filter string
	Err    error
}

func (e *RegistrationError) Error() string {
	if e.Filter == "" {
		return fmt.Sprintf("failed to register tap: %v", e.Err)
	}
	return fmt.Sprintf("failed to register tap with filter %q: %v", e.Filter, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Callbacks are the notifications a Session delivers to its owner. Nil
// members are skipped.
type Callbacks struct {
	// Reset is called after the stream table was cleared for a scan.
	Reset func(s *Session)
	// Draw is called once after a scan completed successfully.
	Draw func(s *Session)
	// MarkPacket is called for every frame that belongs to a marked stream.
	MarkPacket func(s *Session, frame types.Frame)
	// Error receives a user-facing message when a pass cannot be registered.
	Error func(msg string)
}

func (c Callbacks) reset(s *Session) {
	if c.Reset != nil {
		c.Reset(s)
	}
}

func (c Callbacks) draw(s *Session) {
	if c.Draw != nil {
		c.Draw(s)
	}
}

func (c Callbacks) markPacket(s *Session, frame types.Frame) {
	if c.MarkPacket != nil {
		c.MarkPacket(s, frame)
	}
}

func (c Callbacks) error(msg string) {
	if c.Error != nil {
		c.Error(msg)
	}
}
