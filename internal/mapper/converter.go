package mapper

import (
	"context"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// Converter is the actor interface a cloud-specific mapper plugs in: it
// subscribes to local canonical topics and republishes translated cloud
// payloads (spec §4.I point 2, "its behaviour is cloud-specific and out of
// the core's scope; the core specifies only its actor interface").
type Converter interface {
	// Convert translates one locally-published message into zero or more
	// cloud-bound publishes, performed directly against transport.
	Convert(ctx context.Context, msg domain.Message, transport domain.Transport) error
}

// NoopConverter satisfies Converter without translating anything; custom
// (user-defined) mappers use the skeleton with the converter omitted,
// expressing translation as a script pipeline instead (spec §4.I, final
// paragraph).
type NoopConverter struct{}

func (NoopConverter) Convert(ctx context.Context, msg domain.Message, transport domain.Transport) error {
	return nil
}
