package resilience

import (
	"context"

	"github.com/MrWong99/dictaphone/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens streams on the first healthy
// backend. Failover covers stream start only; a stream that breaks later is
// the caller's to reopen.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an STTFallback preferring primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Names lists the backends in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// States reports each backend's breaker state.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// StartStream implements [stt.Provider].
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
