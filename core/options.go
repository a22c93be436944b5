package kernel

import (
	"time"

	"github.com/SeleneOSv1/Selene-OS-sub006/core/config"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/continuity"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/events"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/governor"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/ledger"
)

type KernelOption func(*Kernel)

// WithLedgerStore sets the append-only store decisions are recorded to.
// Defaults to the in-memory store.
func WithLedgerStore(store ledger.Store) KernelOption {
	return func(k *Kernel) { k.ledger = store }
}

// WithConfigSnapshot installs the active configuration snapshot.
func WithConfigSnapshot(snapshot config.Snapshot) KernelOption {
	return func(k *Kernel) { k.snapshot = snapshot }
}

// WithContinuityController replaces the built-in continuity controller,
// for hosts that share one store across kernels.
func WithContinuityController(controller *continuity.Controller) KernelOption {
	return func(k *Kernel) { k.continuity = controller }
}

// WithGovernor sets the budget governor consulted by ApplyGovernorReview.
func WithGovernor(g *governor.Governor) KernelOption {
	return func(k *Kernel) { k.governor = g }
}

// WithEventHandler registers the host callback for kernel events.
func WithEventHandler(handler func(events.Event)) KernelOption {
	return func(k *Kernel) {
		if handler == nil {
			k.emit = noopEventEmitter
			return
		}
		k.emit = handler
	}
}

// WithTraceMode records read-only moves to the ledger as well.
func WithTraceMode() KernelOption {
	return func(k *Kernel) { k.traceMode = true }
}

// WithClock overrides the kernel clock, for tests.
func WithClock(clock func() time.Time) KernelOption {
	return func(k *Kernel) { k.clock = clock }
}
