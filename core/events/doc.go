// Package events defines the dispatch lifecycle events emitted on the
// event bus.
//
// Lifecycle events carry the full record after the change (nil for
// deletions) so subscribers never need a follow-up read. Activation
// state changes travel on their own typed stream owned by the
// activation package.
package events
