// Package roomkeys owns the per-room content key entries and their
// distribution state machine.
//
// Allowed transitions per room:
//
//	Missing → Requested → Active            (normal request path)
//	Missing|Active → Suggested → Active     (peer proposes a key)
//	Suggested → Rejected → Missing          (suggestion declined)
//	Active → Missing                        (explicit reset only)
//
// Exactly one entry may be Active per room; superseding entries replace,
// never merge. Retired key versions are kept as history for diagnostics
// but are never used to decrypt. Suggestions are transient and held in
// memory only; active keys are persisted as JSON on disk (mode 0600).
package roomkeys
