// Package hook implements the hook-dispatch engine: hook specifications and
// implementations, the per-hook caller that keeps implementations ordered, and
// the multicall algorithm that runs them.
//
// Ordering:
//   - Implementations are split into regular ones and wrappers (Wrapper or
//     LegacyWrapper). Wrappers always surround the regular implementations.
//   - Within each group TryFirst implementations run before unflagged ones,
//     which run before TryLast ones. Among equal flags the most recently
//     registered implementation runs first.
//
// Wrappers:
//   - A wrapper implementation returns a Frame. The engine enters the frame,
//     runs the inner implementations, then resumes the frame with the outcome.
//   - Frames are resumed innermost first. A frame may pass the outcome
//     through, replace it (ForceResult), or fail it (ForceException or a
//     returned error).
//
// Historic hooks:
//   - Calls made with CallHistoric are remembered and replayed into every
//     implementation registered afterwards.
//
// Callers and registries are not safe for concurrent use; serialize access
// externally.
package hook
