// Package scheduler arms one-shot deferred broadcasts.
//
// Jobs live only in memory. A job leaves the registry exactly once: either
// when its timer fires (before the broadcast starts) or when CancelAll
// removes it. The only cancellation primitive is CancelAll.
package scheduler
