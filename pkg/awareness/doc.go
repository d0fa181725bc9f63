// Package awareness tracks ephemeral per-client presence for one document:
// cursors, selections and user metadata.
//
// Every entry is keyed by a client id and versioned by a per-client clock.
// Remote deltas are merged last-write-wins on that clock. An entry only
// disappears when it is explicitly removed, either by a remote delta carrying
// a null state or by RemoveStates when the owning connection leaves. There is
// no timeout.
//
// # Wire Format
//
//	[Count: varint]
//	  [Client: varint][Clock: varint][State: len-prefixed JSON, "null" = removed]
//	  ...
package awareness
