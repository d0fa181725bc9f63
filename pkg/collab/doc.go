// Package collab is the collaboration engine: it keeps one live Session per
// open document, merges the edits and presence of every connection attached
// to it, relays them to the other connections, and persists the merged
// document with bounded staleness.
//
// # Components
//
//   - Document: the server replica of a document's replicated state.
//   - Session: a Document, its awareness table and its connections. All
//     mutation happens under the session mutex; nothing is sent while it
//     is held.
//   - Scheduler: debounced persistence of one session (Idle, PendingFlush,
//     Flushing). A change is saved after Debounce of quiet, and never later
//     than MaxWait after it happened.
//   - Registry: document id to Session, with atomic create-or-get. A cold
//     document is loaded from the store exactly once no matter how many
//     connections join it concurrently. The last connection to leave
//     triggers a synchronous flush, then the session is dropped.
//   - Manager: per-connection lifecycle (Connecting, Joined, Left). This is
//     what a transport drives.
//
// # Message flow
//
// On join a connection receives SyncStep1 with the server's state vector,
// followed by the current awareness snapshot if anyone is present. A
// SyncStep1 from the client is answered with a SyncUpdate holding what the
// client is missing. A SyncUpdate (or SyncStep2) that changes the document
// is relayed byte-for-byte to every other connection and schedules a save.
// Awareness deltas are merged and the effective change is relayed once to
// every other connection; when a connection leaves, the presence it
// introduced is removed and that removal is relayed too.
//
// Malformed messages are dropped and counted; they never change state.
package collab
