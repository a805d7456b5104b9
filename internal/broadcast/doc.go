// Package broadcast pushes cache updates to dashboard WebSocket
// subscribers.
//
// The hub:
//   - Sends a full snapshot to every new subscriber
//   - Re-broadcasts at a fixed cadence, only when data actually changed
//   - Marshals each broadcast once, not per subscriber
//   - Gives every subscriber a bounded queue that drops oldest on
//     overflow, so one slow client never stalls the rest
package broadcast
