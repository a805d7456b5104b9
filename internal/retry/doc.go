// Package retry implements the per-connection retry state machine.
//
// Every upstream connection (REST poller, WebSocket ingest) owns one
// Machine:
//   - Tracks idle/connecting/connected and the two retry phases
//   - Phase 1: fixed short waits, up to a consecutive-failure limit
//   - Phase 2: fixed long waits, indefinitely, until a success
//   - Forced reconnects bypass the pending wait without touching counters
//   - Accumulates the request/message counters the health surface reports
package retry
