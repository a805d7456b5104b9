// Package lighter provides access to the venue's REST API.
//
// One Client per account: the account's proxy and auth token ride on
// the client, while the outbound rate budget is a single limiter shared
// by every client so the process-wide request rate stays inside the
// venue's allowance. The limiter queues requests; it never rejects
// them.
package lighter
