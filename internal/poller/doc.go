// Package poller implements the per-account REST polling loops.
//
// Each account runs two loops:
//   - Account state (balance + positions) on a short interval
//   - Active orders on a longer interval, fanned out per position market
//
// Every request flows through the account's retry machine: while the
// machine is waiting out a retry phase the loops keep ticking but skip
// the upstream call, so a forced reconnect takes effect on the next
// tick. Successful fetches land in the cache; failures leave the last
// cached value untouched.
package poller
