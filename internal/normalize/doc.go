// Package normalize converts raw venue payloads into model types.
//
// The venue's REST and WebSocket surfaces disagree on field names and
// shapes (string vs numeric amounts, wrapped vs bare objects, lists vs
// market-keyed maps), so parsing goes through gjson with alternate
// field names rather than rigid struct tags. Unknown fields are
// ignored; malformed payloads return errors and count as poll failures
// upstream.
package normalize
