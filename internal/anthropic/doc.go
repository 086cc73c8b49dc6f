// Package anthropic provides Anthropic Messages API types for server-side
// request/response handling.
//
// The types are hand-maintained rather than taken from an SDK:
//
//  1. SERVER-SIDE vs CLIENT-SIDE: SDKs are designed for making outbound API
//     calls TO Anthropic. This gateway receives inbound requests FROM clients
//     and relays them to other providers. SDK param types (param.Opt fields,
//     custom marshaling) fight server-side JSON decoding.
//
//  2. UNION FIELDS: message content, system prompts and thinking config all
//     accept more than one JSON shape. Small custom UnmarshalJSON methods on
//     plain structs handle this with encoding/json directly.
//
//  3. FIDELITY: unknown upstream fields must round-trip untouched, so schema
//     payloads stay json.RawMessage instead of being re-modeled.
package anthropic
