// Package ir provides the shared domain types for pilotforge.
//
// This package contains asset records, their lifecycle state machine, and the
// content-addressed identity functions. All other internal packages import ir;
// ir imports nothing internal.
//
// Key design constraints:
//   - Asset identity is derived from content (pilot, segment, variation,
//     provider), never from wall-clock time or random values
//   - Identity hashing uses canonical JSON with NFC-normalized strings
//   - All JSON tags use snake_case
package ir
