// Package harness runs production scenarios end to end and checks their
// outcome.
//
// A scenario describes a production (budget, tiers, segments, scheduler
// settings), the scripted oracle scores per tier and round, optional
// provider failure scripts, and assets that already exist in the library.
// The harness runs it through the real engine on a fresh in-memory store,
// with a stepping clock and fixed run ids, then evaluates the expected
// outcome and assertions against the run report and the library.
//
// # Scenario Format
//
//	name: two_pilot_competition
//	description: "Both tiers pass; the higher score wins"
//	production:
//	  budget: 100
//	  tiers: [static_images, motion_graphics]
//	  segments:
//	    - { id: seg-01, duration_seconds: 10 }
//	scores:
//	  static_images: [72]
//	  motion_graphics: [77]
//	setup:
//	  - { segment: seg-01, type: video, status: APPROVED }
//	expect:
//	  outcome: completed
//	  winner: pilot-motion_graphics
//	assertions:
//	  - type: pilot_status
//	    pilot: pilot-static_images
//	    status: CANCELLED
//
// Scores are per round: the first entry scores the test phase, the second
// the regeneration round. The last entry repeats.
//
// # Assertion Types
//
//   - pilot_status: the pilot's final status
//   - pilot_timeline: the pilot's statuses in order, PLANNED first
//   - asset_count: records matching type, status and segment
//   - ledger: spent and reserved totals
//   - task_status: the status of one task of any round or production
//
// # Golden Files
//
// RunWithGolden renders a deterministic summary of the run and compares it
// with testdata/golden/<name>.golden. Run ids, timestamps, payload paths
// and the interleaving of concurrent pilots are left out. Regenerate with:
//
//	go test ./internal/harness -update
package harness
