// Package harness runs YAML conformance scenarios against the append engine.
//
// A scenario names its identities, signs and appends entries on their
// behalf, and asserts on the derived streams once every append has run.
//
// # Scenario Format
//
//	name: follow_backfill
//	description: "A new follow backfills the target's log"
//	now: 2019-06-01T00:00:00Z
//	identities: [anna, bob]
//	appends:
//	  - as: anna
//	    index: 0
//	    date: 2019-02-01T00:00:00Z
//	    post: "hello"
//	    mentions: [bob]
//	  - as: bob
//	    index: 0
//	    date: 2019-02-02T00:00:00Z
//	    follow: anna
//	    name: Anna
//	  - as: anna
//	    index: 0
//	    date: 2019-02-01T00:00:00Z
//	    post: "fork"
//	    expect: conflict
//	assertions:
//	  - type: timeline
//	    of: bob
//	    expect: ["anna[0]"]
//	  - type: reduction
//	    of: bob
//	    expect: ["latest 0", "follows anna"]
//
// Each append carries exactly one body kind: post (with optional mentions and
// parent), follow, unfollow (with stop), announce, avatar or introduce.
// Expected outcomes are ok, exists, conflict, gap, date and future.
//
// # Assertion Types
//
//   - timeline, mentions: entries as name[index], in stream order
//   - followers: follower names, sorted; bounded follows as "name through N"
//   - replies: replies to entry as name[index], sorted
//   - conflicts: forked indices as name[index]
//   - reduction: "latest N", "avatar URI", "uri URI", "follows NAME [through N]"
//
// # Deterministic Testing
//
// Keys are derived from identity names, the engine clock is fixed, and each
// scenario runs on a fresh in-memory backend. Traces name identities rather
// than keys or digests, so golden files are stable and readable.
package harness
