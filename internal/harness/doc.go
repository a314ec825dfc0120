// Package harness runs multi-replica convergence scenarios.
//
// The harness builds one in-memory document per declared replica,
// applies edits as the scenario prescribes, exchanges updates at
// explicit sync points, and validates the merged outcome on every
// replica.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	replicas: [r1, r2]
//	steps:
//	  - op: text_insert
//	    replica: r1
//	    root: notes
//	    index: 0
//	    text: "hello"
//	  - op: sync
//	    from: r1
//	    to: r2
//	  - op: sync_all
//	assertions:
//	  - type: converged
//	  - type: text
//	    root: notes
//	    equals: "hello"
//
// # Step Operations
//
// Edit ops act on one replica's root: text_insert, text_delete,
// text_format, array_insert, array_push, array_delete, map_set,
// map_set_map, map_delete. Sync ops move updates between documents:
// sync sends a delta update from one replica to another, sync_all
// runs one full mesh round.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - converged: every replica reports the same content hash
//   - text: a text root renders the expected string
//   - length: a root has the expected visible length
//   - key: a map root holds the expected value under a key
//   - key_absent: a map root has no visible entry under a key
//   - keys: a map root's visible keys equal the expected list
//
// # Deterministic Testing
//
// Replica IDs are assigned by list position (1, 2, ...), so
// concurrent-edit tie-breaks are reproducible and golden snapshots
// stay stable across runs. Every scenario runs on fresh in-memory
// documents, isolated per test.
//
// # Usage
//
// Load a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/interleave.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Execute it and inspect the outcome:
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
