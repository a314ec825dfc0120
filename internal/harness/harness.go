package harness

import (
	"fmt"
	"slices"

	"github.com/weftwork/weft"
	"github.com/weftwork/weft/internal/testutil"
)

// replicaSet holds the live documents of one scenario run, keyed by the
// replica names the scenario declares.
type replicaSet struct {
	names []string
	docs  map[string]*weft.Doc
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on fresh in-memory documents for isolation.
// Execution flow:
// 1. Create one document per replica with a fixed replica ID
// 2. Execute steps in order, each edit in its own transaction
// 3. Snapshot per-replica canonical state and content hashes
// 4. Evaluate assertions against the snapshot
func Run(scenario *Scenario) (*Result, error) {
	set := buildReplicas(scenario)

	for i, step := range scenario.Steps {
		if err := set.execute(&step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	result := NewResult()
	set.snapshot(result)

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, set) {
		result.AddError(errMsg)
	}

	return result, nil
}

func buildReplicas(scenario *Scenario) *replicaSet {
	set := &replicaSet{
		names: slices.Clone(scenario.Replicas),
		docs:  make(map[string]*weft.Doc, len(scenario.Replicas)),
	}
	for i, name := range scenario.Replicas {
		set.docs[name] = testutil.NewDoc(uint64(i + 1))
	}
	return set
}

// execute runs one step. Edit ops run inside their own transaction on
// the acting replica; sync ops move updates between documents.
func (rs *replicaSet) execute(st *Step) error {
	switch st.Op {
	case OpSync:
		return rs.sync(st.From, st.To)
	case OpSyncAll:
		return rs.syncAll()
	}

	doc := rs.docs[st.Replica]
	_, err := doc.Transact(func(tx *weft.Txn) error {
		return applyEdit(tx, doc, st)
	})
	return err
}

func applyEdit(tx *weft.Txn, doc *weft.Doc, st *Step) error {
	switch st.Op {
	case OpTextInsert:
		txt, err := doc.Text(st.Root)
		if err != nil {
			return err
		}
		return txt.Insert(tx, st.Index, st.Text)
	case OpTextDelete:
		txt, err := doc.Text(st.Root)
		if err != nil {
			return err
		}
		return txt.Delete(tx, st.Index, st.Length)
	case OpTextFormat:
		txt, err := doc.Text(st.Root)
		if err != nil {
			return err
		}
		return txt.Format(tx, st.Index, st.Length, st.Attrs)
	case OpArrayInsert:
		arr, err := doc.Array(st.Root)
		if err != nil {
			return err
		}
		return arr.Insert(tx, st.Index, st.Values...)
	case OpArrayPush:
		arr, err := doc.Array(st.Root)
		if err != nil {
			return err
		}
		return arr.Push(tx, st.Values...)
	case OpArrayDelete:
		arr, err := doc.Array(st.Root)
		if err != nil {
			return err
		}
		return arr.Delete(tx, st.Index, st.Length)
	case OpMapSet:
		mp, err := doc.Map(st.Root)
		if err != nil {
			return err
		}
		return mp.Set(tx, st.Key, st.Value)
	case OpMapSetMap:
		mp, err := doc.Map(st.Root)
		if err != nil {
			return err
		}
		return mp.Set(tx, st.Key, weft.NewMap(st.Entries))
	case OpMapDelete:
		mp, err := doc.Map(st.Root)
		if err != nil {
			return err
		}
		return mp.Delete(tx, st.Key)
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}

// sync sends a delta update from one replica to another: everything the
// receiver's state vector reports missing, plus the full delete set.
func (rs *replicaSet) sync(from, to string) error {
	src := rs.docs[from]
	dst := rs.docs[to]

	update, err := src.EncodeStateAsUpdate(dst.EncodeStateVector())
	if err != nil {
		return fmt.Errorf("encode %s->%s: %w", from, to, err)
	}
	if err := dst.ApplyUpdate(update); err != nil {
		return fmt.Errorf("apply %s->%s: %w", from, to, err)
	}
	return nil
}

// syncAll runs one full mesh round in declaration order. Every update
// carries the sender's complete missing-state diff, so a single round
// converges the set.
func (rs *replicaSet) syncAll() error {
	for _, from := range rs.names {
		for _, to := range rs.names {
			if from == to {
				continue
			}
			if err := rs.sync(from, to); err != nil {
				return err
			}
		}
	}
	return nil
}

// snapshot fills the result with per-replica canonical state.
func (rs *replicaSet) snapshot(result *Result) {
	for _, name := range rs.names {
		doc := rs.docs[name]
		result.States[name] = string(doc.CanonicalJSON())
		result.Hashes[name] = doc.ContentHash()
	}
	result.Converged = true
	var first string
	for i, name := range rs.names {
		if i == 0 {
			first = result.Hashes[name]
			continue
		}
		if result.Hashes[name] != first {
			result.Converged = false
		}
	}
}
