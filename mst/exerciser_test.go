package mst

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/leanovate/gopter/gen"

	"github.com/rookery-social/rookery/blockstore"
)

// Model-based exercise: the tree must track a plain map through an
// arbitrary interleaving of operations, and at any point its root must
// equal the root of a tree built from the map alone.

type exModel struct {
	entries map[string]string
}

func (m *exModel) String() string {
	return fmt.Sprintf("model(%d entries)", len(m.entries))
}

type exSystem struct {
	bs   *blockstore.Memory
	tree *Tree
}

type putCmd struct {
	key string
	val string
}

func (c putCmd) String() string { return fmt.Sprintf("Put(%s=%s)", c.key, c.val) }

func (c putCmd) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*exSystem)
	ctx := context.Background()
	vcid, err := s.bs.Put(ctx, []byte("value:"+c.val))
	if err != nil {
		return err
	}
	_, err = s.tree.Add(ctx, c.key, vcid)
	return exResult{sys: s, err: err}
}

func (c putCmd) NextState(state commands.State) commands.State {
	m := state.(*exModel)
	if _, ok := m.entries[c.key]; !ok {
		m.entries[c.key] = c.val
	}
	return m
}

func (putCmd) PreCondition(commands.State) bool { return true }

func (c putCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	r := result.(exResult)
	if r.err != nil && !errors.Is(r.err, ErrDuplicateKey) {
		return fail("put %s: %v", c.key, r.err)
	}
	return checkKey(state.(*exModel), r.sys, c.key)
}

type updateCmd struct {
	key string
	val string
}

func (c updateCmd) String() string { return fmt.Sprintf("Update(%s=%s)", c.key, c.val) }

func (c updateCmd) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*exSystem)
	ctx := context.Background()
	vcid, err := s.bs.Put(ctx, []byte("value:"+c.val))
	if err != nil {
		return err
	}
	_, err = s.tree.Update(ctx, c.key, vcid)
	return exResult{sys: s, err: err}
}

func (c updateCmd) NextState(state commands.State) commands.State {
	m := state.(*exModel)
	if _, ok := m.entries[c.key]; ok {
		m.entries[c.key] = c.val
	}
	return m
}

func (updateCmd) PreCondition(commands.State) bool { return true }

func (c updateCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	m := state.(*exModel)
	r := result.(exResult)
	_, present := m.entries[c.key]
	if present && r.err != nil {
		return fail("update %s: %v", c.key, r.err)
	}
	if !present && !errors.Is(r.err, ErrKeyNotFound) {
		return fail("update of absent %s: got %v", c.key, r.err)
	}
	return checkKey(m, r.sys, c.key)
}

type deleteCmd struct {
	key string
}

func (c deleteCmd) String() string { return fmt.Sprintf("Delete(%s)", c.key) }

func (c deleteCmd) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*exSystem)
	_, err := s.tree.Delete(context.Background(), c.key)
	return exResult{sys: s, err: err}
}

func (c deleteCmd) NextState(state commands.State) commands.State {
	m := state.(*exModel)
	delete(m.entries, c.key)
	return m
}

func (deleteCmd) PreCondition(commands.State) bool { return true }

func (c deleteCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	r := result.(exResult)
	if r.err != nil && !errors.Is(r.err, ErrKeyNotFound) {
		return fail("delete %s: %v", c.key, r.err)
	}
	return checkKey(state.(*exModel), r.sys, c.key)
}

type canonicalCmd struct{}

func (canonicalCmd) String() string { return "Canonical" }

func (canonicalCmd) Run(sut commands.SystemUnderTest) commands.Result {
	s := sut.(*exSystem)
	return exResult{sys: s}
}

func (canonicalCmd) NextState(state commands.State) commands.State { return state }

func (canonicalCmd) PreCondition(commands.State) bool { return true }

// PostCondition rebuilds the tree from nothing but the model, in sorted
// key order, and demands the same root CID.
func (canonicalCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	m := state.(*exModel)
	s := result.(exResult).sys
	ctx := context.Background()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bs := blockstore.NewMemory()
	rebuilt, err := New(ctx, bs)
	if err != nil {
		return fail("rebuild: %v", err)
	}
	for _, k := range keys {
		vcid, err := bs.Put(ctx, []byte("value:"+m.entries[k]))
		if err != nil {
			return fail("rebuild put: %v", err)
		}
		if _, err := rebuilt.Add(ctx, k, vcid); err != nil {
			return fail("rebuild add %s: %v", k, err)
		}
	}
	if !rebuilt.Root().Equals(s.tree.Root()) {
		return fail("root diverged from canonical rebuild: %s vs %s",
			s.tree.Root(), rebuilt.Root())
	}
	return &gopter.PropResult{Status: gopter.PropTrue}
}

type exResult struct {
	sys *exSystem
	err error
}

func fail(format string, args ...interface{}) *gopter.PropResult {
	return &gopter.PropResult{
		Status: gopter.PropFalse,
		Labels: []string{fmt.Sprintf(format, args...)},
	}
}

// checkKey compares the live tree's view of one key against the model.
func checkKey(m *exModel, s *exSystem, key string) *gopter.PropResult {
	ctx := context.Background()
	got, ok, err := s.tree.Get(ctx, key)
	if err != nil {
		return fail("get %s: %v", key, err)
	}
	val, want := m.entries[key]
	if ok != want {
		return fail("presence of %s: tree=%v model=%v", key, ok, want)
	}
	if want {
		wantCid, err := s.bs.Put(ctx, []byte("value:"+val))
		if err != nil {
			return fail("hash value: %v", err)
		}
		if !got.Equals(wantCid) {
			return fail("value of %s: tree=%s model=%s", key, got, wantCid)
		}
	}
	return &gopter.PropResult{Status: gopter.PropTrue}
}

func TestExerciser(t *testing.T) {
	t.Parallel()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	// small key space so operations collide often
	genKey := gen.IntRange(0, 23).Map(func(n int) string {
		return fmt.Sprintf("user.%02d/item", n)
	})
	genVal := gen.IntRange(0, 9).Map(func(n int) string {
		return fmt.Sprintf("payload-%d", n)
	})
	genPut := gopter.CombineGens(genKey, genVal).Map(func(vals []interface{}) commands.Command {
		return putCmd{key: vals[0].(string), val: vals[1].(string)}
	})
	genUpdate := gopter.CombineGens(genKey, genVal).Map(func(vals []interface{}) commands.Command {
		return updateCmd{key: vals[0].(string), val: vals[1].(string)}
	})
	genDelete := genKey.Map(func(key string) commands.Command {
		return deleteCmd{key: key}
	})
	genCanonical := gen.Const(commands.Command(canonicalCmd{}))

	treeCommands := &commands.ProtoCommands{
		NewSystemUnderTestFunc: func(commands.State) commands.SystemUnderTest {
			bs := blockstore.NewMemory()
			tree, err := New(context.Background(), bs)
			if err != nil {
				panic(err)
			}
			return &exSystem{bs: bs, tree: tree}
		},
		InitialStateGen: gen.Const(0).Map(func(int) *exModel {
			return &exModel{entries: map[string]string{}}
		}),
		InitialPreConditionFunc: func(commands.State) bool { return true },
		GenCommandFunc: func(commands.State) gopter.Gen {
			return gen.Weighted([]gen.WeightedGen{
				{Weight: 4, Gen: genPut},
				{Weight: 2, Gen: genUpdate},
				{Weight: 2, Gen: genDelete},
				{Weight: 1, Gen: genCanonical},
			})
		},
	}

	properties := gopter.NewProperties(parameters)
	properties.Property("tree tracks the model and stays canonical",
		commands.Prop(treeCommands))
	properties.TestingRun(t)
}
