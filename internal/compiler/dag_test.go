package compiler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/opforge/internal/compiler"
	"github.com/vk/opforge/internal/engineerr"
	"github.com/vk/opforge/internal/model"
)

var dagComponent = map[string]any{
	"name":   "trainer",
	"inputs": []any{map[string]any{"name": "lr", "type": "float", "isOptional": true, "value": 0.1}},
	"run":    map[string]any{"kind": "job", "container": map[string]any{"image": "python:3.12"}},
}

func dagOperation(ops ...map[string]any) *model.Operation {
	operations := make([]any, len(ops))
	for i, op := range ops {
		operations[i] = op
	}
	return &model.Operation{
		Name: model.Ptr("pipeline"),
		Component: &model.Component{
			Name:   "pipeline",
			Inputs: []*model.IO{input("dataset", "str")},
			Run: model.Run{
				"kind":        "dag",
				"concurrency": 2,
				"operations":  operations,
				"components":  []any{dagComponent},
			},
		},
		Params: map[string]*model.Param{"dataset": model.Literal("mnist")},
	}
}

func compileDAG(t *testing.T, op *model.Operation) (*compiler.DAGPlan, error) {
	t.Helper()
	c := compiler.New(nil, compiler.Options{})
	outer, err := c.Compile(context.Background(), op, compiler.Overrides{})
	require.NoError(t, err)
	return compiler.CompileDAG(context.Background(), c, outer)
}

func TestCompileDAG_OrdersByDependencies(t *testing.T) {
	// --- Arrange ---
	op := dagOperation(
		map[string]any{
			"name":   "evaluate",
			"hubRef": "trainer",
			"params": map[string]any{
				"lr": map[string]any{"ref": "ops.train.outputs.lr"},
			},
			"conditions": `{{ ops.prepare.status == "succeeded" }}`,
		},
		map[string]any{"name": "train", "hubRef": "trainer", "dependencies": []any{"prepare"}},
		map[string]any{
			"name":   "prepare",
			"hubRef": "trainer",
			"tags":   []any{"{{ dag.inputs.dataset }}"},
		},
	)

	// --- Act ---
	plan, err := compileDAG(t, op)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"prepare", "train", "evaluate"}, plan.Order)
	assert.Equal(t, []string{"prepare", "train"}, plan.Upstream["evaluate"])
	assert.Equal(t, []string{"prepare"}, plan.Upstream["train"])
	assert.Empty(t, plan.Upstream["prepare"])
	assert.Equal(t, 2, plan.Concurrency)
	require.Len(t, plan.Operations, 3)
	assert.Equal(t, []string{"mnist"}, plan.Operations[0].Tags)
	lr, ok := plan.Operations[2].Param("lr")
	require.True(t, ok)
	assert.Equal(t, "ops.train.outputs.lr", lr.Ref, "upstream refs stay pending inside a dag")
}

func TestCompileDAG_Errors(t *testing.T) {
	testCases := []struct {
		name     string
		ops      []map[string]any
		wantKind engineerr.Kind
		wantPath string
	}{
		{
			name: "cycle",
			ops: []map[string]any{
				{"name": "a", "hubRef": "trainer", "dependencies": []any{"b"}},
				{"name": "b", "hubRef": "trainer", "dependencies": []any{"a"}},
			},
			wantKind: engineerr.CircularReference,
			wantPath: "/component/run/operations",
		},
		{
			name: "self dependency",
			ops: []map[string]any{
				{"name": "a", "hubRef": "trainer", "dependencies": []any{"a"}},
			},
			wantKind: engineerr.CircularReference,
			wantPath: "/component/run/operations/0/dependencies/0",
		},
		{
			name: "unknown upstream",
			ops: []map[string]any{
				{"name": "a", "hubRef": "trainer", "dependencies": []any{"ghost"}},
			},
			wantKind: engineerr.BadReference,
			wantPath: "/component/run/operations/0/dependencies/0",
		},
		{
			name: "unknown upstream in a param ref",
			ops: []map[string]any{
				{"name": "a", "hubRef": "trainer", "params": map[string]any{"lr": map[string]any{"ref": "ops.ghost.outputs.lr"}}},
			},
			wantKind: engineerr.BadReference,
			wantPath: "/component/run/operations/0/params/lr",
		},
		{
			name: "duplicate name",
			ops: []map[string]any{
				{"name": "a", "hubRef": "trainer"},
				{"name": "a", "hubRef": "trainer"},
			},
			wantKind: engineerr.ParseError,
			wantPath: "/component/run/operations/1/name",
		},
		{
			name:     "unnamed",
			ops:      []map[string]any{{"hubRef": "trainer"}},
			wantKind: engineerr.ParseError,
			wantPath: "/component/run/operations/0/name",
		},
		{
			name: "inner type mismatch",
			ops: []map[string]any{
				{"name": "a", "hubRef": "trainer", "params": map[string]any{"lr": map[string]any{"value": "fast"}}},
			},
			wantKind: engineerr.TypeMismatch,
			wantPath: "/component/run/operations/0/params/lr",
		},
		{
			name: "unknown component",
			ops: []map[string]any{
				{"name": "a", "hubRef": "nowhere"},
			},
			wantKind: engineerr.UnresolvedComponent,
			wantPath: "/component/run/operations/0/hubRef",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compileDAG(t, dagOperation(tc.ops...))

			requireKind(t, err, tc.wantKind, tc.wantPath)
		})
	}
}

func TestCompileDAG_RejectsOtherRuns(t *testing.T) {
	c := compiler.New(nil, compiler.Options{})
	outer, err := c.Compile(context.Background(), &model.Operation{Component: trainer()}, compiler.Overrides{})
	require.NoError(t, err)

	_, err = compiler.CompileDAG(context.Background(), c, outer)

	requireKind(t, err, engineerr.ParseError, "/component/run/kind")
}

func TestCompileDAG_InnerJoinsAreAllowed(t *testing.T) {
	op := dagOperation(
		map[string]any{"name": "train", "hubRef": "trainer"},
		map[string]any{
			"name":   "report",
			"hubRef": "trainer",
			"joins": []any{map[string]any{
				"query":  "status:succeeded",
				"params": map[string]any{"lrs": map[string]any{"value": "inputs.lr", "contextOnly": true}},
			}},
		},
	)

	plan, err := compileDAG(t, op)

	require.NoError(t, err)
	lrs, ok := plan.Operations[1].Param("lrs")
	require.True(t, ok)
	assert.True(t, lrs.ContextOnly)
}
