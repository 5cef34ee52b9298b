package selection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/ttcn-selector/pkg/classify"
	"github.com/ritzau/ttcn-selector/pkg/infection"
	"github.com/ritzau/ttcn-selector/pkg/model"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func checkedAt() *time.Time {
	ts := t0
	return &ts
}

func fn(name string, contagious, nonContagious []string) *model.Definition {
	return &model.Definition{Name: name, Kind: model.KindFunction, Contagious: contagious, NonContagious: nonContagious}
}

func allChecked(modules []*model.Module) map[string]bool {
	checked := make(map[string]bool, len(modules))
	for _, m := range modules {
		checked[m.Name] = true
	}
	return checked
}

func moduleNames(modules []*model.Module) []string {
	names := make([]string, 0, len(modules))
	for _, m := range modules {
		names = append(names, m.Name)
	}
	return names
}

func stateNames(states []*infection.State) []string {
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, s.Name())
	}
	return names
}

func selectBrokenParts(t *testing.T, modules []*model.Module, limit int) *Result {
	t.Helper()
	sel, err := New(Config{
		Mode:               ModeBrokenReferencesInverted,
		BrokenModulesLimit: limit,
		Classify:           classify.Declared,
	})
	require.NoError(t, err)

	res, err := sel.Select(context.Background(), Input{Modules: modules, Checked: allChecked(modules)})
	require.NoError(t, err)
	return res
}

// X was re-parsed; Y uses f in a signature; Z only uses Y internally
func chainProject() []*model.Module {
	return []*model.Module{
		{Name: "X", Definitions: []*model.Definition{fn("f", []string{"h"}, []string{"g"})}},
		{Name: "Y", Imports: []string{"X"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			fn("p", []string{"f"}, nil),
		}},
		{Name: "Z", Imports: []string{"Y"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			fn("z1", nil, nil),
		}},
	}
}

func TestSelect_StartModuleIsInfected(t *testing.T) {
	res := selectBrokenParts(t, chainProject(), DefaultBrokenModulesLimit)

	assert.False(t, res.WholeModule)
	assert.Equal(t, []string{"X"}, res.StartModules)
	assert.Equal(t, 33, res.DirtyRatio)

	require.Equal(t, []string{"f"}, stateNames(res.Definitions["X"]))
	f := res.Definitions["X"][0]
	assert.True(t, f.Infected())
	assert.True(t, f.Contagious())
	assert.Equal(t, []string{infection.ReasonTimestampInvalidated}, f.Reasons())
}

func TestSelect_ContagiousReferenceCrossesModules(t *testing.T) {
	res := selectBrokenParts(t, chainProject(), DefaultBrokenModulesLimit)

	assert.Equal(t, []string{"X", "Y"}, res.InfectedModules())
	require.Equal(t, []string{"p"}, stateNames(res.Definitions["Y"]))
	assert.True(t, res.Definitions["Y"][0].Contagious())

	assert.Equal(t, []string{"X", "Y"}, moduleNames(res.ModulesToCheck))
	assert.Equal(t, []string{"Z"}, moduleNames(res.ModulesToSkip))
	assert.NotContains(t, res.Definitions, "Z")
	assert.True(t, res.ShouldCheck("Y"))
	assert.False(t, res.ShouldCheck("Z"))
	assert.Equal(t, 2, res.InfectedCount())
}

func TestSelect_NonContagiousStopsAtModuleBoundary(t *testing.T) {
	modules := []*model.Module{
		{Name: "X", Definitions: []*model.Definition{fn("f", nil, nil)}},
		{Name: "Y", Imports: []string{"X"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			fn("p", []string{"f"}, nil),
			fn("p2", nil, []string{"f"}),
			fn("q", nil, []string{"p2"}),
			fn("clean", nil, []string{"other"}),
		}},
		{Name: "Z", Imports: []string{"Y"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			fn("z1", nil, []string{"p2"}),
			fn("z2", nil, []string{"p"}),
		}},
	}

	res := selectBrokenParts(t, modules, DefaultBrokenModulesLimit)

	y := res.Definitions["Y"]
	require.Equal(t, []string{"p", "p2", "q"}, stateNames(y))
	assert.True(t, y[0].Contagious())
	assert.True(t, y[1].Infected())
	assert.False(t, y[1].Contagious())
	assert.False(t, y[2].Contagious(), "infection through the closure is not contagious")

	require.Equal(t, []string{"z2"}, stateNames(res.Definitions["Z"]))
	assert.Equal(t, []string{"X", "Y", "Z"}, res.InfectedModules())
}

func TestSelect_NonContagiousOnlyImporterIsDropped(t *testing.T) {
	modules := []*model.Module{
		{Name: "X", Definitions: []*model.Definition{fn("f", nil, nil)}},
		{Name: "Y", Imports: []string{"X"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			fn("p2", nil, []string{"f"}),
		}},
		{Name: "Z", Imports: []string{"Y"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			fn("z1", nil, []string{"p2"}),
		}},
	}

	res := selectBrokenParts(t, modules, DefaultBrokenModulesLimit)

	assert.Equal(t, []string{"X", "Y"}, res.InfectedModules())
	assert.Equal(t, []string{"Z"}, moduleNames(res.ModulesToSkip))
}

func TestSelect_ComponentFieldPromotion(t *testing.T) {
	modules := []*model.Module{
		{Name: "Types", Definitions: []*model.Definition{{Name: "PortT", Kind: model.KindPortType}}},
		{Name: "Comp", Imports: []string{"Types"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			{Name: "CompT", Kind: model.KindComponent, Fields: []*model.Definition{
				{Name: "pt", Kind: model.KindPortType, NonContagious: []string{"PortT"}},
			}},
		}},
		{Name: "Tests", Imports: []string{"Comp"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			{Name: "tc", Kind: model.KindTestcase, NonContagious: []string{"CompT"}},
		}},
	}

	res := selectBrokenParts(t, modules, DefaultBrokenModulesLimit)

	comp := res.Definitions["Comp"]
	require.Len(t, comp, 1)
	assert.Equal(t, infection.Component, comp[0].Kind())
	assert.True(t, comp[0].Contagious())
	assert.True(t, comp[0].ContagiousRefs().Has("PortT"))

	require.Equal(t, []string{"tc"}, stateNames(res.Definitions["Tests"]))
	assert.Equal(t, []string{"Types", "Comp", "Tests"}, res.InfectedModules())
}

func TestSelect_UnresolvedReferenceInImporter(t *testing.T) {
	modules := []*model.Module{
		{Name: "X", Definitions: []*model.Definition{fn("f", nil, nil)}},
		{Name: "W", Imports: []string{"X"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			{Name: "w", Kind: model.KindFunction, Unresolved: []string{"ghost"}},
			fn("v", nil, []string{"w"}),
		}},
	}

	res := selectBrokenParts(t, modules, DefaultBrokenModulesLimit)

	require.Equal(t, []string{"w", "v"}, stateNames(res.Definitions["W"]))
	assert.Equal(t, []string{infection.ReasonUnresolvedReference}, res.Definitions["W"][0].Reasons())
}

func TestSelect_CheckedStartModuleWithoutInfection(t *testing.T) {
	modules := []*model.Module{
		{Name: "A", LastChecked: checkedAt(), Definitions: []*model.Definition{fn("a", nil, nil)}},
		{Name: "B", Imports: []string{"A"}, LastChecked: checkedAt(), Definitions: []*model.Definition{fn("b", []string{"a"}, nil)}},
	}
	sel := NewBrokenParts(DefaultConfig())

	res, err := sel.Select(context.Background(), Input{Modules: modules, Checked: map[string]bool{"B": true}})
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, res.StartModules)
	assert.Empty(t, res.InfectedModules())
	assert.Empty(t, res.ModulesToCheck)
	assert.Equal(t, []string{"A", "B"}, moduleNames(res.ModulesToSkip))
}

func TestSelect_IntraModuleClosureInStartModule(t *testing.T) {
	modules := []*model.Module{
		{Name: "A", LastChecked: checkedAt(), Definitions: []*model.Definition{
			{Name: "broken", Kind: model.KindFunction, Unresolved: []string{"gone"}},
			fn("user", nil, []string{"broken"}),
			fn("other", nil, nil),
		}},
		{Name: "B", LastChecked: checkedAt()},
	}
	sel := NewBrokenParts(DefaultConfig())

	res, err := sel.Select(context.Background(), Input{Modules: modules, Checked: map[string]bool{"B": true}})
	require.NoError(t, err)

	assert.Equal(t, 50, res.DirtyRatio)
	assert.Equal(t, []string{"broken", "user"}, stateNames(res.Definitions["A"]))
	assert.Equal(t, []string{"B"}, moduleNames(res.ModulesToSkip))
}

func TestSelect_FineGrainedBelowLimit(t *testing.T) {
	var modules []*model.Module
	for i := 0; i < 100; i++ {
		m := &model.Module{Name: fmt.Sprintf("M%03d", i), Definitions: []*model.Definition{fn("d", nil, nil)}}
		if i%20 != 0 {
			m.LastChecked = checkedAt()
		}
		modules = append(modules, m)
	}

	res := selectBrokenParts(t, modules, DefaultBrokenModulesLimit)

	assert.Equal(t, 5, res.DirtyRatio)
	assert.False(t, res.WholeModule)
	assert.Equal(t, []string{"M000", "M020", "M040", "M060", "M080"}, res.InfectedModules())
	assert.Len(t, res.ModulesToSkip, 95)
}

func TestSelect_FallbackToWholeModules(t *testing.T) {
	modules := chainProject()

	res := selectBrokenParts(t, modules, 0)

	assert.True(t, res.WholeModule)
	assert.Empty(t, res.Definitions)
	assert.Equal(t, res.Graph.Reachable(res.StartModules), moduleNames(res.ModulesToCheck))
	assert.Equal(t, []string{"X", "Y", "Z"}, moduleNames(res.ModulesToCheck))
	assert.Empty(t, res.ModulesToSkip)
}

func TestSelect_FallbackAtExactLimit(t *testing.T) {
	modules := []*model.Module{
		{Name: "A"},
		{Name: "B", LastChecked: checkedAt()},
		{Name: "C", Imports: []string{"B"}, LastChecked: checkedAt()},
		{Name: "D", Imports: []string{"A"}, LastChecked: checkedAt()},
	}

	res := selectBrokenParts(t, modules, 25)

	assert.Equal(t, 25, res.DirtyRatio)
	assert.True(t, res.WholeModule)
	assert.Equal(t, []string{"A", "D"}, moduleNames(res.ModulesToCheck))
	assert.Equal(t, []string{"B", "C"}, moduleNames(res.ModulesToSkip))
}

func TestSelect_NilCheckedMakesEverythingDirty(t *testing.T) {
	sel := NewBrokenParts(DefaultConfig())

	res, err := sel.Select(context.Background(), Input{Modules: chainProject()})
	require.NoError(t, err)

	assert.Equal(t, []string{"X", "Y", "Z"}, res.StartModules)
	assert.Equal(t, 100, res.DirtyRatio)
	assert.True(t, res.WholeModule)
}

func TestSelect_EmptyProject(t *testing.T) {
	sel := NewBrokenParts(DefaultConfig())

	res, err := sel.Select(context.Background(), Input{})
	require.NoError(t, err)

	assert.Empty(t, res.ModulesToCheck)
	assert.Empty(t, res.ModulesToSkip)
	assert.Empty(t, res.Definitions)
	assert.Zero(t, res.DirtyRatio)
}

func TestSelect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, mode := range []Mode{ModeOriginal, ModeBrokenReferencesInverted} {
		t.Run(string(mode), func(t *testing.T) {
			sel, err := New(Config{Mode: mode, BrokenModulesLimit: DefaultBrokenModulesLimit})
			require.NoError(t, err)

			_, err = sel.Select(ctx, Input{Modules: chainProject(), Checked: allChecked(chainProject())})
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

// A imports C, B imports A, C imports B
func TestSelect_ImportCycleTerminates(t *testing.T) {
	modules := []*model.Module{
		{Name: "A", Imports: []string{"C"}, Definitions: []*model.Definition{fn("a", []string{"c"}, nil)}},
		{Name: "B", Imports: []string{"A"}, LastChecked: checkedAt(), Definitions: []*model.Definition{fn("b", []string{"a"}, nil)}},
		{Name: "C", Imports: []string{"B"}, LastChecked: checkedAt(), Definitions: []*model.Definition{fn("c", []string{"b"}, nil)}},
	}

	res := selectBrokenParts(t, modules, DefaultBrokenModulesLimit)

	assert.Equal(t, []string{"A"}, res.StartModules)
	assert.Equal(t, []string{"A", "B", "C"}, res.InfectedModules())
	assert.Equal(t, []string{"A", "B", "C"}, moduleNames(res.ModulesToCheck))

	require.Equal(t, []string{"a"}, stateNames(res.Definitions["A"]))
	a := res.Definitions["A"][0]
	assert.Equal(t, []string{"c"}, a.InfectedRefs(), "the cycle closes back onto the start module")
	assert.Equal(t, []string{
		infection.ReasonTimestampInvalidated,
		"contagious reference to infected definition C.c",
	}, a.Reasons())
}

// M is reached from S first and again through T after it was processed. The
// second visit infects m2, but M is not queued again, so N never sees m2.
func TestSelect_ModuleReachedAgainIsNotRequeued(t *testing.T) {
	modules := []*model.Module{
		{Name: "S", Definitions: []*model.Definition{fn("s", nil, nil)}},
		{Name: "M", Imports: []string{"S", "T"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
			fn("m1", []string{"s"}, nil),
			fn("m2", []string{"t"}, nil),
		}},
		{Name: "T", Imports: []string{"S"}, LastChecked: checkedAt(), Definitions: []*model.Definition{fn("t", []string{"s"}, nil)}},
		{Name: "N", Imports: []string{"M"}, LastChecked: checkedAt(), Definitions: []*model.Definition{fn("n", []string{"m2"}, nil)}},
	}

	res := selectBrokenParts(t, modules, DefaultBrokenModulesLimit)

	assert.Equal(t, []string{"S", "M", "T"}, res.InfectedModules())
	require.Equal(t, []string{"m1", "m2"}, stateNames(res.Definitions["M"]))
	assert.Equal(t, []string{"t"}, res.Definitions["M"][1].InfectedRefs())
	assert.Equal(t, []string{"N"}, moduleNames(res.ModulesToSkip))
}

func TestSelect_Identity(t *testing.T) {
	project := func() []*model.Module {
		def := func(name string, contagious, nonContagious []string) *model.Definition {
			d := fn(name, contagious, nonContagious)
			d.ID = uuid.New()
			return d
		}
		return []*model.Module{
			{Name: "A", Definitions: []*model.Definition{def("f", nil, nil)}},
			{Name: "B", Imports: []string{"A"}, LastChecked: checkedAt(), Definitions: []*model.Definition{
				def("dup", []string{"f"}, nil),
				def("dup", []string{"f"}, nil),
				def("user", nil, []string{"dup"}),
			}},
		}
	}

	tests := []struct {
		identity  Identity
		ambiguous map[string][]string
	}{
		{IdentityName, map[string][]string{}},
		{IdentityID, map[string][]string{"B": {"dup"}}},
	}

	for _, tt := range tests {
		t.Run(string(tt.identity), func(t *testing.T) {
			index, err := IndexFor(tt.identity)
			require.NoError(t, err)
			sel, err := New(Config{
				Mode:               ModeBrokenReferencesInverted,
				BrokenModulesLimit: DefaultBrokenModulesLimit,
				Classify:           classify.Declared,
				Index:              index,
			})
			require.NoError(t, err)

			modules := project()
			res, err := sel.Select(context.Background(), Input{Modules: modules, Checked: allChecked(modules)})
			require.NoError(t, err)

			assert.Equal(t, []string{"dup", "dup", "user"}, stateNames(res.Definitions["B"]))
			assert.Equal(t, tt.ambiguous, res.Ambiguous)
		})
	}
}

func TestIndexFor(t *testing.T) {
	for _, id := range []Identity{"", IdentityName, IdentityID} {
		index, err := IndexFor(id)
		require.NoError(t, err)
		assert.NotNil(t, index)
	}

	_, err := IndexFor("hash")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestOriginal(t *testing.T) {
	modules := chainProject()
	sel, err := New(Config{Mode: ModeOriginal})
	require.NoError(t, err)
	assert.Equal(t, ModeOriginal, sel.Mode())

	res, err := sel.Select(context.Background(), Input{Modules: modules, Checked: allChecked(modules)})
	require.NoError(t, err)

	assert.True(t, res.WholeModule)
	assert.Equal(t, []string{"X", "Y", "Z"}, moduleNames(res.ModulesToCheck))
	assert.Empty(t, res.ModulesToSkip)
	assert.Empty(t, res.Definitions)
	assert.Equal(t, []string{"X"}, res.StartModules)
}

func TestNew(t *testing.T) {
	sel, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, ModeBrokenReferencesInverted, sel.Mode())

	_, err = New(Config{Mode: "everything"})
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("original")
	require.NoError(t, err)
	assert.Equal(t, ModeOriginal, mode)

	_, err = ParseMode("")
	assert.ErrorIs(t, err, ErrUnknownMode)
}
