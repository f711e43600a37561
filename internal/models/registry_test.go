package models

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/learningpaths/learningpaths/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamesOrder(t *testing.T) {
	expected := []string{
		"LEVEL_CHOICES",
		"LearningPath",
		"LearningPathManager",
		"LearningPathStep",
		"LearningPathGradingCriteria",
		"Skill",
		"LearningPathSkill",
		"RequiredSkill",
		"AcquiredSkill",
		"LearningPathEnrollment",
		"LearningPathEnrollmentAllowed",
		"LearningPathEnrollmentAudit",
		"GroupCourseAssignment",
		"GroupCourseEnrollmentAudit",
	}
	assert.Equal(t, expected, Names())
	assert.Equal(t, []string{"Learning Paths", "Skills", "Enrollments", "Groups"}, Groups())
}

func TestExportsHaveNoDuplicates(t *testing.T) {
	names := map[string]bool{}
	symbols := map[string]bool{}
	for _, e := range Exports {
		assert.False(t, names[e.Name], "duplicate name %s", e.Name)
		assert.False(t, symbols[e.Symbol], "duplicate symbol %s", e.Symbol)
		names[e.Name] = true
		symbols[e.Symbol] = true
	}
}

func TestExportsResolveToCanonicalTypes(t *testing.T) {
	canonical := map[string]reflect.Type{
		"LEVEL_CHOICES":                 reflect.TypeOf(types.LevelChoices),
		"LearningPath":                  reflect.TypeOf(types.LearningPath{}),
		"LearningPathManager":           reflect.TypeOf(types.LearningPathManager{}),
		"LearningPathStep":              reflect.TypeOf(types.LearningPathStep{}),
		"LearningPathGradingCriteria":   reflect.TypeOf(types.LearningPathGradingCriteria{}),
		"Skill":                         reflect.TypeOf(types.Skill{}),
		"LearningPathSkill":             reflect.TypeOf(types.LearningPathSkill{}),
		"RequiredSkill":                 reflect.TypeOf(types.RequiredSkill{}),
		"AcquiredSkill":                 reflect.TypeOf(types.AcquiredSkill{}),
		"LearningPathEnrollment":        reflect.TypeOf(types.LearningPathEnrollment{}),
		"LearningPathEnrollmentAllowed": reflect.TypeOf(types.LearningPathEnrollmentAllowed{}),
		"LearningPathEnrollmentAudit":   reflect.TypeOf(types.LearningPathEnrollmentAudit{}),
		"GroupCourseAssignment":         reflect.TypeOf(types.GroupCourseAssignment{}),
		"GroupCourseEnrollmentAudit":    reflect.TypeOf(types.GroupCourseEnrollmentAudit{}),
	}
	require.Len(t, canonical, len(Exports))

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			got, err := TypeOf(name)
			require.NoError(t, err)
			assert.Equal(t, canonical[name], got)
		})
	}
}

func TestLevelChoicesSharesCanonicalStorage(t *testing.T) {
	require.Len(t, LevelChoices, len(types.LevelChoices))
	assert.Same(t, &types.LevelChoices[0], &LevelChoices[0])
	assert.Equal(t, types.LevelBeginner, LevelChoices[0].Value)
}

func TestLookup(t *testing.T) {
	e, ok := Lookup("LEVEL_CHOICES")
	require.True(t, ok)
	assert.Equal(t, "LevelChoices", e.Symbol)
	assert.Equal(t, "var", e.Kind)

	e, ok = Lookup("LevelChoices")
	require.True(t, ok)
	assert.Equal(t, "LEVEL_CHOICES", e.Name)

	_, ok = Lookup("User")
	assert.False(t, ok)

	_, err := TypeOf("NotExported")
	assert.Error(t, err)
}

func TestSurfaceGroups(t *testing.T) {
	surface := Surface()
	assert.Len(t, surface["Learning Paths"], 5)
	assert.Len(t, surface["Skills"], 4)
	assert.Len(t, surface["Enrollments"], 3)
	assert.Len(t, surface["Groups"], 2)
	assert.Equal(t, "LEVEL_CHOICES", surface["Learning Paths"][0].Name)
}

func TestCheckSurface(t *testing.T) {
	bound := map[string]any{
		"LearningPath": (*LearningPath)(nil),
		"LevelChoices": &LevelChoices,
	}

	err := checkSurface([]Export{
		{Name: "LearningPath", Symbol: "LearningPath", Kind: "type"},
		{Name: "LEVEL_CHOICES", Symbol: "LevelChoices", Kind: "var"},
	}, bound)
	assert.NoError(t, err)

	err = checkSurface([]Export{
		{Name: "LearningPath", Symbol: "LearningPath", Kind: "type"},
		{Name: "LearningPath", Symbol: "LearningPath", Kind: "type"},
	}, bound)
	assert.ErrorContains(t, err, "duplicate export name")

	err = checkSurface([]Export{
		{Name: "Skill", Symbol: "Skill", Kind: "type"},
	}, bound)
	assert.ErrorContains(t, err, "unbound symbol")

	err = checkSurface([]Export{
		{Name: "LEVEL_CHOICES", Symbol: "LevelChoices", Kind: "type"},
	}, bound)
	assert.ErrorContains(t, err, "declared as type but bound as var")
}

// exportedDecls returns the exported top-level identifiers declared in a package directory
func exportedDecls(t *testing.T, dir string) map[string]bool {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	decls := map[string]bool{}
	fset := token.NewFileSet()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.SkipObjectResolution)
		require.NoError(t, err)

		for _, decl := range file.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				if d.Recv == nil && d.Name.IsExported() {
					decls[d.Name.Name] = true
				}
			case *ast.GenDecl:
				for _, spec := range d.Specs {
					switch s := spec.(type) {
					case *ast.TypeSpec:
						if s.Name.IsExported() {
							decls[s.Name.Name] = true
						}
					case *ast.ValueSpec:
						for _, n := range s.Names {
							if n.IsExported() {
								decls[n.Name] = true
							}
						}
					}
				}
			}
		}
	}
	return decls
}

func TestExportsDeclaredInCanonicalPackage(t *testing.T) {
	canonical := exportedDecls(t, filepath.Join("..", "..", "pkg", "types"))
	for _, e := range Exports {
		assert.True(t, canonical[e.Symbol], "%s (%s) is not declared in pkg/types", e.Name, e.Symbol)
	}
}

func TestFacadeDeclaresEveryExport(t *testing.T) {
	facade := exportedDecls(t, ".")
	for _, e := range Exports {
		assert.True(t, facade[e.Symbol], "%s (%s) is not re-exported", e.Name, e.Symbol)
	}
	for symbol := range bindings {
		assert.True(t, facade[symbol], "binding %s has no declaration", symbol)
	}
}

type fakePathSource struct {
	paths []types.LearningPath
	dates map[int64]time.Time
}

func (f *fakePathSource) ListLearningPaths(ctx context.Context) ([]types.LearningPath, error) {
	return f.paths, nil
}

func (f *fakePathSource) ActiveEnrollmentDates(ctx context.Context, userID int64) (map[int64]time.Time, error) {
	return f.dates, nil
}

func TestLearningPathThroughFacade(t *testing.T) {
	key := types.MustParseLearningPathKey("path-v1:OpenedX+DemoX+2025+cohort1")

	// A value built through the facade is a canonical value
	lp := LearningPath{ID: 1, Key: key, DisplayName: "Demo", InviteOnly: false}
	var canonical *types.LearningPath = &lp
	assert.Equal(t, key.String(), canonical.String())
	require.NoError(t, canonical.Validate())

	manager := NewLearningPathManager(&fakePathSource{paths: []types.LearningPath{lp}})
	var m *types.LearningPathManager = manager

	visible, err := m.PathsVisibleToUser(context.Background(), &types.User{ID: 7})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, key, visible[0].Key)
	assert.Nil(t, visible[0].EnrollmentDate)
}
