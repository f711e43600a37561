package models

import (
	"fmt"
	"reflect"
)

// Export is one entry of the public surface
type Export struct {
	Group  string `json:"group"`
	Name   string `json:"name"`   // name callers of the old import path rely on
	Symbol string `json:"symbol"` // Go identifier bound in this package
	Kind   string `json:"kind"`   // "type" or "var"
}

// Exports is the ordered public surface of this package
var Exports = []Export{
	// Learning Paths
	{Group: "Learning Paths", Name: "LEVEL_CHOICES", Symbol: "LevelChoices", Kind: "var"},
	{Group: "Learning Paths", Name: "LearningPath", Symbol: "LearningPath", Kind: "type"},
	{Group: "Learning Paths", Name: "LearningPathManager", Symbol: "LearningPathManager", Kind: "type"},
	{Group: "Learning Paths", Name: "LearningPathStep", Symbol: "LearningPathStep", Kind: "type"},
	{Group: "Learning Paths", Name: "LearningPathGradingCriteria", Symbol: "LearningPathGradingCriteria", Kind: "type"},
	// Skills
	{Group: "Skills", Name: "Skill", Symbol: "Skill", Kind: "type"},
	{Group: "Skills", Name: "LearningPathSkill", Symbol: "LearningPathSkill", Kind: "type"},
	{Group: "Skills", Name: "RequiredSkill", Symbol: "RequiredSkill", Kind: "type"},
	{Group: "Skills", Name: "AcquiredSkill", Symbol: "AcquiredSkill", Kind: "type"},
	// Enrollments
	{Group: "Enrollments", Name: "LearningPathEnrollment", Symbol: "LearningPathEnrollment", Kind: "type"},
	{Group: "Enrollments", Name: "LearningPathEnrollmentAllowed", Symbol: "LearningPathEnrollmentAllowed", Kind: "type"},
	{Group: "Enrollments", Name: "LearningPathEnrollmentAudit", Symbol: "LearningPathEnrollmentAudit", Kind: "type"},
	// Groups
	{Group: "Groups", Name: "GroupCourseAssignment", Symbol: "GroupCourseAssignment", Kind: "type"},
	{Group: "Groups", Name: "GroupCourseEnrollmentAudit", Symbol: "GroupCourseEnrollmentAudit", Kind: "type"},
}

// bindings maps every re-exported identifier to a handle on what it is bound to.
// Types are recorded as nil pointers, values as pointers to the facade variable.
var bindings = map[string]any{
	"LevelChoices":                  &LevelChoices,
	"LearningPath":                  (*LearningPath)(nil),
	"LearningPathManager":           (*LearningPathManager)(nil),
	"LearningPathStep":              (*LearningPathStep)(nil),
	"LearningPathGradingCriteria":   (*LearningPathGradingCriteria)(nil),
	"Skill":                         (*Skill)(nil),
	"LearningPathSkill":             (*LearningPathSkill)(nil),
	"RequiredSkill":                 (*RequiredSkill)(nil),
	"AcquiredSkill":                 (*AcquiredSkill)(nil),
	"LearningPathEnrollment":        (*LearningPathEnrollment)(nil),
	"LearningPathEnrollmentAllowed": (*LearningPathEnrollmentAllowed)(nil),
	"LearningPathEnrollmentAudit":   (*LearningPathEnrollmentAudit)(nil),
	"GroupCourseAssignment":         (*GroupCourseAssignment)(nil),
	"GroupCourseEnrollmentAudit":    (*GroupCourseEnrollmentAudit)(nil),
	"NewLearningPathManager":        &NewLearningPathManager,
}

func init() {
	if err := checkSurface(Exports, bindings); err != nil {
		panic(fmt.Sprintf("models: broken public surface: %v", err))
	}
}

// checkSurface verifies that the manifest has no duplicates and only names
// identifiers this package binds
func checkSurface(exports []Export, bound map[string]any) error {
	names := make(map[string]bool, len(exports))
	symbols := make(map[string]bool, len(exports))
	for _, e := range exports {
		if names[e.Name] {
			return fmt.Errorf("duplicate export name %q", e.Name)
		}
		names[e.Name] = true
		if symbols[e.Symbol] {
			return fmt.Errorf("duplicate export symbol %q", e.Symbol)
		}
		symbols[e.Symbol] = true

		b, ok := bound[e.Symbol]
		if !ok {
			return fmt.Errorf("export %q names unbound symbol %q", e.Name, e.Symbol)
		}
		if kind := kindOf(b); kind != e.Kind {
			return fmt.Errorf("export %q is declared as %s but bound as %s", e.Name, e.Kind, kind)
		}
	}
	return nil
}

func kindOf(b any) string {
	v := reflect.ValueOf(b)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return "type"
	}
	return "var"
}

// Names returns the compatibility names of the public surface in order
func Names() []string {
	names := make([]string, len(Exports))
	for i, e := range Exports {
		names[i] = e.Name
	}
	return names
}

// Lookup finds an export by its compatibility name or its Go identifier
func Lookup(name string) (Export, bool) {
	for _, e := range Exports {
		if e.Name == name || e.Symbol == name {
			return e, true
		}
	}
	return Export{}, false
}

// TypeOf returns the type an export is bound to. For values it is the type of the value.
func TypeOf(name string) (reflect.Type, error) {
	e, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%s is not part of the public surface", name)
	}
	return reflect.TypeOf(bindings[e.Symbol]).Elem(), nil
}

// Surface returns the public surface grouped by domain area. Exports keep
// their manifest order within a group; use Groups for the group order.
func Surface() map[string][]Export {
	grouped := make(map[string][]Export)
	for _, e := range Exports {
		grouped[e.Group] = append(grouped[e.Group], e)
	}
	return grouped
}

// Groups returns the domain areas in manifest order
func Groups() []string {
	var groups []string
	seen := map[string]bool{}
	for _, e := range Exports {
		if !seen[e.Group] {
			seen[e.Group] = true
			groups = append(groups, e.Group)
		}
	}
	return groups
}
