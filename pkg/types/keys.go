package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	CourseKeyNamespace       = "course-v1"
	LearningPathKeyNamespace = "path-v1"
)

var (
	// ErrInvalidKey is returned when a course or learning path key cannot be parsed
	ErrInvalidKey = errors.New("invalid key")

	courseKeyPattern       = regexp.MustCompile(`^([^+]+)\+([^+]+)\+([^+]+)$`)
	learningPathKeyPattern = regexp.MustCompile(`^([^+]+)\+([^+]+)\+([^+]+)\+([^+]+)$`)
)

// LearningPathKey identifies a learning path.
//
// Format: path-v1:{org}+{number}+{run}+{group}
type LearningPathKey struct {
	Org    string
	Number string
	Run    string
	Group  string
}

// ParseLearningPathKey parses the canonical string form of a learning path key
func ParseLearningPathKey(s string) (LearningPathKey, error) {
	body, ok := strings.CutPrefix(s, LearningPathKeyNamespace+":")
	if !ok {
		return LearningPathKey{}, invalidLearningPathKey(s)
	}
	m := learningPathKeyPattern.FindStringSubmatch(body)
	if m == nil {
		return LearningPathKey{}, invalidLearningPathKey(s)
	}
	return LearningPathKey{Org: m[1], Number: m[2], Run: m[3], Group: m[4]}, nil
}

func invalidLearningPathKey(s string) error {
	return fmt.Errorf("%w %q: Invalid format. Use: 'path-v1:{org}+{number}+{run}+{group}'", ErrInvalidKey, s)
}

// IsZero reports whether the key is unset
func (k LearningPathKey) IsZero() bool {
	return k == LearningPathKey{}
}

func (k LearningPathKey) String() string {
	if k.IsZero() {
		return ""
	}
	return LearningPathKeyNamespace + ":" + strings.Join([]string{k.Org, k.Number, k.Run, k.Group}, "+")
}

func (k LearningPathKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *LearningPathKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = LearningPathKey{}
		return nil
	}
	parsed, err := ParseLearningPathKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// CourseKey identifies a course run.
//
// Format: course-v1:{org}+{course}+{run}
type CourseKey struct {
	Org    string
	Course string
	Run    string
}

// ParseCourseKey parses the canonical string form of a course key
func ParseCourseKey(s string) (CourseKey, error) {
	body, ok := strings.CutPrefix(s, CourseKeyNamespace+":")
	if !ok {
		return CourseKey{}, fmt.Errorf("%w %q: expected course-v1:{org}+{course}+{run}", ErrInvalidKey, s)
	}
	m := courseKeyPattern.FindStringSubmatch(body)
	if m == nil {
		return CourseKey{}, fmt.Errorf("%w %q: expected course-v1:{org}+{course}+{run}", ErrInvalidKey, s)
	}
	return CourseKey{Org: m[1], Course: m[2], Run: m[3]}, nil
}

// MustParseCourseKey is like ParseCourseKey but panics on error
func MustParseCourseKey(s string) CourseKey {
	k, err := ParseCourseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// MustParseLearningPathKey is like ParseLearningPathKey but panics on error
func MustParseLearningPathKey(s string) LearningPathKey {
	k, err := ParseLearningPathKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func (k CourseKey) IsZero() bool {
	return k == CourseKey{}
}

func (k CourseKey) String() string {
	if k.IsZero() {
		return ""
	}
	return CourseKeyNamespace + ":" + strings.Join([]string{k.Org, k.Course, k.Run}, "+")
}

func (k CourseKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *CourseKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = CourseKey{}
		return nil
	}
	parsed, err := ParseCourseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
