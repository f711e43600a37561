package enrollment

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learningpaths/learningpaths/internal/courses"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

type fixture struct {
	svc     *Service
	db      *storage.DB
	staff   *types.User
	learner *types.User
	public  *types.LearningPath
	private *types.LearningPath
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(filepath.Join(t.TempDir(), "enrollment.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db}
	f.svc = NewService(db, courses.NewService(db, courses.Options{}), opts)

	f.staff, err = db.CreateUser(ctx, "staff", "staff@example.com", true)
	require.NoError(t, err)
	f.learner, err = db.CreateUser(ctx, "learner", "learner@example.com", false)
	require.NoError(t, err)

	f.public = types.NewLearningPath(types.MustParseLearningPathKey("path-v1:org+pub+run+grp"), "Public")
	f.public.InviteOnly = false
	require.NoError(t, db.CreateLearningPath(ctx, f.public))

	f.private = types.NewLearningPath(types.MustParseLearningPathKey("path-v1:org+priv+run+grp"), "Private")
	require.NoError(t, db.CreateLearningPath(ctx, f.private))
	return f
}

func (f *fixture) audits(t *testing.T, user *types.User, path *types.LearningPath) []types.LearningPathEnrollmentAudit {
	t.Helper()
	audits, err := f.svc.Audits(context.Background(), path.Key, user.Username)
	require.NoError(t, err)
	return audits
}

func TestEnroll(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	e, created, err := f.svc.Enroll(ctx, f.learner, f.public.Key, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, e.IsActive)

	_, _, err = f.svc.Enroll(ctx, f.learner, f.public.Key, "")
	assert.ErrorIs(t, err, ErrEnrollmentExists)

	// Invite-only paths are hidden from learners
	_, _, err = f.svc.Enroll(ctx, f.learner, f.private.Key, "")
	assert.ErrorIs(t, err, types.ErrLearningPathNotFound)

	// Learners cannot enroll others
	_, _, err = f.svc.Enroll(ctx, f.learner, f.public.Key, "staff")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// Staff can enroll anyone anywhere
	_, created, err = f.svc.Enroll(ctx, f.staff, f.private.Key, "learner")
	require.NoError(t, err)
	assert.True(t, created)

	_, _, err = f.svc.Enroll(ctx, f.staff, f.private.Key, "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)

	audits := f.audits(t, f.learner, f.private)
	require.Len(t, audits, 1)
	assert.Equal(t, types.UnenrolledToEnrolled, audits[0].StateTransition)
	require.NotNil(t, audits[0].EnrolledBy)
	assert.Equal(t, f.staff.ID, *audits[0].EnrolledBy)
}

func TestUnenrollAndReactivate(t *testing.T) {
	ctx := context.Background()

	t.Run("self unenrollment disabled", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, _, err := f.svc.Enroll(ctx, f.learner, f.public.Key, "")
		require.NoError(t, err)

		_, err = f.svc.Unenroll(ctx, f.learner, f.public.Key, "")
		assert.ErrorIs(t, err, ErrPermissionDenied)

		e, err := f.svc.Unenroll(ctx, f.staff, f.public.Key, "learner")
		require.NoError(t, err)
		assert.False(t, e.IsActive)

		_, err = f.svc.Unenroll(ctx, f.staff, f.public.Key, "learner")
		assert.ErrorIs(t, err, ErrNotEnrolled)

		e, created, err := f.svc.Enroll(ctx, f.learner, f.public.Key, "")
		require.NoError(t, err)
		assert.False(t, created)
		assert.True(t, e.IsActive)

		var transitions []types.StateTransition
		for _, a := range f.audits(t, f.learner, f.public) {
			transitions = append(transitions, a.StateTransition)
		}
		assert.Equal(t, []types.StateTransition{
			types.UnenrolledToEnrolled,
			types.EnrolledToUnenrolled,
			types.UnenrolledToEnrolled,
		}, transitions)
	})

	t.Run("self unenrollment allowed", func(t *testing.T) {
		f := newFixture(t, Options{AllowSelfUnenrollment: true})
		_, _, err := f.svc.Enroll(ctx, f.learner, f.public.Key, "")
		require.NoError(t, err)

		e, err := f.svc.Unenroll(ctx, f.learner, f.public.Key, "")
		require.NoError(t, err)
		assert.False(t, e.IsActive)
	})
}

func TestList(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, _, err := f.svc.Enroll(ctx, f.learner, f.public.Key, "")
	require.NoError(t, err)
	_, _, err = f.svc.Enroll(ctx, f.staff, f.public.Key, "")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, f.staff, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.List(ctx, f.learner, "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "learner", mine[0].User.Username)
	assert.Equal(t, f.public.Key.String(), mine[0].LearningPath.Key)

	filtered, err := f.svc.ListForPath(ctx, f.staff, f.public.Key, "learner")
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	none, err := f.svc.List(ctx, f.staff, "ghost")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.ListForPath(ctx, f.learner, f.public.Key, "staff")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestBulkEnrollAndPendingEnrollments(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	group, err := f.db.CreateGroup(ctx, "cohort")
	require.NoError(t, err)
	_, err = f.db.AddGroupMember(ctx, group.ID, f.learner.ID)
	require.NoError(t, err)

	req := BulkRequest{
		LearningPaths: f.private.Key.String() + ",not-a-key",
		Emails:        "new@example.com, invalid-email",
		GroupIDs:      strconv.FormatInt(group.ID, 10),
		Reason:        "new cohort",
		Org:           "OpenedX",
		Role:          "student",
	}

	_, err = f.svc.BulkEnroll(ctx, f.learner, req)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	result, err := f.svc.BulkEnroll(ctx, f.staff, req)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EnrollmentsCreated)
	assert.Equal(t, 1, result.EnrollmentAllowedCreated)

	audits := f.audits(t, f.learner, f.private)
	require.Len(t, audits, 1)
	assert.Equal(t, "new cohort", audits[0].Reason)
	assert.Equal(t, "OpenedX", audits[0].Org)

	// Repeating is idempotent for counts
	result, err = f.svc.BulkEnroll(ctx, f.staff, BulkRequest{LearningPaths: f.private.Key.String(), GroupIDs: req.GroupIDs})
	require.NoError(t, err)
	assert.Equal(t, 0, result.EnrollmentsCreated)
	audits = f.audits(t, f.learner, f.private)
	require.Len(t, audits, 2)
	assert.Equal(t, types.EnrolledToEnrolled, audits[1].StateTransition)
	assert.Equal(t, "new cohort", audits[1].Reason, "missing reason is inherited")

	pending, err := f.svc.Pending(ctx, f.private.Key)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "new@example.com", pending[0].Email)

	user, n, err := f.svc.Register(ctx, "newbie", "new@example.com", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err = f.svc.Pending(ctx, f.private.Key)
	require.NoError(t, err)
	assert.Empty(t, pending, "converted entries are no longer pending")

	audits = f.audits(t, user, f.private)
	require.Len(t, audits, 2)
	assert.Equal(t, types.UnenrolledToAllowedToEnroll, audits[0].StateTransition)
	assert.Equal(t, types.AllowedToEnrollToEnrolled, audits[1].StateTransition)
	assert.Equal(t, "new cohort", audits[1].Reason)
	assert.Equal(t, "student", audits[1].Role)

	allowed, err := f.db.GetAllowedEnrollment(ctx, "new@example.com", f.private.ID)
	require.NoError(t, err)
	assert.False(t, allowed.IsActive)
	require.NotNil(t, allowed.UserID)
	assert.Equal(t, user.ID, *allowed.UserID)

	visible, err := f.svc.Manager().PathsVisibleToUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, f.private.ID, visible[0].ID)
	assert.NotNil(t, visible[0].EnrollmentDate)
}

// linkFailingStore fails to link audits so that converting an allowed
// enrollment errors after the enrollment was created
type linkFailingStore struct {
	*storage.DB
}

func (s linkFailingStore) LinkAllowedAudits(ctx context.Context, allowedID, enrollmentID int64) error {
	return errors.New("link failed")
}

func TestProcessPendingEnrollmentsRetiresOnFailure(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	result, err := f.svc.BulkEnroll(ctx, f.staff, BulkRequest{
		LearningPaths: f.private.Key.String(),
		Emails:        "late@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.EnrollmentAllowedCreated)

	user, err := f.db.CreateUser(ctx, "late", "late@example.com", false)
	require.NoError(t, err)

	failing := NewService(linkFailingStore{f.db}, courses.NewService(f.db, courses.Options{}), Options{})
	_, err = failing.ProcessPendingEnrollments(ctx, user)
	require.Error(t, err)

	allowed, err := f.db.GetAllowedEnrollment(ctx, "late@example.com", f.private.ID)
	require.NoError(t, err)
	assert.False(t, allowed.IsActive, "a failed conversion still retires the allowed record")
	require.NotNil(t, allowed.UserID)
	assert.Equal(t, user.ID, *allowed.UserID)

	n, err := f.svc.ProcessPendingEnrollments(ctx, user)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is converted twice")
}

func TestBulkUnenroll(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.BulkEnroll(ctx, f.staff, BulkRequest{
		LearningPaths: f.public.Key.String(),
		Emails:        "learner@example.com,pending@example.com",
	})
	require.NoError(t, err)

	result, err := f.svc.BulkUnenroll(ctx, f.staff, BulkRequest{
		LearningPaths: f.public.Key.String(),
		Emails:        "learner@example.com,pending@example.com",
		Reason:        "end of term",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EnrollmentsUnenrolled)
	assert.Equal(t, 1, result.EnrollmentAllowedDeactivated)

	audits := f.audits(t, f.learner, f.public)
	require.Len(t, audits, 2)
	assert.Equal(t, types.EnrolledToUnenrolled, audits[1].StateTransition)
	assert.Equal(t, "end of term", audits[1].Reason)

	result, err = f.svc.BulkUnenroll(ctx, f.staff, BulkRequest{
		LearningPaths: f.public.Key.String(),
		Emails:        "learner@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.EnrollmentsUnenrolled)
	audits = f.audits(t, f.learner, f.public)
	assert.Equal(t, types.UnenrolledToUnenrolled, audits[len(audits)-1].StateTransition)
}

func TestEnrollInCourse(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	course := types.MustParseCourseKey("course-v1:org+c1+run")
	require.NoError(t, f.db.AddStep(ctx, types.NewLearningPathStep(f.public.ID, course)))

	_, err := f.svc.EnrollInCourse(ctx, f.learner, f.public.Key, course)
	assert.ErrorIs(t, err, types.ErrLearningPathNotFound, "must be enrolled in the path")

	_, _, err = f.svc.Enroll(ctx, f.learner, f.public.Key, "")
	require.NoError(t, err)

	_, err = f.svc.EnrollInCourse(ctx, f.learner, f.public.Key, types.MustParseCourseKey("course-v1:org+other+run"))
	assert.ErrorIs(t, err, ErrCourseNotInPath)

	created, err := f.svc.EnrollInCourse(ctx, f.learner, f.public.Key, course)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.svc.EnrollInCourse(ctx, f.learner, f.public.Key, course)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Equal(t, []int64{1, 2}, parseGroupIDs("1, 2"))
	assert.Nil(t, parseGroupIDs("1,x"))
	assert.True(t, validEmail("user@example.com"))
	assert.False(t, validEmail("invalid-email"))
	assert.False(t, validEmail("Name <user@example.com>"))
}
