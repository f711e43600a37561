package groups

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learningpaths/learningpaths/internal/courses"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/pkg/types"
)

var demoCourse = types.MustParseCourseKey("course-v1:OpenedX+DemoX+2025")

type fixture struct {
	svc     *Service
	courses *courses.Service
	db      *storage.DB
	admin   *types.User
	alice   *types.User
	bob     *types.User
	group   *types.Group
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(filepath.Join(t.TempDir(), "groups.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, courses: courses.NewService(db, courses.Options{})}
	f.svc = NewService(db, f.courses)

	f.admin, err = db.CreateUser(ctx, "admin", "admin@example.com", true)
	require.NoError(t, err)
	f.alice, err = db.CreateUser(ctx, "alice", "alice@example.com", false)
	require.NoError(t, err)
	f.bob, err = db.CreateUser(ctx, "bob", "bob@example.com", false)
	require.NoError(t, err)

	f.group, err = f.svc.CreateGroup(ctx, "cohort-a")
	require.NoError(t, err)
	return f
}

func (f *fixture) enrolled(t *testing.T, user *types.User, course types.CourseKey) bool {
	t.Helper()
	ok, err := f.courses.IsEnrolled(context.Background(), user.ID, course)
	require.NoError(t, err)
	return ok
}

func (f *fixture) assign(t *testing.T, course types.CourseKey) *types.GroupCourseAssignment {
	t.Helper()
	a := types.NewGroupCourseAssignment(f.group.ID, course)
	require.NoError(t, f.svc.CreateAssignment(context.Background(), f.admin, a))
	return a
}

func TestGroupCRUD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateGroup(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.CreateGroup(ctx, "cohort-a")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	groups, err := f.svc.Groups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	_, err = f.svc.AddMembers(ctx, f.group.ID, []int64{f.alice.ID, f.bob.ID})
	require.NoError(t, err)

	g, err := f.svc.Group(ctx, f.group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Members)

	require.NoError(t, f.svc.DeleteGroup(ctx, f.group.ID))
	_, err = f.svc.Group(ctx, f.group.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
	assert.ErrorIs(t, f.svc.DeleteGroup(ctx, f.group.ID), ErrGroupNotFound)
}

func TestCreateAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.assign(t, demoCourse)
	assert.Equal(t, "cohort-a", a.GroupName)
	require.NotNil(t, a.AssignedBy)
	assert.Equal(t, f.admin.ID, *a.AssignedBy)

	err := f.svc.CreateAssignment(ctx, f.admin, types.NewGroupCourseAssignment(f.group.ID, demoCourse))
	assert.ErrorIs(t, err, ErrAssignmentExists)

	bad := types.NewGroupCourseAssignment(f.group.ID, types.MustParseCourseKey("course-v1:OpenedX+Other+2025"))
	bad.EnrollmentMode = "premium"
	assert.ErrorIs(t, f.svc.CreateAssignment(ctx, f.admin, bad), ErrInvalidRequest)

	a.AutoEnroll = false
	a.Reason = "paused"
	require.NoError(t, f.svc.UpdateAssignment(ctx, a))
	got, err := f.svc.Assignment(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.AutoEnroll)
	assert.Equal(t, "paused", got.Reason)

	_, err = f.svc.Assignment(ctx, 9999)
	assert.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestMembershipAutoEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.assign(t, demoCourse)
	manual := types.NewGroupCourseAssignment(f.group.ID, types.MustParseCourseKey("course-v1:OpenedX+Manual+2025"))
	manual.AutoEnroll = false
	require.NoError(t, f.svc.CreateAssignment(ctx, f.admin, manual))

	// bob is already enrolled so his audit is skipped
	_, err := f.courses.EnrollUserInCourse(ctx, f.bob, demoCourse, types.ModeAudit)
	require.NoError(t, err)

	result, err := f.svc.AddMembers(ctx, f.group.ID, []int64{f.alice.ID, f.bob.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Changed)
	assert.Equal(t, 1, result.Successful)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, f.enrolled(t, f.alice, demoCourse))
	assert.False(t, f.enrolled(t, f.alice, manual.CourseKey))

	audits, err := f.svc.Audits(ctx, storage.GroupAuditFilter{AssignmentID: a.ID, UserID: f.alice.ID})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, types.GroupEnrollmentSuccess, audits[0].Status)
	assert.Equal(t, "Auto-enrollment via group membership in cohort-a", audits[0].Reason)
	require.NotNil(t, audits[0].EnrolledBy)
	assert.Equal(t, f.alice.ID, *audits[0].EnrolledBy)

	skipped, err := f.svc.Audits(ctx, storage.GroupAuditFilter{UserID: f.bob.ID, Status: types.GroupEnrollmentSkipped})
	require.NoError(t, err)
	assert.Len(t, skipped, 1)

	// Adding an existing member changes nothing
	result, err = f.svc.AddMembers(ctx, f.group.ID, []int64{f.alice.ID})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Changed)

	// Removal unenrolls from every active assignment, auto-enroll or not
	_, err = f.courses.EnrollUserInCourse(ctx, f.alice, manual.CourseKey, types.ModeAudit)
	require.NoError(t, err)
	result, err = f.svc.RemoveMembers(ctx, f.group.ID, []int64{f.alice.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Successful)
	assert.False(t, f.enrolled(t, f.alice, demoCourse))
	assert.False(t, f.enrolled(t, f.alice, manual.CourseKey))

	audits, err = f.svc.Audits(ctx, storage.GroupAuditFilter{AssignmentID: a.ID, UserID: f.alice.ID})
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "Auto-unenrollment via group removal from cohort-a", audits[0].Reason)
}

func TestMembershipWithoutAssignments(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.AddMembers(context.Background(), f.group.ID, []int64{f.alice.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Changed)
	assert.Equal(t, 0, result.Successful)

	audits, err := f.svc.Audits(context.Background(), storage.GroupAuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, audits)

	_, err = f.svc.AddMembers(context.Background(), 9999, []int64{f.alice.ID})
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestDeleteAssignmentUnenrollsMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.assign(t, demoCourse)
	_, err := f.svc.AddMembers(ctx, f.group.ID, []int64{f.alice.ID, f.bob.ID})
	require.NoError(t, err)
	_, err = f.courses.UnenrollUserFromCourse(ctx, f.bob, demoCourse)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAssignment(ctx, a.ID))
	assert.False(t, f.enrolled(t, f.alice, demoCourse))

	audits, err := f.svc.Audits(ctx, storage.GroupAuditFilter{UserID: f.alice.ID})
	require.NoError(t, err)
	require.Len(t, audits, 2)
	latest := audits[0]
	assert.Nil(t, latest.AssignmentID)
	assert.Nil(t, latest.EnrolledBy)
	assert.Equal(t, types.GroupEnrollmentSuccess, latest.Status)
	assert.Equal(t, "Auto-unenrollment due to deletion of group-course assignment: cohort-a → "+demoCourse.String(), latest.Reason)
	assert.Nil(t, audits[1].AssignmentID, "earlier audits lose their assignment")

	bobAudits, err := f.svc.Audits(ctx, storage.GroupAuditFilter{UserID: f.bob.ID})
	require.NoError(t, err)
	assert.Equal(t, types.GroupEnrollmentSkipped, bobAudits[0].Status)

	assert.ErrorIs(t, f.svc.DeleteAssignment(ctx, a.ID), ErrAssignmentNotFound)
}

func TestBulkEnrollGroupToCourse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddMembers(ctx, f.group.ID, []int64{f.alice.ID, f.bob.ID})
	require.NoError(t, err)

	_, err = f.svc.BulkEnrollGroupToCourse(ctx, f.admin, BulkRequest{GroupIDs: "1,x", CourseIDs: demoCourse.String()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.BulkEnrollGroupToCourse(ctx, f.admin, BulkRequest{GroupIDs: strconv.FormatInt(f.group.ID, 10), CourseIDs: "not-a-course"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := BulkRequest{
		GroupIDs:         strconv.FormatInt(f.group.ID, 10),
		CourseIDs:        demoCourse.String() + ",bogus",
		EnrollmentMode:   types.ModeVerified,
		CreateAssignment: true,
		Reason:           "new cohort",
		Org:              "OpenedX",
		Role:             "student",
	}
	result, err := f.svc.BulkEnrollGroupToCourse(ctx, f.admin, req)
	require.NoError(t, err)
	assert.Equal(t, 2, result.EnrollmentsCreated)
	assert.Equal(t, 1, result.AssignmentsCreated)
	assert.Equal(t, 2, result.AuditRecordsCount)
	assert.True(t, f.enrolled(t, f.alice, demoCourse))

	a, err := f.db.GetAssignmentFor(ctx, f.group.ID, demoCourse)
	require.NoError(t, err)
	assert.Equal(t, types.ModeVerified, a.EnrollmentMode)
	assert.True(t, a.AutoEnroll)

	audits, err := f.svc.Audits(ctx, storage.GroupAuditFilter{AssignmentID: a.ID, UserID: f.alice.ID})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "OpenedX", audits[0].Org)
	assert.Equal(t, "student", audits[0].Role)
	require.NotNil(t, audits[0].EnrolledBy)
	assert.Equal(t, f.admin.ID, *audits[0].EnrolledBy)

	// A deactivated assignment is reactivated and members are skipped
	a.IsActive = false
	require.NoError(t, f.svc.UpdateAssignment(ctx, a))
	result, err = f.svc.BulkEnrollGroupToCourse(ctx, f.admin, req)
	require.NoError(t, err)
	assert.Equal(t, 0, result.AssignmentsCreated)
	assert.Equal(t, 2, result.EnrollmentsSkipped)
	a, err = f.svc.Assignment(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, a.IsActive)
}

func TestSyncGroupEnrollments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.assign(t, demoCourse)
	// Membership added before the assignment existed is not enrolled
	a.IsActive = false
	require.NoError(t, f.svc.UpdateAssignment(ctx, a))
	_, err := f.svc.AddMembers(ctx, f.group.ID, []int64{f.alice.ID, f.bob.ID})
	require.NoError(t, err)
	assert.False(t, f.enrolled(t, f.alice, demoCourse))

	a.IsActive = true
	require.NoError(t, f.svc.UpdateAssignment(ctx, a))

	result, err := f.svc.SyncGroupEnrollments(ctx, f.admin, SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AssignmentsSynced)
	assert.Equal(t, 2, result.EnrollmentsAdded)

	result, err = f.svc.SyncGroupEnrollments(ctx, f.admin, SyncRequest{AssignmentIDs: strconv.FormatInt(a.ID, 10), Reason: "Monthly sync"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EnrollmentsSkipped)

	skipped, err := f.svc.Audits(ctx, storage.GroupAuditFilter{UserID: f.alice.ID, Status: types.GroupEnrollmentSkipped})
	require.NoError(t, err)
	require.NotEmpty(t, skipped)
	assert.Equal(t, "Monthly sync - already enrolled", skipped[0].Reason)

	// bob leaves without the membership hook running
	_, err = f.db.RemoveGroupMember(ctx, f.group.ID, f.bob.ID)
	require.NoError(t, err)
	result, err = f.svc.SyncGroupEnrollments(ctx, f.admin, SyncRequest{RemoveExMembers: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EnrollmentsRemoved)
	assert.False(t, f.enrolled(t, f.bob, demoCourse))
	assert.True(t, f.enrolled(t, f.alice, demoCourse))

	_, err = f.svc.SyncGroupEnrollments(ctx, f.admin, SyncRequest{AssignmentIDs: "a,b"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
