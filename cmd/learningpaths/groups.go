package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/learningpaths/learningpaths/internal/groups"
	"github.com/learningpaths/learningpaths/internal/ui"
	"github.com/learningpaths/learningpaths/pkg/types"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage groups and their course assignments (staff)",
	Long: `Groups collect learners. Assigning a group to a course enrolls its members,
and auto-enroll assignments also enroll members added later.`,
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		list, err := c.ListGroups()
		if err != nil {
			return fmt.Errorf("failed to list groups: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No groups found.")
			return nil
		}
		for _, g := range list {
			fmt.Fprintf(out, "  %s %s %d members\n",
				ui.PadRight(strconv.FormatInt(g.ID, 10), 6),
				ui.PadRight(ui.TruncateString(g.Name, 40), 40),
				g.Members)
		}
		return nil
	},
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		g, err := c.CreateGroup(args[0])
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created group %d (%s)\n", g.ID, g.Name)
		return nil
	},
}

var groupsMembersCmd = &cobra.Command{
	Use:   "members <add|remove> <group-id> <user-id>...",
	Short: "Add or remove group members",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := parseID(args[1])
		if err != nil {
			return err
		}
		userIDs := make([]int64, 0, len(args)-2)
		for _, a := range args[2:] {
			id, err := parseID(a)
			if err != nil {
				return err
			}
			userIDs = append(userIDs, id)
		}

		c, err := apiClient()
		if err != nil {
			return err
		}
		var res *groups.MembershipResult
		switch args[0] {
		case "add":
			res, err = c.AddMembers(groupID, userIDs)
		case "remove":
			res, err = c.RemoveMembers(groupID, userIDs)
		default:
			return fmt.Errorf("unknown action %q, expected add or remove", args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to update members: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Members changed: %d, course operations: %d ok, %d failed\n",
			res.Changed, res.Successful, res.Failed)
		return nil
	},
}

var groupsAssignCmd = &cobra.Command{
	Use:   "assign <group-id> <course-key>",
	Short: "Assign a group to a course",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, err := parseID(args[0])
		if err != nil {
			return err
		}
		mode, _ := cmd.Flags().GetString("mode")
		autoEnroll, _ := cmd.Flags().GetBool("auto-enroll")

		c, err := apiClient()
		if err != nil {
			return err
		}
		a, err := c.CreateAssignment(groupID, args[1], types.EnrollmentMode(mode), autoEnroll)
		if err != nil {
			return fmt.Errorf("failed to assign group: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created assignment %d: %s -> %s (%s)\n",
			a.ID, a.GroupName, a.CourseKey, a.EnrollmentMode)
		return nil
	},
}

var groupsAssignmentsCmd = &cobra.Command{
	Use:   "assignments",
	Short: "List group course assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		list, err := c.ListAssignments()
		if err != nil {
			return fmt.Errorf("failed to list assignments: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, a := range list {
			flags := ""
			if a.AutoEnroll {
				flags += " auto"
			}
			if !a.IsActive {
				flags += " inactive"
			}
			fmt.Fprintf(out, "  %s %s %s %s%s\n",
				ui.PadRight(strconv.FormatInt(a.ID, 10), 6),
				ui.PadRight(ui.TruncateString(a.GroupName, 24), 24),
				ui.PadRight(a.CourseKey.String(), 40),
				a.EnrollmentMode, flags)
		}
		fmt.Fprintf(out, "\nTotal assignments: %d\n", len(list))
		return nil
	},
}

var groupsUnassignCmd = &cobra.Command{
	Use:   "unassign <assignment-id>",
	Short: "Delete an assignment and unenroll the group's members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.DeleteAssignment(id); err != nil {
			return fmt.Errorf("failed to delete assignment: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted assignment %d\n", id)
		return nil
	},
}

var groupsBulkEnrollCmd = &cobra.Command{
	Use:   "bulk-enroll",
	Short: "Enroll the members of groups in courses",
	RunE: func(cmd *cobra.Command, args []string) error {
		var req groups.BulkRequest
		req.GroupIDs, _ = cmd.Flags().GetString("groups")
		req.CourseIDs, _ = cmd.Flags().GetString("courses")
		req.CreateAssignment, _ = cmd.Flags().GetBool("create-assignment")
		req.Reason, _ = cmd.Flags().GetString("reason")
		mode, _ := cmd.Flags().GetString("mode")
		req.EnrollmentMode = types.EnrollmentMode(mode)

		c, err := apiClient()
		if err != nil {
			return err
		}
		res, err := c.BulkEnrollGroups(req)
		if err != nil {
			return fmt.Errorf("bulk group enrollment failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Enrolled: %d, skipped: %d, failed: %d, assignments created: %d\n",
			res.EnrollmentsCreated, res.EnrollmentsSkipped, res.EnrollmentsFailed, res.AssignmentsCreated)
		return nil
	},
}

var groupsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Re-apply assignments to current group members",
	RunE: func(cmd *cobra.Command, args []string) error {
		var req groups.SyncRequest
		req.AssignmentIDs, _ = cmd.Flags().GetString("assignments")
		req.RemoveExMembers, _ = cmd.Flags().GetBool("remove-ex-members")
		req.Reason, _ = cmd.Flags().GetString("reason")

		c, err := apiClient()
		if err != nil {
			return err
		}
		res, err := c.SyncGroupEnrollments(req)
		if err != nil {
			return fmt.Errorf("group sync failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Assignments synced: %d, added: %d, removed: %d, skipped: %d\n",
			res.AssignmentsSynced, res.EnrollmentsAdded, res.EnrollmentsRemoved, res.EnrollmentsSkipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	groupsCmd.AddCommand(groupsListCmd, groupsCreateCmd, groupsMembersCmd, groupsAssignCmd,
		groupsAssignmentsCmd, groupsUnassignCmd, groupsBulkEnrollCmd, groupsSyncCmd)

	groupsAssignCmd.Flags().String("mode", string(types.ModeAudit), "Enrollment mode")
	groupsAssignCmd.Flags().Bool("auto-enroll", true, "Enroll members added later")

	groupsBulkEnrollCmd.Flags().String("groups", "", "Comma separated group IDs")
	groupsBulkEnrollCmd.Flags().String("courses", "", "Comma separated course keys")
	groupsBulkEnrollCmd.Flags().String("mode", string(types.ModeAudit), "Enrollment mode")
	groupsBulkEnrollCmd.Flags().Bool("create-assignment", false, "Create an assignment per group and course")
	groupsBulkEnrollCmd.Flags().String("reason", "", "Reason recorded in the audit trail")

	groupsSyncCmd.Flags().String("assignments", "", "Comma separated assignment IDs (default: all auto-enroll)")
	groupsSyncCmd.Flags().Bool("remove-ex-members", false, "Unenroll users who left the group")
	groupsSyncCmd.Flags().String("reason", "", "Reason recorded in the audit trail")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}
