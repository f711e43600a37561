package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/learningpaths/learningpaths/internal/api/client"
	"github.com/learningpaths/learningpaths/internal/ui"
	"github.com/learningpaths/learningpaths/pkg/types"
)

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Browse and manage learning paths",
	Long: `Lists the learning paths visible to you and lets staff create, edit and
delete them. Keys look like path-v1:ORG+NUMBER+RUN+GROUP.`,
	RunE: runPathsList,
}

var pathsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List visible learning paths",
	RunE:  runPathsList,
}

var pathsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a learning path with its steps and skills",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		detail, err := c.GetLearningPath(args[0])
		if err != nil {
			return fmt.Errorf("failed to get learning path: %w", err)
		}
		printPathDetail(cmd.OutOrStdout(), detail)
		return nil
	},
}

var pathsCreateCmd = &cobra.Command{
	Use:   "create <key>",
	Short: "Create a learning path (staff)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := pathFields(cmd)
		fields["key"] = args[0]

		c, err := apiClient()
		if err != nil {
			return err
		}
		lp, err := c.CreateLearningPath(fields)
		if err != nil {
			return fmt.Errorf("failed to create learning path: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created learning path %s (%s)\n", lp.Key, lp.UUID)
		return nil
	},
}

var pathsUpdateCmd = &cobra.Command{
	Use:   "update <key>",
	Short: "Update a learning path (staff)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := pathFields(cmd)
		if len(fields) == 0 {
			return fmt.Errorf("nothing to update")
		}
		c, err := apiClient()
		if err != nil {
			return err
		}
		lp, err := c.UpdateLearningPath(args[0], fields)
		if err != nil {
			return fmt.Errorf("failed to update learning path: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated learning path %s\n", lp.Key)
		return nil
	},
}

var pathsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a learning path (staff)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.DeleteLearningPath(args[0]); err != nil {
			return fmt.Errorf("failed to delete learning path: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted learning path %s\n", args[0])
		return nil
	},
}

var pathsAddStepCmd = &cobra.Command{
	Use:   "add-step <key> <course-key>",
	Short: "Add a course to a learning path (staff)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var order *int
		var weight *float64
		if cmd.Flags().Changed("order") {
			v, _ := cmd.Flags().GetInt("order")
			order = &v
		}
		if cmd.Flags().Changed("weight") {
			v, _ := cmd.Flags().GetFloat64("weight")
			weight = &v
		}

		c, err := apiClient()
		if err != nil {
			return err
		}
		step, err := c.AddStep(args[0], args[1], order, weight)
		if err != nil {
			return fmt.Errorf("failed to add step: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s (weight %.2f)\n", step.CourseKey, args[0], step.Weight)
		return nil
	},
}

var pathsProgressCmd = &cobra.Command{
	Use:   "progress <key>",
	Short: "Show progress, grade and certificate eligibility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		c, err := apiClient()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		p, err := c.Progress(args[0], user)
		if err != nil {
			return fmt.Errorf("failed to get progress: %w", err)
		}
		fmt.Fprintf(out, "Progress: %s\n", ui.FormatPercent(p.Progress))

		if g, err := c.Grade(args[0], user); err == nil {
			fmt.Fprintf(out, "Grade:    %s (required %s)\n", ui.FormatPercent(g.Grade), ui.FormatPercent(g.RequiredGrade))
		}
		cert, err := c.Certificate(args[0], user)
		if err != nil {
			return fmt.Errorf("failed to get certificate status: %w", err)
		}
		fmt.Fprintf(out, "Certificate: eligible=%t (%s)\n", cert.IsEligible, cert.Reason)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pathsCmd)
	pathsCmd.AddCommand(pathsListCmd, pathsShowCmd, pathsCreateCmd, pathsUpdateCmd,
		pathsDeleteCmd, pathsAddStepCmd, pathsProgressCmd)

	levels := make([]string, 0, len(types.LevelChoices))
	for _, l := range types.LevelChoices {
		levels = append(levels, string(l.Value))
	}
	for _, cmd := range []*cobra.Command{pathsCreateCmd, pathsUpdateCmd} {
		cmd.Flags().String("name", "", "Display name")
		cmd.Flags().String("subtitle", "", "Subtitle")
		cmd.Flags().String("description", "", "Description")
		cmd.Flags().String("level", "", "Level ("+strings.Join(levels, ", ")+")")
		cmd.Flags().String("duration", "", `Duration, e.g. "10 Weeks"`)
		cmd.Flags().String("time-commitment", "", `Time commitment, e.g. "4-6 hours/week"`)
		cmd.Flags().Bool("sequential", false, "Courses must be taken in order")
		cmd.Flags().Bool("invite-only", true, "Only enrolled learners can see the path")
	}

	pathsAddStepCmd.Flags().Int("order", 0, "Position of the course in the path")
	pathsAddStepCmd.Flags().Float64("weight", 1, "Share of the aggregate grade (0..1)")

	pathsProgressCmd.Flags().String("user", "", "Username to report on (staff)")
}

// pathFields collects the flags that were set into an API request body
func pathFields(cmd *cobra.Command) map[string]interface{} {
	fields := map[string]interface{}{}
	strFlags := map[string]string{
		"name":            "display_name",
		"subtitle":        "subtitle",
		"description":     "description",
		"level":           "level",
		"duration":        "duration",
		"time-commitment": "time_commitment",
	}
	for flag, field := range strFlags {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetString(flag)
			fields[field] = v
		}
	}
	boolFlags := map[string]string{"sequential": "sequential", "invite-only": "invite_only"}
	for flag, field := range boolFlags {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetBool(flag)
			fields[field] = v
		}
	}
	return fields
}

func runPathsList(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	paths, err := c.ListLearningPaths()
	if err != nil {
		return fmt.Errorf("failed to list learning paths: %w", err)
	}
	printPathList(cmd.OutOrStdout(), paths)
	return nil
}

func printPathList(out io.Writer, paths []types.VisibleLearningPath) {
	if len(paths) == 0 {
		fmt.Fprintln(out, "No learning paths found.")
		return
	}
	for _, lp := range paths {
		enrolled := ""
		if lp.EnrollmentDate != nil {
			enrolled = "enrolled " + lp.EnrollmentDate.Format("2006-01-02")
		}
		fmt.Fprintf(out, "  %s %s %s %s\n",
			ui.PadRight(lp.Key.String(), 40),
			ui.PadRight(ui.TruncateString(lp.DisplayName, 30), 30),
			ui.PadRight(string(lp.Level), 12),
			enrolled)
	}
	fmt.Fprintf(out, "\nTotal learning paths: %d\n", len(paths))
}

func printPathDetail(out io.Writer, d *client.LearningPathDetail) {
	lp := d.LearningPath
	fmt.Fprintf(out, "%s\n", lp.DisplayName)
	fmt.Fprintf(out, "  Key: %s\n", lp.Key)
	fmt.Fprintf(out, "  UUID: %s\n", lp.UUID)
	if lp.Subtitle != "" {
		fmt.Fprintf(out, "  %s\n", lp.Subtitle)
	}
	if lp.Level != "" {
		fmt.Fprintf(out, "  Level: %s", lp.Level)
		if lp.Duration != "" {
			fmt.Fprintf(out, " | Duration: %s", lp.Duration)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "  Invite only: %t | Sequential: %t\n", lp.InviteOnly, lp.Sequential)
	fmt.Fprintf(out, "  Certificate: %s completion, %s grade\n",
		ui.FormatPercent(d.GradingCriteria.RequiredCompletion), ui.FormatPercent(d.GradingCriteria.RequiredGrade))

	fmt.Fprintf(out, "\n  Steps (%d):\n", len(d.Steps))
	for i, s := range d.Steps {
		fmt.Fprintf(out, "    %d. %s (weight %.2f)\n", i+1, s.CourseKey, s.Weight)
	}
	printSkills(out, "Required skills", skillsOf(d.RequiredSkills, nil))
	printSkills(out, "Acquired skills", skillsOf(nil, d.AcquiredSkills))
}

func skillsOf(required []types.RequiredSkill, acquired []types.AcquiredSkill) []types.LearningPathSkill {
	var out []types.LearningPathSkill
	for _, s := range required {
		out = append(out, s.LearningPathSkill)
	}
	for _, s := range acquired {
		out = append(out, s.LearningPathSkill)
	}
	return out
}

func printSkills(out io.Writer, title string, skills []types.LearningPathSkill) {
	if len(skills) == 0 {
		return
	}
	fmt.Fprintf(out, "\n  %s:\n", title)
	for _, s := range skills {
		name := fmt.Sprintf("skill %d", s.SkillID)
		if s.Skill != nil {
			name = s.Skill.DisplayName
		}
		if s.Level != nil {
			fmt.Fprintf(out, "    - %s (level %d)\n", name, *s.Level)
		} else {
			fmt.Fprintf(out, "    - %s\n", name)
		}
	}
}
