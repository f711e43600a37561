package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/learningpaths/learningpaths/internal/ui"
	"github.com/learningpaths/learningpaths/pkg/types"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Manage the skill catalog",
	RunE:  runSkillsList,
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills",
	RunE:  runSkillsList,
}

var skillsCreateCmd = &cobra.Command{
	Use:   "create <display-name>",
	Short: "Create a skill (staff)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		s, err := c.CreateSkill(args[0])
		if err != nil {
			return fmt.Errorf("failed to create skill: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created skill %d (%s)\n", s.ID, s.DisplayName)
		return nil
	},
}

var skillsAttachCmd = &cobra.Command{
	Use:   "attach <path-key> <required|acquired> <skill-id>",
	Short: "Attach a skill to a learning path (staff)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := types.SkillKind(args[1])
		if !kind.Valid() {
			return fmt.Errorf("skill kind must be %q or %q", types.SkillRequired, types.SkillAcquired)
		}
		skillID, err := parseID(args[2])
		if err != nil {
			return err
		}
		var level *int
		if cmd.Flags().Changed("level") {
			v, _ := cmd.Flags().GetInt("level")
			level = &v
		}

		c, err := apiClient()
		if err != nil {
			return err
		}
		if _, err := c.AddPathSkill(args[0], kind, skillID, level); err != nil {
			return fmt.Errorf("failed to attach skill: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Attached %s skill %d to %s\n", kind, skillID, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(skillsCmd)
	skillsCmd.AddCommand(skillsListCmd, skillsCreateCmd, skillsAttachCmd)
	skillsAttachCmd.Flags().Int("level", 0, "Skill level")
}

func runSkillsList(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	list, err := c.ListSkills()
	if err != nil {
		return fmt.Errorf("failed to list skills: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No skills found.")
		return nil
	}
	for _, s := range list {
		fmt.Fprintf(out, "  %s %s\n", ui.PadRight(strconv.FormatInt(s.ID, 10), 6), s.DisplayName)
	}
	return nil
}
