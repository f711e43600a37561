package main

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/learningpaths/learningpaths/internal/config"
	"github.com/learningpaths/learningpaths/internal/daemon"
	"github.com/learningpaths/learningpaths/internal/ui"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Offline user and token administration",
	Long: `Works on the database directly, without the daemon API. Use it to create
the first staff user and issue its token:

  learningpaths admin create-user admin admin@example.com --staff
  learningpaths admin token admin`,
}

var adminCreateUserCmd = &cobra.Command{
	Use:   "create-user <username> <email>",
	Short: "Create a user and convert its pending enrollments",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := mail.ParseAddress(args[1]); err != nil {
			return fmt.Errorf("invalid email address %q", args[1])
		}
		staff, _ := cmd.Flags().GetBool("staff")

		local, err := daemon.OpenLocal(config.Get())
		if err != nil {
			return err
		}
		defer local.Close()

		user, converted, err := local.Enrollment.Register(context.Background(), args[0], args[1], staff)
		if err != nil && user == nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (id %d, staff %t)\n", user.Username, user.ID, user.Staff())
		if converted > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Converted %d pending enrollments\n", converted)
		}
		return err
	},
}

var adminTokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Issue a bearer token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		local, err := daemon.OpenLocal(config.Get())
		if err != nil {
			return err
		}
		defer local.Close()

		user, err := local.DB.GetUserByUsername(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("user %s: %w", args[0], err)
		}
		token, err := local.Tokens.GenerateToken(user)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var adminSetStaffCmd = &cobra.Command{
	Use:   "set-staff <username>",
	Short: "Grant or revoke staff access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		revoke, _ := cmd.Flags().GetBool("revoke")

		local, err := daemon.OpenLocal(config.Get())
		if err != nil {
			return err
		}
		defer local.Close()

		ctx := context.Background()
		user, err := local.DB.GetUserByUsername(ctx, args[0])
		if err != nil {
			return fmt.Errorf("user %s: %w", args[0], err)
		}
		if err := local.DB.SetUserStaff(ctx, user.ID, !revoke); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		// Tokens carry the staff claim; existing ones keep the old value until reissued
		fmt.Fprintf(cmd.OutOrStdout(), "User %s staff=%t\n", user.Username, !revoke)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users through the daemon",
}

var usersRegisterCmd = &cobra.Command{
	Use:   "register <username> <email>",
	Short: "Register a user (staff)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		staff, _ := cmd.Flags().GetBool("staff")
		c, err := apiClient()
		if err != nil {
			return err
		}
		user, converted, err := c.RegisterUser(args[0], args[1], staff)
		if err != nil {
			return fmt.Errorf("failed to register user: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (id %d), converted %d pending enrollments\n",
			user.Username, user.ID, converted)
		return nil
	},
}

var usersTokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Issue a bearer token for a user (staff)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		token, err := c.IssueToken(args[0])
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users (staff)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		users, err := c.ListUsers()
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, u := range users {
			role := "learner"
			if u.Staff() {
				role = "staff"
			}
			fmt.Fprintf(out, "  %s %s %s %s\n",
				ui.PadRight(strconv.FormatInt(u.ID, 10), 6),
				ui.PadRight(u.Username, 20),
				ui.PadRight(ui.TruncateString(u.Email, 40), 40),
				role)
		}
		fmt.Fprintf(out, "\nTotal: %d users\n", len(users))
		return nil
	},
}

var usersMeCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the user the token belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		me, err := c.Me()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> staff=%t\n", me.Username, me.Email, me.Staff())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd, usersCmd)
	adminCmd.AddCommand(adminCreateUserCmd, adminTokenCmd, adminSetStaffCmd)
	usersCmd.AddCommand(usersRegisterCmd, usersTokenCmd, usersListCmd, usersMeCmd)

	adminCreateUserCmd.Flags().Bool("staff", false, "Grant staff access")
	adminSetStaffCmd.Flags().Bool("revoke", false, "Revoke staff access instead")
	usersRegisterCmd.Flags().Bool("staff", false, "Grant staff access")
}
