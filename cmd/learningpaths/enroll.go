package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/learningpaths/learningpaths/internal/config"
	"github.com/learningpaths/learningpaths/internal/enrollment"
	"github.com/learningpaths/learningpaths/internal/ui"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <key>",
	Short: "Enroll in a learning path",
	Long: `Enrolls you in a learning path, or another learner when --user is given (staff).

Use 'learningpaths enroll bulk' to enroll many learners at once by email.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		c, err := apiClient()
		if err != nil {
			return err
		}
		_, created, err := c.Enroll(args[0], user)
		if err != nil {
			return fmt.Errorf("failed to enroll: %w", err)
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled in %s\n", args[0])
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Re-enrolled in %s\n", args[0])
		}
		return nil
	},
}

var unenrollCmd = &cobra.Command{
	Use:   "unenroll <key>",
	Short: "Leave a learning path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		c, err := apiClient()
		if err != nil {
			return err
		}
		if err := c.Unenroll(args[0], user); err != nil {
			return fmt.Errorf("failed to unenroll: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Unenrolled from %s\n", args[0])
		return nil
	},
}

var enrollmentsCmd = &cobra.Command{
	Use:   "enrollments",
	Short: "List learning path enrollments",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		c, err := apiClient()
		if err != nil {
			return err
		}
		list, err := c.ListEnrollments(user)
		if err != nil {
			return fmt.Errorf("failed to list enrollments: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No enrollments found.")
			return nil
		}
		for _, e := range list {
			state := "active"
			if !e.IsActive {
				state = "inactive"
			}
			fmt.Fprintf(out, "  %s %s %s %s\n",
				ui.PadRight(e.User.Username, 20),
				ui.PadRight(e.LearningPath.Key, 40),
				ui.PadRight(state, 8),
				e.Created.Format("2006-01-02"))
		}
		return nil
	},
}

var enrollBulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Enroll many learners by email (staff)",
	Long: `Enrolls learners in one or more learning paths by email. Emails without an
account are stored as pending enrollments and converted on registration.

Emails come from --emails, or from a CSV file whose first column holds them.`,
	RunE: runEnrollBulk,
}

var enrollPendingCmd = &cobra.Command{
	Use:   "pending <learning-path-key>",
	Short: "List emails allowed to enroll once they register (staff)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		pending, err := c.PendingEnrollments(args[0])
		if err != nil {
			return fmt.Errorf("failed to list pending enrollments: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(pending) == 0 {
			fmt.Fprintln(out, "No pending enrollments.")
			return nil
		}
		for _, p := range pending {
			fmt.Fprintf(out, "  %s %s\n", ui.PadRight(p.Email, 40), p.Created.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd, unenrollCmd, enrollmentsCmd)
	enrollCmd.AddCommand(enrollBulkCmd, enrollPendingCmd)

	enrollCmd.Flags().String("user", "", "Username to enroll (staff)")
	unenrollCmd.Flags().String("user", "", "Username to unenroll (staff)")
	enrollmentsCmd.Flags().String("user", "", "Only show this user's enrollments")

	enrollBulkCmd.Flags().String("paths", "", "Comma separated learning path keys")
	enrollBulkCmd.Flags().String("emails", "", "Comma separated emails")
	enrollBulkCmd.Flags().String("groups", "", "Comma separated group IDs whose members to enroll")
	enrollBulkCmd.Flags().String("csv", "", "CSV file with one email per row")
	enrollBulkCmd.Flags().String("reason", "", "Reason recorded in the audit trail")
	enrollBulkCmd.Flags().Bool("unenroll", false, "Unenroll instead of enroll")
	enrollBulkCmd.MarkFlagRequired("paths")
}

func runEnrollBulk(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	csvFile, _ := cmd.Flags().GetString("csv")
	unenroll, _ := cmd.Flags().GetBool("unenroll")

	req := enrollment.BulkRequest{}
	req.LearningPaths, _ = cmd.Flags().GetString("paths")
	req.Emails, _ = cmd.Flags().GetString("emails")
	req.GroupIDs, _ = cmd.Flags().GetString("groups")
	req.Reason, _ = cmd.Flags().GetString("reason")

	c, err := apiClient()
	if err != nil {
		return err
	}

	if csvFile == "" {
		if unenroll {
			res, err := c.BulkUnenroll(req)
			if err != nil {
				return fmt.Errorf("bulk unenroll failed: %w", err)
			}
			fmt.Fprintf(out, "Unenrolled: %d, pending enrollments deactivated: %d\n",
				res.EnrollmentsUnenrolled, res.EnrollmentAllowedDeactivated)
			return nil
		}
		res, err := c.BulkEnroll(req)
		if err != nil {
			return fmt.Errorf("bulk enroll failed: %w", err)
		}
		fmt.Fprintf(out, "Enrolled: %d, pending enrollments created: %d\n",
			res.EnrollmentsCreated, res.EnrollmentAllowedCreated)
		return nil
	}

	f, err := os.Open(csvFile)
	if err != nil {
		return fmt.Errorf("failed to open CSV: %w", err)
	}
	defer f.Close()
	emails, err := readEmailsCSV(f)
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		return errors.New("no emails found in CSV")
	}

	var bar *ui.ProgressBar
	if config.Get().UI.ProgressBar {
		bar = ui.NewProgressBar(len(emails), "Enrolling")
	}

	// One request per row so progress and failures are visible per learner
	var enrolled, pending, failed int
	for _, email := range emails {
		row := req
		row.Emails = email
		row.GroupIDs = ""

		var rowErr error
		if unenroll {
			var res *enrollment.BulkUnenrollResult
			if res, rowErr = c.BulkUnenroll(row); rowErr == nil {
				enrolled += res.EnrollmentsUnenrolled
				pending += res.EnrollmentAllowedDeactivated
			}
		} else {
			var res *enrollment.BulkEnrollResult
			if res, rowErr = c.BulkEnroll(row); rowErr == nil {
				enrolled += res.EnrollmentsCreated
				pending += res.EnrollmentAllowedCreated
			}
		}
		if rowErr != nil {
			failed++
		}
		if bar != nil {
			bar.Step(rowErr)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintf(out, "Processed %d rows in %s\n", len(emails), ui.FormatDuration(bar.Elapsed()))
	}

	verb := "Enrolled"
	if unenroll {
		verb = "Unenrolled"
	}
	fmt.Fprintf(out, "%s: %d, pending: %d, failed rows: %d\n", verb, enrolled, pending, failed)
	return nil
}

// readEmailsCSV returns the first column of every row that holds an email
// address. A header row and blank rows are skipped.
func readEmailsCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var emails []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		email := strings.TrimSpace(record[0])
		if email == "" || strings.EqualFold(email, "email") {
			continue
		}
		if _, err := mail.ParseAddress(email); err != nil {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("invalid email %q on line %d", email, line)
		}
		emails = append(emails, email)
	}
	return emails, nil
}
