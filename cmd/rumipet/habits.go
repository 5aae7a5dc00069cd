package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/status"
)

func newHabitsCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "habits",
		Short: "List and manage habits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listHabits(cmd, stdout)
		},
	}
	cmd.AddCommand(newHabitsAddCmd(stdout), newHabitsToggleCmd(stdout), newHabitsRemoveCmd(stdout))
	return cmd
}

func listHabits(cmd *cobra.Command, stdout io.Writer) error {
	cfg, err := loadConfig(cmd, os.Stderr)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	habits, err := st.ListHabits(cmd.Context())
	if err != nil {
		return err
	}
	if len(habits) == 0 {
		fmt.Fprintln(stdout, "No habits yet.") //nolint:errcheck
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tNAME\tDIFFICULTY\tMINUTES\tDAYS\tPLAYLIST") //nolint:errcheck
	for _, h := range habits {
		done := " "
		if h.Completed {
			done = "x"
		}
		fmt.Fprintf(tw, "%d\t[%s]\t%s\t%s\t%d\t%s\t%s\n", //nolint:errcheck
			h.ID, done, h.Name, h.Difficulty, h.DurationMinutes, h.RecurrenceDays, models.EncodeIDList(h.PlaylistIDs))
	}
	return tw.Flush()
}

func newHabitsAddCmd(stdout io.Writer) *cobra.Command {
	var (
		motive     string
		difficulty string
		minutes    int
		days       string
		playlist   string
	)
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a habit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := models.ParseDifficulty(difficulty)
			if err != nil {
				return err
			}
			h := models.NewHabit(args[0], motive, d, minutes, models.ParseIDList(playlist))
			if days != "" {
				set, err := models.ParseWeekdaySet(days)
				if err != nil {
					return err
				}
				h.RecurrenceDays = set
			}
			if err := h.Validate(); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := st.InsertHabit(cmd.Context(), h)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Created habit %d: %s\n", id, h.Name) //nolint:errcheck
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&motive, "motive", "", "why the habit matters")
	fs.StringVar(&difficulty, "difficulty", string(models.DifficultyEasy), "EASY, MEDIUM or HARD")
	fs.IntVar(&minutes, "minutes", 15, "mission length in minutes")
	fs.StringVar(&days, "days", "", "weekdays as 1-7, Monday first, e.g. 1,3,5 (default every day)")
	fs.StringVar(&playlist, "playlist", "", "comma-separated song ids played during the mission")
	return cmd
}

func newHabitsToggleCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle ID",
		Short: "Mark a habit done or undone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid habit id %q", args[0])
			}
			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			engine := status.NewEngine(st)
			defer engine.Close()
			h, err := engine.ToggleCompletion(cmd.Context(), id)
			if err != nil {
				return err
			}
			state := "pending"
			if h.Completed {
				state = "done"
			}
			fmt.Fprintf(stdout, "%s is now %s\n", h.Name, state) //nolint:errcheck
			return nil
		},
	}
}

func newHabitsRemoveCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a habit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid habit id %q", args[0])
			}
			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteHabit(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Deleted habit %d\n", id) //nolint:errcheck
			return nil
		},
	}
}
