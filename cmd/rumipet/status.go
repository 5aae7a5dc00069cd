package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/RumiPet/internal/status"
)

func newStatusCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the pet's mood, health and hygiene",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, os.Stderr)
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.GetPetStatus(cmd.Context())
			if err != nil {
				return err
			}
			habits, err := st.ListHabits(cmd.Context())
			if err != nil {
				return err
			}
			ps := status.DeriveStatus(rec, habits)
			fmt.Fprintf(stdout, "mood     %s\nhealth   %s\nhygiene  %s\n", bar(ps.Mood), bar(ps.Health), bar(ps.Hygiene)) //nolint:errcheck
			if rec != nil {
				fmt.Fprintf(stdout, "last action %s\n", rec.LastActionAt.Format("2006-01-02 15:04")) //nolint:errcheck
			}
			return nil
		},
	}
}

// bar renders a [0,1] value as a ten-cell gauge with a percentage.
func bar(v float64) string {
	filled := int(v*10 + 0.5)
	out := make([]byte, 10)
	for i := range out {
		if i < filled {
			out[i] = '#'
		} else {
			out[i] = '.'
		}
	}
	return fmt.Sprintf("[%s] %3.0f%%", out, v*100)
}
