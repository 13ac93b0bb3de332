package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zoobzio/replica"
)

var getCmd = &cobra.Command{
	Use:   "get [key...]",
	Short: "Print the replicated state",
	Long: `Join as a short-lived popup context, wait for a peer snapshot and the durable
record, print the requested keys (or the whole state) and leave.`,
	GroupID: "state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Role = replica.RolePopup.String()

		sess, err := openSession(runContext(cmd), cfg, true)
		if err != nil {
			return err
		}
		defer sess.Close()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			snapshot, err := sess.state.Snapshot()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, formatValue(snapshot))
			return nil
		}

		for _, key := range args {
			value, ok, err := sess.state.Get(key)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key %q is not set", key)
			}
			if len(args) == 1 {
				fmt.Fprintln(out, formatValue(value))
				continue
			}
			fmt.Fprintf(out, "%s=%s\n", key, formatValue(value))
		}
		return nil
	},
}
