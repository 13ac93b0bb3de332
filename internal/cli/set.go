package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zoobzio/replica"
)

var setCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Write keys to the replicated state",
	Long: `Join as a short-lived popup context, apply the assignments and leave. Values that
parse as JSON keep their type; anything else is stored as a string.`,
	Args:    cobra.MinimumNArgs(1),
	GroupID: "state",
	RunE: func(cmd *cobra.Command, args []string) error {
		type assignment struct {
			key   string
			value any
		}
		assignments := make([]assignment, 0, len(args))
		for _, arg := range args {
			key, value, err := parseAssignment(arg)
			if err != nil {
				return err
			}
			assignments = append(assignments, assignment{key: key, value: value})
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Role = replica.RolePopup.String()

		sess, err := openSession(runContext(cmd), cfg, true)
		if err != nil {
			return err
		}

		for _, a := range assignments {
			if err := sess.state.Set(a.key, a.value); err != nil {
				_ = sess.Close()
				return fmt.Errorf("set %s: %w", a.key, err)
			}
		}
		if err := sess.state.LastError(); err != nil {
			printError(cmd.ErrOrStderr(), err)
		}
		return sess.Close()
	},
}
