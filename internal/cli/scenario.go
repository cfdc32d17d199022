package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/dialogbot/core/dialog/scenario"
)

// errInvalidScenario is returned after the issues were already printed.
var errInvalidScenario = errors.New("scenario has errors")

func init() {
	rootCmd.AddCommand(scenarioCmd)
	scenarioCmd.AddCommand(scenarioValidateCmd)
}

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Inspect scenario files",
}

var scenarioValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a scenario for broken references",
	Long:  "Parse a scenario file and report steps that reference unknown steps, malformed conditions and looping auto chains.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, issues, err := scenario.LoadFile(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, issue := range issues {
			fmt.Fprintln(out, issue.String())
		}
		if scenario.HasErrors(issues) {
			return errInvalidScenario
		}
		fmt.Fprintf(out, "%s: %d steps, start %q, %d warnings\n", sc.Name, len(sc.Steps), sc.StartStep, len(issues))
		return nil
	},
}
