package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/picklr-io/apphost/internal/eval"
	"github.com/picklr-io/apphost/internal/ir"
	"github.com/picklr-io/apphost/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage generated values",
	Long:  `Commands for inspecting and removing values generated on earlier runs.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys with a generated value",
	RunE:  runStateList,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Forget a generated value so the next run generates a new one",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func loadBackend(cmd *cobra.Command) (state.Backend, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return openBackend(cmd.Context(), wd, eval.NewEvaluator(wd))
}

func runStateList(cmd *cobra.Command, args []string) error {
	backend, err := loadBackend(cmd)
	if err != nil {
		return err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(s.Parameters) == 0 {
		fmt.Fprintln(out, "No generated values in state.")
		return nil
	}

	fmt.Fprintf(out, "State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s\n", k)
	}
	fmt.Fprintf(out, "\nTotal: %d value(s)\n", len(keys))
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	backend, err := loadBackend(cmd)
	if err != nil {
		return err
	}

	target := args[0]
	err = state.Update(cmd.Context(), backend, func(s *ir.State) error {
		if _, ok := s.Parameters[target]; !ok {
			return fmt.Errorf("%s not found in state", target)
		}
		delete(s.Parameters, target)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from state\n", target)
	return nil
}
