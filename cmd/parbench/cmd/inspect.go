package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/parcore"
)

var inspectFlags struct {
	list bool
}

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Decode a slot allocator dump",
	Long: `Decode a dump written by "parbench bitset --dump" and print the state
word next to the held slots. A used count that differs from the held slots
marks a dump torn by concurrent acquires or releases.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVarP(&inspectFlags.list, "list", "l", false, "List every held slot")
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	d, err := parcore.ReadSlotDump(f)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Slot Dump ===\n")
	fmt.Fprintf(out, "Words:           %d\n", d.Words)
	fmt.Fprintf(out, "Capacity:        %d\n", d.Capacity)
	fmt.Fprintf(out, "Epoch:           %d\n", d.Epoch)
	fmt.Fprintf(out, "Used:            %d\n", d.Used)
	fmt.Fprintf(out, "Held:            %d\n", d.Held.GetCardinality())
	fmt.Fprintf(out, "Consistent:      %t\n", d.Consistent())
	if inspectFlags.list {
		fmt.Fprintf(out, "Slots:           %v\n", d.Held.ToArray())
	}
	return nil
}
