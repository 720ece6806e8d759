package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/geoffsee/polyfaas/netguard"
)

var blocklistCmd = &cobra.Command{
	Use:   "blocklist <out> <input...>",
	Short: "Compile IP/CIDR line files into a blocklist artifact",
	Long: `Compile one or more text files of IPv4 addresses and CIDR blocks into the
binary blocklist format the egress filter consumes. Use "-" to read stdin.`,
	Args: cobra.MinimumNArgs(2),
	Run:  runBlocklist,
}

func init() {
	blocklistCmd.Flags().String("format", "ranges", "Output format: ranges or trie")
	rootCmd.AddCommand(blocklistCmd)
}

func runBlocklist(cmd *cobra.Command, args []string) {
	format, _ := cmd.Flags().GetString("format")
	out := args[0]

	builder := netguard.NewBuilder()
	for _, input := range args[1:] {
		if input == "-" {
			if err := builder.AddLines(os.Stdin); err != nil {
				fail(err)
			}
			continue
		}
		f, err := os.Open(input)
		if err != nil {
			fail(err)
		}
		err = builder.AddLines(f)
		f.Close()
		if err != nil {
			fail(err)
		}
	}

	var err error
	switch format {
	case "ranges":
		err = builder.WriteRanges(out)
	case "trie":
		err = builder.WriteTrie(out)
	default:
		err = fmt.Errorf("unknown format %q: use ranges or trie", format)
	}
	if err != nil {
		fail(err)
	}
	fmt.Printf("wrote %s (%d ranges)\n", out, len(builder.Coalesced()))
}
