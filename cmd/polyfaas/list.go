package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/geoffsee/polyfaas/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored functions",
	Run:   runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) {
	assets, err := store.NewAssetStore(dataDir)
	if err != nil {
		fail(err)
	}
	list, err := assets.List()
	if err != nil {
		fail(err)
	}
	for _, a := range list {
		mode := "script"
		if a.JSEvalAsModule {
			mode = "module"
		}
		fmt.Printf("%s  %-8s %-12s %s\n", a.ID, a.LanguageID, a.FunctionName, mode)
	}
	if len(list) == 0 {
		fmt.Println("no functions stored")
	}
}
