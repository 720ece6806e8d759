package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/geoffsee/polyfaas/store"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <manifestPath>",
	Short: "Resolve a manifest and store the function locally",
	Long: `Read a function manifest (JSON with comments, trailing commas, and
single-quoted strings allowed), resolve its source and dependency files
relative to the manifest location, and write the asset into the local store.`,
	Args: cobra.ExactArgs(1),
	Run:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) {
	manifestPath := args[0]

	manifest, err := store.ReadManifest(manifestPath)
	if err != nil {
		fail(err)
	}
	asset, err := store.ToAsset(filepath.Dir(manifestPath), manifest)
	if err != nil {
		fail(err)
	}
	assets, err := store.NewAssetStore(dataDir)
	if err != nil {
		fail(err)
	}
	if err := assets.Save(asset); err != nil {
		fail(err)
	}
	fmt.Printf("stored %s (%s, entry %s)\n", asset.ID, asset.LanguageID, asset.FunctionName)
}
