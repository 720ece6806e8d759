package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/geoffsee/polyfaas/executor"
	"github.com/geoffsee/polyfaas/hostfunc"
	"github.com/geoffsee/polyfaas/httpapi"
	"github.com/geoffsee/polyfaas/language/javascript"
	"github.com/geoffsee/polyfaas/language/python"
	"github.com/geoffsee/polyfaas/language/ruby"
	"github.com/geoffsee/polyfaas/netguard"
	"github.com/geoffsee/polyfaas/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP function host",
	Long: `Start the HTTP server.

Endpoints:
  GET  /health                   Health check
  POST /functions                Upload a function manifest
  GET  /functions                List stored functions
  POST /invoke/{id}              Invoke a function with a JSON event
  POST /resources                Create a resource
  GET  /resources                List resources
  POST /resources/{id}/owners    Attach an owning function`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	port, _ := cmd.Flags().GetInt("port")
	log := newLogger()

	cwd, err := os.Getwd()
	if err != nil {
		fail(err)
	}

	filter := netguard.NewFilter(netguard.BlocklistPath(), log)
	defer filter.Stop()
	filter.InstallDefaultGuard()
	filter.StartReloader(netguard.DefaultReloadInterval)

	assets, err := store.NewAssetStore(dataDir)
	if err != nil {
		fail(err)
	}
	resources, err := store.NewResourceStore(dataDir, log)
	if err != nil {
		fail(err)
	}

	proxy := hostfunc.NewNetProxy(filter)
	engine := executor.NewEngine(proxy, log,
		javascript.New(),
		python.New(),
		ruby.New(),
	)

	server := httpapi.New(assets, resources, engine, log, cwd)
	addr := fmt.Sprintf(":%d", port)
	log.Info("listening", "addr", addr, "languages", engine.Languages())
	if err := server.Router().Run(addr); err != nil {
		fail(err)
	}
}
