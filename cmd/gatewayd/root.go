package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gatewayd/internal/ctl"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gatewayd",
		Short: "Multiplexed OpenAI-compatible inference gateway",
		Long: `gatewayd fronts one or more inference engines (upstream OpenAI-compatible
servers, in-process llama.cpp, or the built-in echo engine) behind a single
chat completion API. Engines are initialized lazily or eagerly, exactly once.

Run "gatewayd serve" to start the server; the other commands are clients of a
running gateway.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	v := viper.New()
	v.SetEnvPrefix("GATEWAYD")
	v.AutomaticEnv()
	root.AddCommand(newServeCmd(v))

	cc := ctl.DefaultConfig()
	for _, c := range ctl.Commands(cc) {
		ctl.AddFlags(c, cc)
		root.AddCommand(c)
	}
	return root
}

// splitCSV splits a comma separated list, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
