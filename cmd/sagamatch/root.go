// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tochemey/sagamatch/config"
)

// rootOptions holds the state shared by every command.
type rootOptions struct {
	configFile string
	viper      *viper.Viper
	config     *config.Config
}

// flagKeys binds the global flags to configuration keys.
var flagKeys = map[string]string{
	"storage":      "storage.backend",
	"queue":        "queue.backend",
	"log-level":    "log.level",
	"trace-stdout": "telemetry.stdout",
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{viper: viper.New()}

	cmd := &cobra.Command{
		Use:   "sagamatch",
		Short: "Match order and payment artifacts into completed sagas",
		Long: `sagamatch consumes storage notifications of order and payment artifacts,
pairs them by correlation id under artifact leases and publishes one saga
result per completed pair.

Configuration is read from the --config file and SAGAMATCH_* environment
variables, e.g. SAGAMATCH_LEASE_DURATION=90s.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "configuration file (YAML)")
	flags.String("storage", config.StorageMemory, "tag store backend (memory|nats|bolt|redis|etcd)")
	flags.String("queue", config.QueueMemory, "queue backend (memory|nats)")
	flags.String("log-level", "info", "log level (debug|info|warning|error)")
	flags.Bool("trace-stdout", false, "export spans to stdout")
	for flag, key := range flagKeys {
		_ = opts.viper.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(newMatchCommand(opts))
	cmd.AddCommand(newResultsCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newPendingCommand(opts))
	cmd.AddCommand(newDeadLettersCommand(opts))
	return cmd
}

func (o *rootOptions) load() error {
	var (
		cfg *config.Config
		err error
	)
	if o.configFile != "" {
		cfg, err = config.LoadFile(o.viper, o.configFile)
	} else {
		cfg, err = config.Load(o.viper)
	}
	if err != nil {
		return err
	}
	o.config = cfg
	return nil
}
