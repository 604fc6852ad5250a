// Copyright 2026 The fwprotect authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/embedsec/fwprotect/internal/config"
	"github.com/embedsec/fwprotect/internal/engine"
	"github.com/embedsec/fwprotect/internal/errs"
	"github.com/embedsec/fwprotect/internal/keys"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	v          *viper.Viper
	configFile string
	envFile    string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{v: viper.New()}
	cmd := &cobra.Command{
		Use:   "fwprotect",
		Short: "Firmware bundle-and-protect tool",
		Long: `fwprotect prepares firmware images for the encrypted bootloader.

It appends a release message to an Intel HEX image, encrypts every data
record, computes per-page integrity tags and a version signature, and packs
everything into a single compressed artifact.

Settings are read from flags, FWPROTECT_* environment variables, an optional
.env file and an optional config file, in that order of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := config.Load(o.v, cmd.Flags(), o.configFile, o.envFile)
			if err != nil {
				return err
			}
			o.cfg = c
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&o.configFile, "config", "", "Config file (YAML, TOML or JSON).")
	f.StringVar(&o.envFile, "env_file", config.DefaultEnvFile, "Environment file to load if present.")
	config.RegisterFlags(f)

	cmd.AddCommand(
		newProtectCmd(o),
		newInspectCmd(o),
		newKeygenCmd(),
	)
	return cmd
}

// newEngine loads the configured key and builds the cipher engine.
func newEngine(c *config.Config) (*engine.Engine, error) {
	key, err := keys.Load(c.KeySource())
	if err != nil {
		return nil, err
	}
	eopts, err := c.EngineOptions()
	if err != nil {
		return nil, err
	}
	return engine.New(key, eopts...)
}

// category names the class of err for logs and metrics.
func category(err error) string {
	switch {
	case errors.Is(err, errs.ErrInput):
		return "input"
	case errors.Is(err, errs.ErrAlignment):
		return "alignment"
	case errors.Is(err, errs.ErrCrypto):
		return "crypto"
	case errors.Is(err, errs.ErrIO):
		return "io"
	}
	return "error"
}
