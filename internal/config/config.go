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

// Package config assembles the protection settings from defaults, an
// optional config file, a .env file, the environment and command line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/embedsec/fwprotect/api"
	"github.com/embedsec/fwprotect/internal/engine"
	"github.com/embedsec/fwprotect/internal/ihex"
	"github.com/embedsec/fwprotect/internal/keys"
	"github.com/embedsec/fwprotect/internal/protect"
)

// EnvPrefix prefixes every environment variable read, e.g.
// FWPROTECT_BLOCK_WIDTH.
const EnvPrefix = "FWPROTECT"

// DefaultEnvFile is loaded if present.
const DefaultEnvFile = ".env"

// Config holds the settings of a protection run.
type Config struct {
	Key        string `mapstructure:"key"`
	KeyFile    string `mapstructure:"key_file"`
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
	KeyLabel   string `mapstructure:"key_label"`

	BlockWidth   int    `mapstructure:"block_width"`
	PageSize     int    `mapstructure:"page_size"`
	LineLength   int    `mapstructure:"line_length"`
	Checksum     string `mapstructure:"checksum"`
	TagFinalPage bool   `mapstructure:"tag_final_page"`
	PadTail      bool   `mapstructure:"pad_tail"`
	PadByte      int    `mapstructure:"pad_byte"`
	Tweak        string `mapstructure:"tweak"`

	Codec       string `mapstructure:"codec"`
	Compression string `mapstructure:"compression"`
}

var defaults = map[string]any{
	"key":            "",
	"key_file":       "",
	"passphrase":     "",
	"salt":           "",
	"key_label":      "",
	"block_width":    engine.Width64,
	"page_size":      protect.DefaultPageSize,
	"line_length":    ihex.DefaultLineLength,
	"checksum":       protect.ChecksumRecompute.String(),
	"tag_final_page": false,
	"pad_tail":       true,
	"pad_byte":       0,
	"tweak":          engine.TweakNone.String(),
	"codec":          api.JSON.String(),
	"compression":    api.Zlib.String(),
}

// RegisterFlags adds the flags for every setting to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("key", "", "Cipher key as 32 hex digits.")
	flags.String("key_file", "", "File holding the cipher key, as hex text or 16 raw bytes.")
	flags.String("passphrase", "", "Passphrase to derive the cipher key from.")
	flags.String("salt", "", "Salt for passphrase key derivation.")
	flags.String("key_label", "", "Label to diversify the cipher key with.")
	flags.Int("block_width", engine.Width64, "Cipher block width in bits, 64 or 128.")
	flags.Int("page_size", protect.DefaultPageSize, "Number of data records covered by each tag.")
	flags.Int("line_length", ihex.DefaultLineLength, "Maximum data bytes per emitted record.")
	flags.String("checksum", protect.ChecksumRecompute.String(), "Record checksum handling after encryption: recompute or preserve.")
	flags.Bool("tag_final_page", false, "Also tag the trailing partial page.")
	flags.Bool("pad_tail", true, "Pad the image tail to a whole cipher block.")
	flags.Int("pad_byte", 0, "Byte value used for tail padding.")
	flags.String("tweak", engine.TweakNone.String(), "Block address binding: none or address.")
	flags.String("codec", api.JSON.String(), "Artifact encoding: json or proto.")
	flags.String("compression", api.Zlib.String(), "Artifact compression: zlib, zstd or lz4.")
}

// Load reads the configuration into v. flags, if non-nil, must have been
// registered with RegisterFlags. configFile and envFile are optional; a
// missing envFile is not an error.
func Load(v *viper.Viper, flags *pflag.FlagSet, configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %q: %v", envFile, err)
			}
		} else {
			klog.V(1).Infof("Loaded environment from %q", envFile)
		}
	}

	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		klog.V(1).Infof("Loaded config from %q", v.ConfigFileUsed())
	}
	if flags != nil {
		for k := range defaults {
			if f := flags.Lookup(k); f != nil {
				if err := v.BindPFlag(k, f); err != nil {
					return nil, fmt.Errorf("bind flag %q: %v", k, err)
				}
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects inconsistent settings. Key material is checked when it
// is loaded.
func (c *Config) Validate() error {
	if _, err := c.EngineOptions(); err != nil {
		return err
	}
	if _, err := c.ProtectOptions(); err != nil {
		return err
	}
	if _, err := c.ArtifactCodec(); err != nil {
		return err
	}
	if _, err := c.ArtifactCompression(); err != nil {
		return err
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.LineLength <= 0 || c.LineLength > 0xff {
		return fmt.Errorf("line_length must be in [1, 255], got %d", c.LineLength)
	}
	if bs := c.BlockWidth / 8; c.LineLength%bs != 0 {
		return fmt.Errorf("line_length %d is not a multiple of the %d byte block", c.LineLength, bs)
	}
	return nil
}

// KeySource returns where the cipher key comes from.
func (c *Config) KeySource() keys.Source {
	return keys.Source{
		Hex:        c.Key,
		File:       c.KeyFile,
		Passphrase: c.Passphrase,
		Salt:       c.Salt,
		Label:      c.KeyLabel,
	}
}

// EngineOptions returns the cipher engine options.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	if c.BlockWidth != engine.Width64 && c.BlockWidth != engine.Width128 {
		return nil, fmt.Errorf("block_width must be %d or %d, got %d", engine.Width64, engine.Width128, c.BlockWidth)
	}
	t, err := engine.ParseTweak(c.Tweak)
	if err != nil {
		return nil, err
	}
	return []engine.Option{engine.WithBlockWidth(c.BlockWidth), engine.WithTweak(t)}, nil
}

// ProtectOptions returns the protection pipeline options.
func (c *Config) ProtectOptions() ([]protect.Option, error) {
	m, err := protect.ParseChecksumMode(c.Checksum)
	if err != nil {
		return nil, err
	}
	if c.PadByte < 0 || c.PadByte > 0xff {
		return nil, fmt.Errorf("pad_byte must be in [0, 255], got %d", c.PadByte)
	}
	return []protect.Option{
		protect.WithPageSize(c.PageSize),
		protect.WithLineLength(c.LineLength),
		protect.WithChecksumMode(m),
		protect.WithFinalPageTag(c.TagFinalPage),
		protect.WithTailPadding(c.PadTail, byte(c.PadByte)),
	}, nil
}

// ArtifactCodec returns the artifact encoding.
func (c *Config) ArtifactCodec() (api.Codec, error) {
	return api.ParseCodec(c.Codec)
}

// ArtifactCompression returns the artifact compression.
func (c *Config) ArtifactCompression() (api.Compression, error) {
	return api.ParseCompression(c.Compression)
}
