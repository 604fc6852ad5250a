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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedsec/fwprotect/api"
	"github.com/embedsec/fwprotect/internal/engine"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefaults(t *testing.T) {
	c, err := Load(viper.New(), nil, "", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, engine.Width64, c.BlockWidth)
	assert.Equal(t, 16, c.PageSize)
	assert.Equal(t, 16, c.LineLength)
	assert.Equal(t, "recompute", c.Checksum)
	assert.False(t, c.TagFinalPage)
	assert.True(t, c.PadTail)
	assert.Equal(t, 0, c.PadByte)
	assert.Equal(t, "none", c.Tweak)

	codec, err := c.ArtifactCodec()
	require.NoError(t, err)
	assert.Equal(t, api.JSON, codec)
	comp, err := c.ArtifactCompression()
	require.NoError(t, err)
	assert.Equal(t, api.Zlib, comp)

	eopts, err := c.EngineOptions()
	require.NoError(t, err)
	assert.Len(t, eopts, 2)
	popts, err := c.ProtectOptions()
	require.NoError(t, err)
	assert.Len(t, popts, 5)
}

func TestConfigFile(t *testing.T) {
	p := writeTemp(t, "fwprotect.yaml", `
block_width: 128
line_length: 32
tweak: address
compression: zstd
tag_final_page: true
`)
	c, err := Load(viper.New(), nil, p, "")
	require.NoError(t, err)

	assert.Equal(t, engine.Width128, c.BlockWidth)
	assert.Equal(t, 32, c.LineLength)
	assert.Equal(t, "address", c.Tweak)
	assert.True(t, c.TagFinalPage)
	comp, err := c.ArtifactCompression()
	require.NoError(t, err)
	assert.Equal(t, api.Zstd, comp)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(viper.New(), nil, filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestPrecedence(t *testing.T) {
	p := writeTemp(t, "fwprotect.toml", "page_size = 8\ncodec = \"proto\"\npad_byte = 255\n")
	t.Setenv("FWPROTECT_PAGE_SIZE", "4")
	t.Setenv("FWPROTECT_PAD_BYTE", "0x20")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse([]string{"--page_size=2"}))

	c, err := Load(viper.New(), flags, p, "")
	require.NoError(t, err)

	assert.Equal(t, 2, c.PageSize, "flag beats environment")
	assert.Equal(t, 0x20, c.PadByte, "environment beats config file")
	assert.Equal(t, "proto", c.Codec, "config file beats default")
}

func TestEnvFile(t *testing.T) {
	const key = "000102030405060708090a0b0c0d0e0f"
	// Register cleanup, then clear so the .env file can set it.
	t.Setenv("FWPROTECT_KEY", "")
	require.NoError(t, os.Unsetenv("FWPROTECT_KEY"))

	env := writeTemp(t, ".env", "FWPROTECT_KEY="+key+"\n")
	c, err := Load(viper.New(), nil, "", env)
	require.NoError(t, err)
	assert.Equal(t, key, c.Key)
	assert.Equal(t, key, c.KeySource().Hex)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			BlockWidth:  64,
			PageSize:    16,
			LineLength:  16,
			Checksum:    "recompute",
			PadTail:     true,
			Tweak:       "none",
			Codec:       "json",
			Compression: "zlib",
		}
	}
	require.NoError(t, base().Validate())

	for _, test := range []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "block width", mutate: func(c *Config) { c.BlockWidth = 96 }},
		{name: "page size", mutate: func(c *Config) { c.PageSize = 0 }},
		{name: "line length", mutate: func(c *Config) { c.LineLength = 300 }},
		{name: "line length alignment", mutate: func(c *Config) { c.BlockWidth = 128; c.LineLength = 24 }},
		{name: "checksum", mutate: func(c *Config) { c.Checksum = "ignore" }},
		{name: "pad byte", mutate: func(c *Config) { c.PadByte = 256 }},
		{name: "tweak", mutate: func(c *Config) { c.Tweak = "xts" }},
		{name: "codec", mutate: func(c *Config) { c.Codec = "gob" }},
		{name: "compression", mutate: func(c *Config) { c.Compression = "bzip2" }},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := base()
			test.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
