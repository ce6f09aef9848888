package pgobbprof

import (
	"bufio"
	"os"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

// Config holds the conversion settings that can be kept in a TOML file.
// Command line flags take precedence over anything loaded here.
type Config struct {
	ReadobjBinary string `toml:"readobj"`
	Output        string `toml:"output,omitempty"` // empty means stdout
	Pprof         string `toml:"pprof,omitempty"`
	Verbose       bool   `toml:"verbose,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		ReadobjBinary: DefaultReadobjBinary,
	}
}

// LoadConfig overlays the settings in fName on top of DefaultConfig.
// Keys that do not correspond to a Config field are rejected.
func LoadConfig(fName string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(fName)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	err = toml.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "loading config %s", fName)
	}

	if cfg.ReadobjBinary == "" {
		cfg.ReadobjBinary = DefaultReadobjBinary
	}

	return cfg, nil
}
