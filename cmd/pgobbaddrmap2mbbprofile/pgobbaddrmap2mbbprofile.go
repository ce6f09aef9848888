package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	pp "github.com/teamnsrg/pgobbprof"
)

const description = `Collect data from PGOBBAddrMap and generate the same CSV as mbb-profile-dump.

Ensure that the ELF being measured has the pgo-bb-addr-map enabled. The
following flags should be enough to generate the data:
  -fbasic-block-sections=labels -mllvm --pgo-bb-addr-map=func-entry-count,bb-freq

Each output line is function_name,block_id,absolute_block_frequency.`

func main() {
	log.SetReportCaller(true)

	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var readobjBinary string
	var outfile string
	var pprofFile string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "pgobbaddrmap2mbbprofile [flags] <object>",
		Short: "Convert a PGO basic block address map into an mbb-profile-dump CSV",
		Long:  description,
		Args:  cobra.ExactArgs(1),

		SilenceErrors: true,
		SilenceUsage:  true,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := pp.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = pp.LoadConfig(configFile)
				if err != nil {
					return err
				}
			}

			flags := cmd.Flags()
			if flags.Changed("readobj") {
				cfg.ReadobjBinary = readobjBinary
			}
			if flags.Changed("output") {
				cfg.Output = outfile
			}
			if flags.Changed("pprof") {
				cfg.Pprof = pprofFile
			}
			if flags.Changed("verbose") {
				cfg.Verbose = verbose
			}

			return run(cfg, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "",
		"Path to a TOML config file")
	cmd.Flags().StringVar(&readobjBinary, "readobj", pp.DefaultReadobjBinary,
		"llvm-readobj binary used when <object> is not a .json file")
	cmd.Flags().StringVarP(&outfile, "output", "o", "",
		"Path to output file csv (default stdout)")
	cmd.Flags().StringVar(&pprofFile, "pprof", "",
		"Also write the block frequencies as a gzipped pprof profile to this path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	return cmd
}

// run converts object into CSV. Everything is computed before the first byte
// is written so a failure leaves no partial table behind.
func run(cfg pp.Config, object string, stdout io.Writer) error {
	if cfg.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	log.Debugf("Loading address maps from %s", object)
	addrMaps, err := pp.LoadAddrMaps(object, cfg.ReadobjBinary)
	if err != nil {
		return err
	}
	log.Debugf("Loaded %d address maps", len(addrMaps))

	rows, err := pp.ComputeBlockFrequencies(addrMaps)
	if err != nil {
		return err
	}

	if cfg.Output == "" {
		err = pp.WriteBlockFrequencies(stdout, rows)
	} else {
		err = writeFile(cfg.Output, func(w io.Writer) error {
			return pp.WriteBlockFrequencies(w, rows)
		})
	}
	if err != nil {
		return errors.Wrap(err, "writing csv")
	}

	if cfg.Pprof != "" {
		err = writeFile(cfg.Pprof, func(w io.Writer) error {
			return pp.WritePprof(w, rows)
		})
		if err != nil {
			return errors.Wrap(err, "writing pprof profile")
		}
		log.Infof("Wrote pprof profile to %s", cfg.Pprof)
	}

	return nil
}

func writeFile(fName string, write func(io.Writer) error) error {
	f, err := os.Create(fName)
	if err != nil {
		return err
	}

	err = write(f)
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
