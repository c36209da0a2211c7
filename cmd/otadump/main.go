package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"otadump"
)

var (
	listOnly   bool
	partitions []string
	outputDir  string
	debug      bool
	logFormat  string
)

var log *zap.SugaredLogger

var rootCmd = &cobra.Command{
	Use:   "otadump <payload.bin>",
	Short: "List and extract partition images from Android OTA payloads",
	Long: `otadump reads a full OTA payload.bin and reconstructs the partition
images it carries. Delta (incremental) payloads are refused because they
need the previous image of each partition.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initLogger()
	},
	RunE: run,
}

func initLogger() error {
	var cfg zap.Config
	if logFormat == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	log = logger.Sugar()
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	payload, err := otadump.Open(args[0])
	if err != nil {
		return err
	}
	defer payload.Close()

	log.Debugw("payload opened",
		"path", payload.Path,
		"block_size", payload.BlockSize,
		"data_offset", payload.DataOffset,
		"partitions", len(payload.Partitions))

	if listOnly || len(partitions) == 0 {
		list(payload)
		return nil
	}

	log.Infow("extracting", "partitions", partitions, "output", outputDir)
	if err := payload.Extract(partitions, outputDir); err != nil {
		return err
	}
	for _, name := range partitions {
		path := filepath.Join(outputDir, name+".img")
		if st, err := os.Stat(path); err == nil {
			log.Infof("wrote %s (%s)", path, humanize.IBytes(uint64(st.Size())))
		}
	}
	return nil
}

func list(p *otadump.Payload) {
	infos := p.List()
	fmt.Printf("Payload: %s\n", p.Path)
	fmt.Printf("Block size: %d\n", p.BlockSize)
	fmt.Printf("Partitions: %d\n\n", len(infos))
	fmt.Printf("%-24s %12s %6s\n", "Name", "Size", "Ops")
	fmt.Println(strings.Repeat("-", 44))
	for _, info := range infos {
		fmt.Printf("%-24s %12s %6d\n", info.Name, humanize.IBytes(info.Size), info.Ops)
	}
}

func init() {
	rootCmd.Flags().BoolVarP(&listOnly, "list", "l", false, "list partitions and exit")
	rootCmd.Flags().StringSliceVarP(&partitions, "partitions", "p", nil, "partition(s) to extract")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "output directory for extracted images")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "human", "log format: human or json")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if log != nil {
			log.Error(err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
