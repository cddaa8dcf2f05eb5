package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"decodelm/internal/logger"
	"decodelm/pkg/model"
)

var (
	configPath string
	preset     string
	seed       int64
	logLevel   string
	logFormat  string
	debug      bool

	vocabSize  int
	dModel     int
	numLayers  int
	numHeads   int
	dFF        int
	maxSeqLen  int
	positional string
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to a .yaml or .json model config",
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "preset",
			Usage:       "named config used when --config is not given (tiny, small, gpt2-small)",
			Value:       "tiny",
			Destination: &preset,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for weight initialization",
			Value:       1,
			Destination: &seed,
		},
		&cli.IntFlag{
			Name:        "vocab-size",
			Usage:       "override vocab_size",
			Destination: &vocabSize,
		},
		&cli.IntFlag{
			Name:        "d-model",
			Usage:       "override d_model",
			Destination: &dModel,
		},
		&cli.IntFlag{
			Name:        "num-layers",
			Usage:       "override num_layers",
			Destination: &numLayers,
		},
		&cli.IntFlag{
			Name:        "num-heads",
			Usage:       "override num_heads",
			Destination: &numHeads,
		},
		&cli.IntFlag{
			Name:        "d-ff",
			Usage:       "override d_ff (default 4 * d_model)",
			Destination: &dFF,
		},
		&cli.IntFlag{
			Name:        "max-seq-len",
			Usage:       "override max_seq_len",
			Destination: &maxSeqLen,
		},
		&cli.StringFlag{
			Name:        "positional",
			Usage:       "override positional encoding (learned, sinusoidal)",
			Destination: &positional,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (auto, pretty, json, text)",
			Value:       logger.FormatAuto,
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func modelCommandFlags(extra ...cli.Flag) []cli.Flag {
	flags := append(commonModelFlags(), loggingFlags()...)
	return append(flags, extra...)
}

// setupLogging installs the configured logger in the command context.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	log, err := logger.New(os.Stderr, level, logFormat)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}

// resolveConfig loads --config or --preset and applies any explicitly set
// override flags.
func resolveConfig(cmd *cli.Command) (model.Config, error) {
	var cfg model.Config
	if configPath != "" {
		loaded, err := model.LoadConfigFile(configPath)
		if err != nil {
			return model.Config{}, err
		}
		cfg = loaded
	} else {
		p, ok := model.Presets[preset]
		if !ok {
			return model.Config{}, fmt.Errorf("unknown preset %q", preset)
		}
		cfg = p
	}

	if cmd.IsSet("vocab-size") {
		cfg.VocabSize = vocabSize
	}
	if cmd.IsSet("d-model") {
		cfg.DModel = dModel
		if !cmd.IsSet("d-ff") {
			cfg.DFF = 0
		}
	}
	if cmd.IsSet("num-layers") {
		cfg.NumLayers = numLayers
	}
	if cmd.IsSet("num-heads") {
		cfg.NumHeads = numHeads
	}
	if cmd.IsSet("d-ff") {
		cfg.DFF = dFF
	}
	if cmd.IsSet("max-seq-len") {
		cfg.MaxSeqLen = maxSeqLen
	}
	if cmd.IsSet("positional") {
		cfg.Positional = model.PositionalKind(positional)
	}

	cfg = cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// loadModel builds a randomly initialized model from the resolved config.
func loadModel(ctx context.Context, cmd *cli.Command) (*model.GPT2Model, error) {
	log := logger.FromContext(ctx)

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	m, err := model.New(cfg, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, fmt.Errorf("failed to build model: %w", err)
	}
	log.Info("model ready",
		"vocab_size", cfg.VocabSize,
		"d_model", cfg.DModel,
		"layers", cfg.NumLayers,
		"heads", cfg.NumHeads,
		"max_seq_len", cfg.MaxSeqLen,
		"params", m.ParameterCount(),
	)
	return m, nil
}

// parseTokens parses a comma or space separated list of token ids.
func parseTokens(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	tokens := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid token %q: %w", f, err)
		}
		tokens = append(tokens, id)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tokens given")
	}
	return tokens, nil
}
