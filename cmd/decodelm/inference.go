package main

import (
	"context"
	"io"
	"math/rand"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"decodelm/internal/logger"
	"decodelm/pkg/model"
)

func paramsCmd() *cli.Command {
	return &cli.Command{
		Name:   "params",
		Usage:  "Print the resolved config and its parameter count",
		Flags:  modelCommandFlags(),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return writeJSON(cmd.Root().Writer, map[string]any{
				"config":          cfg,
				"parameter_count": cfg.ParameterCount(),
			})
		},
	}
}

func forwardCmd() *cli.Command {
	var (
		tokens       string
		returnLogits bool
		lastOnly     bool
	)

	return &cli.Command{
		Name:  "forward",
		Usage: "Run one forward pass and print logits or probabilities",
		Flags: modelCommandFlags(
			&cli.StringFlag{
				Name:        "tokens",
				Aliases:     []string{"t"},
				Usage:       "comma separated token ids",
				Required:    true,
				Destination: &tokens,
			},
			&cli.BoolFlag{
				Name:        "logits",
				Usage:       "print raw logits instead of probabilities",
				Destination: &returnLogits,
			},
			&cli.BoolFlag{
				Name:        "last",
				Usage:       "print only the last position",
				Destination: &lastOnly,
			},
		),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ids, err := parseTokens(tokens)
			if err != nil {
				return err
			}
			m, err := loadModel(ctx, cmd)
			if err != nil {
				return err
			}
			out, err := m.Forward(ids, returnLogits)
			if err != nil {
				return err
			}

			t := out.Probabilities
			key := "probabilities"
			if returnLogits {
				t, key = out.Logits, "logits"
			}
			first := 0
			if lastOnly {
				first = t.Shape[0] - 1
			}
			rows := make([][]float32, 0, t.Shape[0]-first)
			for i := first; i < t.Shape[0]; i++ {
				rows = append(rows, t.Row(i))
			}
			return writeJSON(cmd.Root().Writer, map[string]any{
				"shape": t.Shape,
				key:     rows,
			})
		},
	}
}

func generateCmd() *cli.Command {
	var (
		tokens      string
		maxLength   int
		temperature float64
		topK        int
		sampleSeed  int64
		greedy      bool
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Extend a token sequence by sampling from the model",
		Flags: modelCommandFlags(
			&cli.StringFlag{
				Name:        "tokens",
				Aliases:     []string{"t"},
				Usage:       "comma separated prompt token ids",
				Required:    true,
				Destination: &tokens,
			},
			&cli.IntFlag{
				Name:        "max-length",
				Aliases:     []string{"n"},
				Usage:       "number of tokens to generate",
				Value:       20,
				Destination: &maxLength,
			},
			&cli.Float64Flag{
				Name:        "temperature",
				Aliases:     []string{"temp"},
				Usage:       "sampling temperature (> 0)",
				Value:       1.0,
				Destination: &temperature,
			},
			&cli.IntFlag{
				Name:        "top-k",
				Usage:       "sample from the K highest logits only (0 disables)",
				Destination: &topK,
			},
			&cli.Int64Flag{
				Name:        "sample-seed",
				Usage:       "seed for sampling (defaults to --seed)",
				Destination: &sampleSeed,
			},
			&cli.BoolFlag{
				Name:        "greedy",
				Usage:       "always pick the most likely token",
				Destination: &greedy,
			},
		),
		Before: setupLogging,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			prompt, err := parseTokens(tokens)
			if err != nil {
				return err
			}
			m, err := loadModel(ctx, cmd)
			if err != nil {
				return err
			}

			s := seed
			if cmd.IsSet("sample-seed") {
				s = sampleSeed
			}
			out, err := m.GenerateContext(ctx, prompt, maxLength, model.GenerateOptions{
				Temperature: temperature,
				TopK:        topK,
				Rand:        rand.New(rand.NewSource(s)),
				Greedy:      greedy,
				OnToken: func(step, token int) {
					log.Debug("sampled", "step", step, "token", token)
				},
			})
			if err != nil {
				return err
			}

			return writeJSON(cmd.Root().Writer, map[string]any{
				"tokens":    out,
				"generated": out[len(prompt):],
			})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
