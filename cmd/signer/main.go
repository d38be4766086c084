// Copyright 2026 The stacks-signer Authors
// This file is part of stacks-signer.
//
// stacks-signer is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// stacks-signer is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with stacks-signer.  If not, see <http://www.gnu.org/licenses/>.

// Command signer is the stacks-signer CLI: it runs the long-lived
// daemon, or performs one-shot slot-store and ceremony operations
// against a running node for operators and scripts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/stacks-network/stacks-signer/config"
	signerlog "github.com/stacks-network/stacks-signer/log"
	"github.com/stacks-network/stacks-signer/signer"
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...any) {})); err != nil {
		signerlog.Warn("failed to set GOMAXPROCS from cgroup", "err", err)
	}

	app := &cli.App{
		Name:  "signer",
		Usage: "threshold signer for a stacks-network reward cycle",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the TOML config file"},
		},
		Commands: []*cli.Command{
			runCommand,
			dkgCommand,
			signCommand,
			dkgSignCommand,
			generateFilesCommand,
			getChunkCommand,
			getLatestChunkCommand,
			listChunksCommand,
			putChunkCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the process exit code operators and
// supervisors script against: 1 for configuration/usage errors the
// operator must fix, 2 for everything else (transient/ceremony
// failures worth a retry), 0 implicitly on success.
func exitCodeFor(err error) int {
	if coder, ok := err.(cli.ExitCoder); ok {
		return coder.ExitCode()
	}
	if _, ok := err.(*configError); ok {
		return 1
	}
	return 2
}

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return nil, &configError{err: fmt.Errorf("missing required flag: --config")}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &configError{err: err}
	}
	return cfg, nil
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run the signer daemon until interrupted",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := signer.New(cfg, signerlog.Root())
		err = s.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	},
}

var dkgCommand = &cli.Command{
	Name:  "dkg",
	Usage: "run one DKG ceremony for the current reward cycle and print the aggregate key",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		s := newOneShot(cfg)
		ctx := context.Background()
		ceremonyID := uuid.New()
		fmt.Printf("starting dkg ceremony %s\n", ceremonyID)
		key, err := s.runDkg(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("aggregate public key: %x\n", key.SerializeCompressed())
		return nil
	},
}

var signCommand = &cli.Command{
	Name:      "sign",
	Usage:     "sign a message with the cycle's established aggregate key",
	ArgsUsage: "<hex-message>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "taproot", Usage: "produce a taproot-tweaked signature"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if c.NArg() != 1 {
			return cli.Exit("expected exactly one hex-encoded message argument", 1)
		}
		s := newOneShot(cfg)
		sig, err := s.runSign(context.Background(), c.Args().First(), c.Bool("taproot"))
		if err != nil {
			return err
		}
		fmt.Printf("signature: %x\n", sig)
		return nil
	},
}

var dkgSignCommand = &cli.Command{
	Name:  "dkg-sign",
	Usage: "run dkg then immediately sign a message with the fresh key",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "message", Required: true},
		&cli.BoolFlag{Name: "taproot"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		s := newOneShot(cfg)
		ctx := context.Background()
		if _, err := s.runDkg(ctx); err != nil {
			return err
		}
		sig, err := s.runSign(ctx, c.String("message"), c.Bool("taproot"))
		if err != nil {
			return err
		}
		fmt.Printf("signature: %x\n", sig)
		return nil
	},
}

var generateFilesCommand = &cli.Command{
	Name:  "generate-files",
	Usage: "generate a TOML config skeleton and print a per-signer fee budget summary",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Value: "signer.toml"},
		&cli.Uint64Flag{Name: "tx-fee", Value: 10_000, Usage: "per-transaction fee in microSTX"},
		&cli.UintFlag{Name: "num-signers", Value: 1},
	},
	Action: func(c *cli.Context) error {
		out := c.String("out")
		if err := writeConfigSkeleton(out); err != nil {
			return err
		}
		budget, err := totalFeeBudget(c.Uint64("tx-fee"), uint32(c.Uint("num-signers")))
		if err != nil {
			return err
		}
		bold := color.New(color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s\n", bold("wrote"), green(out))
		fmt.Printf("%s %s microSTX across %d signers\n", bold("estimated round fee budget:"), green(budget.Dec()), c.Uint("num-signers"))
		return nil
	},
}
