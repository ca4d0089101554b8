package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/forkstate"
	"github.com/DQYXACML/forkstate/common/cliapp"
	"github.com/DQYXACML/forkstate/config"
	"github.com/DQYXACML/forkstate/errs"
	"github.com/DQYXACML/forkstate/flags"
	"github.com/DQYXACML/forkstate/tracing"
)

func runNode(ctx *cli.Context) (cliapp.Lifecycle, error) {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return nil, err
	}
	return forkstate.NewNode(ctx.Context, &cfg)
}

func runTrace(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "err", err)
		return err
	}
	if !cfg.Fork.Enabled() {
		return errs.Config("tracing a remote transaction needs --"+flags.ForkUrlFlag.Name, nil)
	}
	hashArg := ctx.String(flags.TxHashFlag.Name)
	if len(common.FromHex(hashArg)) != common.HashLength {
		return errs.Input("invalid transaction hash %q", hashArg)
	}

	n, err := forkstate.NewNode(ctx.Context, &cfg)
	if err != nil {
		return err
	}
	traceCfg := &tracing.Config{
		DisableStorage: ctx.Bool(flags.DisableStorageFlag.Name),
		DisableMemory:  ctx.Bool(flags.DisableMemoryFlag.Name),
		DisableStack:   ctx.Bool(flags.DisableStackFlag.Name),
		Limit:          ctx.Int(flags.TraceLimitFlag.Name),
	}
	result, err := n.TraceBlockTransaction(ctx.Context, ctx.Uint64(flags.TraceBlockFlag.Name),
		common.HexToHash(hashArg), traceCfg)
	if err != nil {
		return errors.Join(err, n.Stop(ctx.Context))
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Join(err, n.Stop(ctx.Context))
	}
	fmt.Fprintln(ctx.App.Writer, string(out))
	return n.Stop(ctx.Context)
}

func NewCli(GitCommit string, GitDate string) *cli.App {
	traceFlags := append(append([]cli.Flag{}, flags.Flags...), flags.TraceFlags...)
	return &cli.App{
		Version:              versionString(GitCommit, GitDate),
		Description:          "A local Ethereum chain that can fork a remote one and trace its transactions",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:        "node",
				Description: "Runs the local chain and mines pending transactions",
				Flags:       flags.Flags,
				Action: func(ctx *cli.Context) error {
					return cliapp.LifecycleCmd(runNode, ctx.Duration(flags.ShutdownTimeoutFlag.Name))(ctx)
				},
			},
			{
				Name:        "trace",
				Description: "Forks the remote chain and prints the struct logs of one of its transactions",
				Flags:       traceFlags,
				Action:      runTrace,
			},
			{
				Name:        "version",
				Description: "print version",
				Action: func(ctx *cli.Context) error {
					cli.ShowVersion(ctx)
					return nil
				},
			},
		},
	}
}

func versionString(commit, date string) string {
	version := "v0.1.0"
	if commit != "" {
		version += "-" + commit
	}
	if date != "" {
		version += "-" + date
	}
	return version
}
