package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	x402 "github.com/becomeliminal/x402-gate"
	"github.com/becomeliminal/x402-gate/config"
	"github.com/becomeliminal/x402-gate/facilitator"
	"github.com/becomeliminal/x402-gate/store"
)

const probeTimeout = 5 * time.Second

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and exit",
		Long: `Loads and validates the configuration. With --probe, also asks every
configured facilitator which scheme and network pairs it supports and pings
every configured store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			probe, _ := cmd.Flags().GetBool("probe")
			return runValidate(cmd.Context(), cmd.OutOrStdout(), path, probe)
		},
	}

	cmd.Flags().Bool("probe", false, "Contact facilitators and stores")

	return cmd
}

func runValidate(ctx context.Context, out io.Writer, configPath string, probe bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	routes, err := cfg.Routes()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d locations, %d stores\n", configPath, routes.Len(), len(cfg.StoreURLs()))

	if !probe {
		return nil
	}
	if err := probeFacilitators(ctx, out, cfg); err != nil {
		return err
	}
	return probeStores(ctx, out, cfg)
}

func probeFacilitators(ctx context.Context, out io.Writer, cfg *config.File) error {
	client := facilitator.NewClient()
	supported := make(map[string]*facilitator.SupportedResponse)
	for _, u := range cfg.FacilitatorURLs() {
		resp, err := client.GetSupported(ctx, u, probeTimeout)
		if err != nil {
			return fmt.Errorf("facilitator %s: %w", u, err)
		}
		supported[u] = resp
		fmt.Fprintf(out, "facilitator %s: %d kinds\n", u, len(resp.Kinds))
	}

	for _, loc := range cfg.Locations {
		gc, err := loc.GateConfig(cfg.Redis.URL)
		if err != nil || !gc.Enabled {
			continue
		}
		gc = gc.WithDefaults()
		resp := supported[gc.FacilitatorURL]
		if resp != nil && !resp.Supports(x402.SchemeExact, gc.Network) {
			return x402.NewGateError(x402.KindConfig,
				fmt.Sprintf("location %s: facilitator %s does not support %s on %s",
					loc.Path, gc.FacilitatorURL, x402.SchemeExact, gc.Network), nil)
		}
	}
	return nil
}

func probeStores(ctx context.Context, out io.Writer, cfg *config.File) error {
	urls := cfg.StoreURLs()
	if len(urls) == 0 {
		return nil
	}
	stores, err := store.Open(ctx, urls, zap.NewNop())
	if err != nil {
		return err
	}
	defer stores.Close()

	pingCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := stores.Ping(pingCtx); err != nil {
		return err
	}
	fmt.Fprintf(out, "stores: %d reachable\n", len(urls))
	return nil
}
