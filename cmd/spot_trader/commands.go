package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"spot_trader/internal/bootstrap"
	"spot_trader/internal/core"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "spot_trader",
		Short:         "Single-asset spot trading agent",
		Long:          `spot_trader polls one spot market, enters on an EMA crossover filtered by RSI and exits on stop loss or take profit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newTradesCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the trading loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			app, err := bootstrap.NewApp(path)
			if err != nil {
				return fmt.Errorf("failed to bootstrap application: %w", err)
			}
			return app.Run()
		},
	}
}

func newTradesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Print the most recent trade records",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := bootstrap.LoadStoreConfig(path)
			if err != nil {
				return err
			}
			store, err := bootstrap.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			trades, err := store.ListTrades(ctx, limit)
			if err != nil {
				return err
			}
			return printTrades(cmd.OutOrStdout(), trades)
		},
	}
	cmd.Flags().Int("limit", 20, "Number of records to show (0 for all)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "spot_trader version %s (built %s)\n", version, buildTime)
		},
	}
}

func printTrades(w io.Writer, trades []core.TradeRecord) error {
	if len(trades) == 0 {
		_, err := fmt.Fprintln(w, "no trades recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSYMBOL\tSIDE\tQTY\tENTRY\tSL\tTP\tEXIT\tRESULT\tPNL")
	for _, t := range trades {
		exit, result, pnl := "-", "-", "-"
		if t.ExitPrice.Valid {
			exit = t.ExitPrice.Decimal.String()
		}
		if t.Result != core.ExitNone {
			result = string(t.Result)
		}
		if t.Side == core.SideSell {
			pnl = t.RealizedPnL().StringFixed(8)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Timestamp.UTC().Format(time.RFC3339),
			t.Symbol,
			t.Side,
			t.Quantity,
			t.EntryPrice,
			t.StopLossPrice,
			t.TakeProfitPrice,
			exit,
			result,
			pnl)
	}
	return tw.Flush()
}
