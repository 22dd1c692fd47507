package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cactusdynamics/seriesplot"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	inputPath     string
	format        string
	sheet         string
	tableName     string
	dashboardPath string
	title         string
	xLabel        string
	yLabel        string
	library       string
	outputPath    string
	host          string
	port          uint16
	history       int
	openBrowser   bool
	logLevel      string
	envFile       string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("seriesplot failed")
		os.Exit(1)
	}
}

// newRootCmd binds the flags to their variables, resetting them to their
// defaults.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "seriesplot",
		Short: "Plot tabular results as line charts in the browser",
		Long: `seriesplot reads result tables (JSON result objects, CSV, whitespace
separated text or a spreadsheet) and draws every table as a line chart: the
first column is the category axis and every other column is a series.

Without --output the charts are served over HTTP and updated as new result
objects arrive on the input.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&inputPath, "input", "i", "-", "Input file, - for stdin")
	flags.StringVarP(&format, "format", "f", "json", "Input format: json, csv, relaxed, xlsx")
	flags.StringVar(&sheet, "sheet", "", "Worksheet to read with --format xlsx (default: first sheet)")
	flags.StringVar(&tableName, "table-name", "Result", "Table name given to csv, relaxed and xlsx input")
	flags.StringVarP(&dashboardPath, "dashboard", "d", "", "YAML file mapping tables to charts")
	flags.StringVarP(&title, "title", "t", "", "Chart title for single table input")
	flags.StringVar(&xLabel, "xlabel", "", "X axis title for single table input")
	flags.StringVar(&yLabel, "ylabel", "", "Y axis title for single table input")
	flags.StringVarP(&library, "library", "l", "", "Charting library: chartjs, echarts, png")
	flags.StringVarP(&outputPath, "output", "o", "", "Write a static page for the last result set to this file (- for stdout) and exit")
	flags.StringVar(&host, "host", "", "Host to listen on")
	flags.Uint16VarP(&port, "port", "p", 0, "Port to listen on")
	flags.IntVar(&history, "history", 0, "Number of recent frames sent to a newly connected client")
	flags.BoolVar(&openBrowser, "open-browser", false, "Open the page in a browser once the server is listening")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&envFile, "env-file", ".env", "Dotenv file read before the environment")

	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := seriesplot.LoadConfig(ctx, envFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)

	if err := seriesplot.ConfigureLogging(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	lib, ok := seriesplot.LibraryByName(cfg.Library)
	if !ok {
		return fmt.Errorf("unknown chart library %q", cfg.Library)
	}

	dashboard, err := loadDashboard()
	if err != nil {
		return err
	}

	input, err := openInput()
	if err != nil {
		return err
	}
	defer input.Close()

	source, err := newResultSetReader(input, dashboard)
	if err != nil {
		return err
	}

	if outputPath != "" {
		return writeStaticPage(ctx, source, dashboard, lib)
	}

	return serve(ctx, cfg, source, dashboard, lib)
}

// Flags given explicitly win over the environment.
func applyFlags(cmd *cobra.Command, cfg *seriesplot.Config) {
	flags := cmd.Flags()
	if flags.Changed("library") {
		cfg.Library = library
	}
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("history") {
		cfg.History = history
	}
	if flags.Changed("open-browser") {
		cfg.OpenBrowser = openBrowser
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
}

func loadDashboard() (seriesplot.Dashboard, error) {
	if dashboardPath != "" {
		f, err := os.Open(dashboardPath)
		if err != nil {
			return seriesplot.Dashboard{}, fmt.Errorf("failed to open dashboard: %w", err)
		}
		defer f.Close()
		return seriesplot.LoadDashboard(f)
	}

	if format == "json" {
		return seriesplot.DefaultDashboard(), nil
	}

	return seriesplot.SingleTableDashboard(tableName, seriesplot.Titles{
		Chart: title,
		XAxis: xLabel,
		YAxis: yLabel,
	}), nil
}

func openInput() (io.ReadCloser, error) {
	if inputPath == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, nil
}

func newResultSetReader(input io.Reader, dashboard seriesplot.Dashboard) (seriesplot.ResultSetReader, error) {
	switch format {
	case "json":
		return seriesplot.NewJSONResultSetReader(input, dashboard.TableNames()...), nil
	case "csv":
		return &seriesplot.TableResultSetReader{Input: &seriesplot.TextTableReader{
			Input: seriesplot.NewCsvStringReader(input),
			Name:  tableName,
		}}, nil
	case "relaxed":
		return &seriesplot.TableResultSetReader{Input: &seriesplot.TextTableReader{
			Input: seriesplot.NewRelaxedStringReader(input),
			Name:  tableName,
		}}, nil
	case "xlsx":
		return &seriesplot.TableResultSetReader{Input: &seriesplot.XlsxTableReader{
			Input: input,
			Sheet: sheet,
			Name:  tableName,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown input format %q (must be json, csv, relaxed or xlsx)", format)
	}
}

func writeStaticPage(ctx context.Context, source seriesplot.ResultSetReader, dashboard seriesplot.Dashboard, lib seriesplot.Library) error {
	sets, err := seriesplot.ReadAllResultSets(ctx, source)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return errors.New("no result set read from input")
	}

	charts, err := dashboard.Build(sets[len(sets)-1])
	if err != nil {
		return err
	}

	page, err := dashboard.Render(lib, charts)
	if err != nil {
		return err
	}

	if outputPath == "-" {
		return page.WriteHTML(os.Stdout)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := page.WriteHTML(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"output": outputPath,
		"charts": len(charts),
	}).Info("wrote page")

	return f.Close()
}

func serve(ctx context.Context, cfg seriesplot.Config, source seriesplot.ResultSetReader, dashboard seriesplot.Dashboard, lib seriesplot.Library) error {
	broadcaster := seriesplot.NewFrameBroadcaster(source, dashboard, cfg.History)
	broadcaster.Start(ctx)

	metadata := seriesplot.NewMetadata(dashboard, lib, cfg.History)
	server := seriesplot.NewHttpServer(broadcaster, dashboard, lib, cfg.Host, cfg.Port, metadata, cfg.WriteTimeout)

	errc := make(chan error, 1)
	go func() {
		errc <- server.Run(cfg.OpenBrowser)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		logrus.Info("shutting down")
		return nil
	}
}
