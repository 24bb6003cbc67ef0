package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/menu"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"go.uber.org/zap"

	fumenApp "fumen/internal/app"
	"fumen/internal/config"
	"fumen/internal/service"
)

//go:embed all:frontend/dist
var assets embed.FS

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "fumen [document]",
	Short: "Canvas of Tetris board snapshots, with live collaboration",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runApp,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp <document>",
	Short: "Serve a document to AI agents over MCP on stdin/stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		return fumenApp.ServeMCP(args[0], logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the settings file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides log_level)")
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runApp(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	opts := fumenApp.Options{Config: cfg, ConfigPath: configPath, Logger: logger}
	if len(args) == 1 {
		opts.Document = args[0]
	}
	app := fumenApp.New(opts)
	size := service.NewWindowSettingsService(cfg, configPath).LoadWindowSize()

	// macOS needs an Edit menu for Cmd+C/V/X/A to reach the WebView
	appMenu := menu.NewMenu()
	appMenu.Append(menu.EditMenu())

	return wails.Run(&options.App{
		Title:     "fumen",
		Width:     size.Width,
		Height:    size.Height,
		MinWidth:  800,
		MinHeight: 600,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 27, B: 31, A: 1},
		Menu:             appMenu,
		OnStartup:        app.Startup,
		OnDomReady:       app.DomReady,
		OnShutdown:       app.Shutdown,
		Bind: []interface{}{
			app,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: true,
				HideTitle:                  true,
				HideTitleBar:               false,
				FullSizeContent:            true,
				UseToolbar:                 true,
				HideToolbarSeparator:       true,
			},
			About: &mac.AboutInfo{
				Title:   "fumen",
				Message: "Canvas of Tetris board snapshots",
			},
		},
	})
}
