package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/otpkeep/otpkeep/db"
	"github.com/otpkeep/otpkeep/pkg/clock"
	"github.com/otpkeep/otpkeep/pkg/config"
	"github.com/otpkeep/otpkeep/pkg/connectivity"
	"github.com/otpkeep/otpkeep/pkg/http"
	"github.com/otpkeep/otpkeep/pkg/services"
	"github.com/otpkeep/otpkeep/pkg/store"
	"github.com/otpkeep/otpkeep/pkg/totp"
)

var (
	dbPath  string
	verbose bool
	rootCmd *cobra.Command
)

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Error().Err(err).Msg("Error getting home directory")
		os.Exit(1)
	}

	defaultDBPath := filepath.Join(homeDir, ".otpkeep", "accounts.db")

	// Initialize configuration
	if err := config.InitGlobalConfig("config.yaml"); err != nil {
		// Only print a warning if the file doesn't exist, as GetConfig will create it later
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to load configuration")
			log.Warn().Msg("A default configuration will be used")
		}
	}

	rootCmd = &cobra.Command{
		Use:   "otpkeep",
		Short: "A CLI authenticator for time-based one-time passwords",
		Long:  `A CLI authenticator that keeps TOTP accounts in a SQLite database and reconciles them with a remote sync service.`,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath, "Path to the SQLite database")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Dump sync HTTP traffic")

	replCmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive REPL",
		Long:  `Start an interactive REPL for managing accounts and reading codes.`,
		Run: func(cmd *cobra.Command, args []string) {
			runREPL(initReplState(cmd.Context()))
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the current configuration",
		Long:  `Show the current configuration loaded from config.yaml.`,
		Run: func(cmd *cobra.Command, args []string) {
			showConfig()
		},
	}

	rootCmd.AddCommand(replCmd, configCmd)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

type replState struct {
	db       db.DBInterface
	store    *store.Store
	engine   *totp.Engine
	syncer   *services.Syncer
	index    *services.Index
	importer *services.Importer
	stopSync context.CancelFunc
}

func initReplState(ctx context.Context) replState {
	database, err := db.New(dbPath)
	if err != nil {
		log.Error().Err(err).Msg("Error opening database")
		os.Exit(1)
	}
	if err := database.Initialize(); err != nil {
		log.Error().Err(err).Msg("Error initializing database")
		os.Exit(1)
	}

	period, digits := config.GetTOTPOptions()
	engine := totp.NewEngine(period, digits)
	clk := clock.Real{}

	st := store.New(engine, clk, database)
	if err := st.Load(); err != nil {
		log.Error().Err(err).Msg("Error loading accounts")
		os.Exit(1)
	}

	// Sync is optional: without server credentials the scheduler stays a
	// no-op and the tool works fully offline.
	var client http.SyncClient
	if serverURL, token, err := config.GetSyncCredentials(); err == nil {
		c, err := http.NewClient(serverURL, token, verbose)
		if err != nil {
			log.Error().Err(err).Msg("Error creating sync client")
			os.Exit(1)
		}
		client = c
	} else {
		log.Info().Msg("Sync disabled: no server credentials in config.yaml")
	}

	observer := connectivity.NewProber("1.1.1.1:443")
	syncer := services.NewSyncer(client, st, observer, clk, services.SyncerOptions{
		Interval: time.Duration(config.GetSyncIntervalSeconds()) * time.Second,
	})

	syncCtx, stopSync := context.WithCancel(ctx)
	go syncer.Run(syncCtx)

	return replState{
		db:       database,
		store:    st,
		engine:   engine,
		syncer:   syncer,
		index:    services.NewIndex(st),
		importer: services.NewImporter(engine),
		stopSync: stopSync,
	}
}

func runREPL(state replState) {
	fmt.Println("Welcome to the otpkeep REPL!")
	fmt.Println("Type 'exit' or 'quit' to exit.")
	fmt.Println("Type 'help' for the command list.")
	fmt.Println()

	defer state.stopSync()
	defer state.db.Close()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")

		if !scanner.Scan() {
			break
		}

		line := scanner.Text()
		trimmedLine := strings.TrimSpace(line)

		if trimmedLine == "" {
			continue
		}

		if trimmedLine == "exit" || trimmedLine == "quit" {
			break
		}

		if trimmedLine == "help" {
			printHelp()
			continue
		}

		if trimmedLine == "config" {
			showConfig()
			continue
		}

		if strings.HasPrefix(trimmedLine, "list") {
			state.listCodes(trimmedLine)
			continue
		}

		if strings.HasPrefix(trimmedLine, "search") {
			state.searchAccounts(trimmedLine)
			continue
		}

		if strings.HasPrefix(trimmedLine, "add") {
			state.addAccount(trimmedLine)
			continue
		}

		if strings.HasPrefix(trimmedLine, "rename") {
			state.renameAccount(trimmedLine)
			continue
		}

		if strings.HasPrefix(trimmedLine, "rm") {
			state.removeAccount(trimmedLine)
			continue
		}

		if strings.HasPrefix(trimmedLine, "import") {
			state.importFile(trimmedLine)
			continue
		}

		if strings.HasPrefix(trimmedLine, "scan") {
			state.importURI(trimmedLine)
			continue
		}

		if trimmedLine == "sync" {
			state.syncNow()
			continue
		}

		if trimmedLine == "refresh" {
			state.syncer.RequestRefresh()
			fmt.Println("Refresh requested; will run at the next tick.")
			continue
		}

		if trimmedLine == "status" {
			state.showSyncStatus()
			continue
		}

		fmt.Printf("Unknown command: %s\n", trimmedLine)
		printHelp()
	}
}

func printHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  list [query]          - Show accounts with current codes")
	fmt.Println("  search <query>        - Filter accounts by name")
	fmt.Println("  add <name> <secret> [issuer]")
	fmt.Println("                        - Add an account")
	fmt.Println("  rename <id> <name>    - Rename an account")
	fmt.Println("  rm <id>               - Delete an account")
	fmt.Println("  import <file>         - Import a JSON account batch")
	fmt.Println("  scan <otpauth-uri>    - Import a scanned provisioning URI")
	fmt.Println("  sync                  - Sync with the remote service now")
	fmt.Println("  refresh               - Request a sync at the next tick")
	fmt.Println("  status                - Show sync state")
	fmt.Println("  config                - Show the configuration")
	fmt.Println("  help                  - Show this help")
	fmt.Println("  exit, quit            - Exit the REPL")
}

func showConfig() {
	cfg, err := config.GetConfig()
	if err != nil {
		log.Error().Err(err).Msg("Error loading configuration")
		return
	}

	fmt.Println("Current configuration:")
	if cfg.SyncOptions.ServerURL != "" {
		fmt.Printf("  Sync server: %s\n", cfg.SyncOptions.ServerURL)
	} else {
		fmt.Println("  Sync server: (not set)")
	}
	if cfg.SyncOptions.APIToken != "" {
		fmt.Println("  API token: (set)")
	} else {
		fmt.Println("  API token: (not set)")
	}
	fmt.Printf("  Sync interval: %ds\n", config.GetSyncIntervalSeconds())
	period, digits := config.GetTOTPOptions()
	fmt.Printf("  TOTP: %d digits every %ds\n", digits, period)
}
