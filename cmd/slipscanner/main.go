package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/slipscan/slipscanner/internal/capture"
	"github.com/slipscan/slipscanner/internal/recognition"
	"github.com/slipscan/slipscanner/internal/slip"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("slipscanner")
	var (
		port          = fs.IntLong("port", 8080, "HTTP server port")
		dbPath        = fs.StringLong("db", "slipscanner.db", "Database file path")
		storagePath   = fs.StringLong("storage", "./captures", "Capture storage directory path")
		watchDir      = fs.StringLong("watch", "", "Hot folder to ingest captures from (optional)")
		engineType    = fs.StringLong("engine", "gemini", "Recognition engine: 'gemini', 'tesseract' or 'static'")
		geminiKey     = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel   = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		tesseractLang = fs.StringLong("tesseract-lang", "eng", "Tesseract language")
		hashContent   = fs.BoolLong("hash-content", "Fingerprint image bytes instead of the capture URI")
		defaultCat    = fs.StringLong("category", "", "Default category name for new documents")
		defaultBudget = fs.StringLong("budget", "", "Default budget name for new documents")
		authUser      = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass      = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion   = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SLIPSCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize database
	slog.Info("Initializing database...")
	store, err := slip.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize recognition engine based on type
	var engine recognition.Engine
	switch *engineType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini engine...", "model", *geminiModel)
		engine, err = recognition.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "tesseract":
		slog.Info("Initializing Tesseract engine...", "language", *tesseractLang)
		engine, err = recognition.NewTesseract(*tesseractLang)
		if err != nil {
			slog.Error("Failed to initialize Tesseract", "error", err)
			os.Exit(1)
		}
	case "static":
		slog.Info("Initializing static engine...")
		engine = recognition.NewStatic(2 * time.Second)
	default:
		slog.Error("Invalid engine type", "type", *engineType, "valid", "gemini, tesseract or static")
		os.Exit(1)
	}
	defer engine.Close()

	// Initialize capture storage
	slog.Info("Initializing storage...")
	storage, err := slip.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Seed lookup sets so fresh databases have something to file documents
	// under
	categories, budgets, err := store.SeedLookups(context.Background(),
		[]slip.Category{
			{Name: "Travel"},
			{Name: "Meals"},
			{Name: "Office"},
			{Name: "Utilities"},
			{Name: "Other"},
		},
		[]slip.Budget{
			{Name: "SmartHydro"},
			{Name: "General"},
		},
	)
	if err != nil {
		slog.Error("Failed to seed lookups", "error", err)
		os.Exit(1)
	}

	defaults := slip.Defaults{
		CategoryID: lookupCategoryID(categories, *defaultCat),
		BudgetID:   lookupBudgetID(budgets, *defaultBudget),
	}

	hashMode := slip.HashURI
	if *hashContent {
		hashMode = slip.HashContent
	}

	service := slip.NewService(
		store,
		recognition.NewProcessor(engine),
		slip.NewFingerprinter(hashMode),
		storage,
		defaults,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional hot-folder ingestion alongside the HTTP surface
	if *watchDir != "" {
		watcher, err := capture.New(*watchDir, service)
		if err != nil {
			slog.Error("Failed to initialize watcher", "error", err)
			os.Exit(1)
		}
		defer watcher.Close()
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Watcher stopped", "error", err)
			}
		}()
	}

	// Initialize server
	basicAuth := slip.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := slip.NewServer(service, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// lookupCategoryID maps a category name to its seeded id, falling back to the
// first category when the name is empty or unknown.
func lookupCategoryID(categories []slip.Category, name string) string {
	for _, c := range categories {
		if strings.EqualFold(c.Name, name) {
			return c.ID
		}
	}
	if len(categories) > 0 {
		return categories[0].ID
	}
	return ""
}

func lookupBudgetID(budgets []slip.Budget, name string) string {
	for _, b := range budgets {
		if strings.EqualFold(b.Name, name) {
			return b.ID
		}
	}
	if len(budgets) > 0 {
		return budgets[0].ID
	}
	return ""
}
