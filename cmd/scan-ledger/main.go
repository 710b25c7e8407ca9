package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/scan-ledger/internal/artifact"
	"github.com/zombor/scan-ledger/internal/batch"
	"github.com/zombor/scan-ledger/internal/document"
	"github.com/zombor/scan-ledger/internal/extraction"
	"github.com/zombor/scan-ledger/internal/record"
	"github.com/zombor/scan-ledger/internal/scanning"
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

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("scan-ledger")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "scan-ledger.db", "Record database file path")
		storeType       = fs.StringLong("store", "bolt", "Record store: 'bolt' or 'sqlite'")
		uploadsPath     = fs.StringLong("uploads", "./uploads", "Directory for original uploads")
		outputPath      = fs.StringLong("output", "./results", "Directory for result artifacts")
		workspacePath   = fs.StringLong("workspace", "", "Directory for temporary batch workspaces (default: system temp dir)")
		primaryType     = fs.StringLong("primary", "ollama", "Primary recognition backend: 'ollama', 'gemini' or 'none'")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name")
		localEngine     = fs.StringLong("local-engine", "tesseract", "Local recognition engine: 'tesseract' or 'none'")
		tesseractLang   = fs.StringLong("tesseract-lang", "eng+chi_sim", "Tesseract languages, joined with '+'")
		workers         = fs.IntLong("workers", 1, "Units recognized at once within a batch")
		pdfDPI          = fs.IntLong("pdf-dpi", 200, "Resolution for rasterizing PDF pages")
		persistCombined = fs.BoolLong("persist-combined", "Also save a record for the combined text of each batch")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel        = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		importDir       = fs.StringLong("import", "", "Import text artifacts from this directory into the store and exit")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SCAN_LEDGER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing record store...", "type", *storeType, "path", *dbPath)
	store, err := openStore(*storeType, *dbPath)
	if err != nil {
		slog.Error("Failed to initialize record store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	primary, primaryOK := initPrimary(ctx, *primaryType, *geminiKey, *geminiModel, *ollamaURL, *ollamaModel)
	local, localOK := initLocalEngine(*localEngine, *tesseractLang)
	chain := scanning.NewChain(primary, local, scanning.Availability{
		PrimaryAvailable:     primaryOK,
		LocalEngineAvailable: localOK,
	})
	defer chain.Close()
	for _, s := range chain.Status() {
		slog.Info("Recognition backend", "backend", s.Backend, "name", s.Name, "available", s.Available)
	}

	opts := []batch.Option{
		batch.WithRecorder(store),
		batch.WithRasterizer(batch.FitzRasterizer{DPI: float64(*pdfDPI)}),
		batch.WithWorkers(*workers),
	}
	if *workspacePath != "" {
		opts = append(opts, batch.WithWorkspaceRoot(*workspacePath))
	}
	if *persistCombined {
		opts = append(opts, batch.WithCombinedRecord())
	}
	extractor := extraction.Extractor{}
	orchestrator := batch.New(chain, extractor, artifact.NewWriter(), opts...)

	slog.Info("Initializing upload storage...", "path", *uploadsPath)
	uploads, err := document.NewLocalStorage(*uploadsPath)
	if err != nil {
		slog.Error("Failed to initialize upload storage", "error", err)
		os.Exit(1)
	}

	service := document.NewService(orchestrator, chain, extractor, store, uploads, *outputPath)

	if *importDir != "" {
		report, err := service.ImportArtifacts(*importDir)
		if err != nil {
			slog.Error("Import failed", "dir", *importDir, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Imported %d artifacts, skipped %d\n", report.Imported, report.Skipped)
		return
	}

	server := document.NewServer(service, document.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	addr := fmt.Sprintf(":%d", *port)
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutting down...")
}

func openStore(kind, path string) (record.Store, error) {
	switch kind {
	case "bolt":
		s, err := record.NewBoltStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := record.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("invalid store type %q, want 'bolt' or 'sqlite'", kind)
	}
}

// initPrimary builds the networked backend. Configuration problems leave the
// primary unavailable rather than stopping the server.
func initPrimary(ctx context.Context, kind, geminiKey, geminiModel, ollamaURL, ollamaModel string) (scanning.Recognizer, bool) {
	switch kind {
	case "none", "":
		return nil, false
	case "gemini":
		apiKey := geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Warn("Gemini API key missing, primary backend disabled. Set --gemini-key or GEMINI_API_KEY")
			return nil, false
		}
		slog.Info("Initializing Gemini backend...", "model", geminiModel)
		g, err := scanning.NewGemini(apiKey, geminiModel)
		if err != nil {
			slog.Warn("Failed to initialize Gemini, primary backend disabled", "error", err)
			return nil, false
		}
		return g, true
	case "ollama":
		slog.Info("Initializing Ollama backend...", "url", ollamaURL, "model", ollamaModel)
		o, err := scanning.NewOllama(ollamaURL, ollamaModel)
		if err != nil {
			slog.Warn("Failed to initialize Ollama, primary backend disabled", "error", err)
			return nil, false
		}
		if err := o.Ping(ctx); err != nil {
			slog.Warn("Ollama is not reachable, primary backend disabled", "error", err)
			return o, false
		}
		return o, true
	default:
		slog.Warn("Unknown primary backend, primary backend disabled", "type", kind, "valid", "ollama, gemini or none")
		return nil, false
	}
}

func initLocalEngine(kind, langs string) (scanning.Recognizer, bool) {
	switch kind {
	case "tesseract":
	case "none", "":
		return nil, false
	default:
		slog.Warn("Unknown local engine, local engine disabled", "type", kind, "valid", "tesseract or none")
		return nil, false
	}
	v := scanning.TesseractVersion()
	if v == "" {
		slog.Warn("Tesseract is not available, local engine disabled")
		return nil, false
	}
	slog.Info("Initializing Tesseract backend...", "version", v, "languages", langs)
	var languages []string
	for _, l := range strings.Split(langs, "+") {
		if l = strings.TrimSpace(l); l != "" {
			languages = append(languages, l)
		}
	}
	return scanning.NewTesseract(languages...), true
}
