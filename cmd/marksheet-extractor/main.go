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

	"github.com/zombor/marksheet-extractor/internal/evidence"
	"github.com/zombor/marksheet-extractor/internal/extraction"
	"github.com/zombor/marksheet-extractor/internal/marksheet"
	"github.com/zombor/marksheet-extractor/internal/pipeline"
	"github.com/zombor/marksheet-extractor/internal/recognition"
	"github.com/zombor/marksheet-extractor/internal/structuring"
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

	fs := ff.NewFlagSet("marksheet-extractor")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "marksheet-extractor.db", "Extraction history database path")
		archivePath = fs.StringLong("archive", "", "Directory to archive uploaded documents in (disabled when empty)")

		structurerType = fs.StringLong("structurer", "openai", "Structuring model: 'openai', 'gemini' or 'ollama'")
		openAIKey      = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openAIModel    = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		openAIBaseURL  = fs.StringLong("openai-base-url", "", "OpenAI-compatible API base URL (optional)")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llama3.1", "Ollama model name")

		tessdata  = fs.StringLong("tessdata", "", "Tesseract trained data directory (optional)")
		languages = fs.StringLong("languages", "eng", "Tesseract languages, '+' separated (e.g. eng+hin)")
		pdfDPI    = fs.Float64Long("pdf-dpi", recognition.DefaultPDFDPI, "DPI used to render PDF pages")

		workers          = fs.IntLong("workers", pipeline.DefaultWorkers, "Concurrent recognition/structuring workers")
		recognizeTimeout = fs.DurationLong("recognize-timeout", pipeline.DefaultRecognizeTimeout, "Text recognition timeout")
		structureTimeout = fs.DurationLong("structure-timeout", pipeline.DefaultStructureTimeout, "Structuring model timeout")
		maxUploadMB      = fs.IntLong("max-upload-mb", pipeline.DefaultMaxUploadBytes>>20, "Maximum upload size in MB")
		maxPromptBlocks  = fs.IntLong("max-prompt-blocks", structuring.DefaultMaxPromptBlocks, "Recognized blocks sent to the structuring model")

		ocrWeight     = fs.Float64Long("ocr-weight", evidence.DefaultWeights.Evidence, "Weight of recognizer confidence in fused scores")
		llmWeight     = fs.Float64Long("llm-weight", evidence.DefaultWeights.Model, "Weight of model confidence in fused scores")
		fuzzyDiscount = fs.Float64Long("fuzzy-discount", evidence.DefaultFuzzyDiscount, "Confidence multiplier for token-overlap matches")
		defaultLLM    = fs.Float64Long("default-llm-confidence", extraction.DefaultModelConfidence, "Model confidence assumed when none is reported")

		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logJSON     = fs.BoolLong("log-json", "Log in JSON format")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("MARKSHEET"),
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

	if err := setupLogging(*logLevel, *logJSON); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "path", *dbPath)
	db, err := marksheet.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize structuring model based on type
	var structurer structuring.Structurer
	switch *structurerType {
	case "openai":
		apiKey := *openAIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("OpenAI API key is required. Set --openai-key flag or OPENAI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing OpenAI structurer...", "model", *openAIModel)
		structurer, err = structuring.NewOpenAI(structuring.OpenAIConfig{
			APIKey:    apiKey,
			Model:     *openAIModel,
			MaxBlocks: *maxPromptBlocks,
			Timeout:   *structureTimeout,
			BaseURL:   *openAIBaseURL,
		})
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini structurer...", "model", *geminiModel)
		structurer, err = structuring.NewGemini(apiKey, *geminiModel, *maxPromptBlocks)
	case "ollama":
		slog.Info("Initializing Ollama structurer...", "url", *ollamaURL, "model", *ollamaModel)
		structurer, err = structuring.NewOllama(*ollamaURL, *ollamaModel, *maxPromptBlocks)
	default:
		slog.Error("Invalid structurer type", "type", *structurerType, "valid", "openai, gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize structurer", "type", *structurerType, "error", err)
		os.Exit(1)
	}
	defer structurer.Close()

	recognizer := recognition.NewTesseract(recognition.TesseractConfig{
		TessdataPrefix: *tessdata,
		Languages:      strings.Split(*languages, "+"),
		DPI:            *pdfDPI,
	})

	// Initialize optional archive
	var store marksheet.Storage
	if *archivePath != "" {
		slog.Info("Initializing archive...", "path", *archivePath)
		local, err := marksheet.NewLocalStorage(*archivePath)
		if err != nil {
			slog.Error("Failed to initialize archive", "error", err)
			os.Exit(1)
		}
		store = local
	}

	pool := pipeline.NewPool(pipeline.PoolConfig{
		Name:    "extraction",
		Logger:  slog.Default(),
		Workers: *workers,
	})
	defer pool.Close()

	maxUploadBytes := int64(*maxUploadMB) << 20
	assembler := extraction.Assembler{
		Matcher:                evidence.Matcher{FuzzyDiscount: *fuzzyDiscount},
		Weights:                evidence.Weights{Evidence: *ocrWeight, Model: *llmWeight},
		DefaultModelConfidence: *defaultLLM,
	}
	orchestrator := pipeline.New(recognizer, structurer, pool, pipeline.Config{
		MaxUploadBytes:   maxUploadBytes,
		RecognizeTimeout: *recognizeTimeout,
		StructureTimeout: *structureTimeout,
		Assembler:        &assembler,
		Logger:           slog.Default(),
	})

	service := marksheet.NewService(db, orchestrator, store)
	basicAuth := marksheet.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := marksheet.NewServer(service, basicAuth, maxUploadBytes)

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	start := time.Now()
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutting down...", "uptime", time.Since(start).Round(time.Second))
}

func setupLogging(level string, json bool) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if json {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
