// cmd/tools/corpus-loader/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jira-support-bot/internal/assistant/knowledge"
	"jira-support-bot/internal/common/config"
	"jira-support-bot/internal/common/database"
	"jira-support-bot/internal/common/logger"
	"jira-support-bot/internal/common/ollama"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	input := flag.String("input", "", "JSONL corpus export (one passage per line)")
	target := flag.String("target", "sql", "Destination: sql, elasticsearch or both")
	embed := flag.Bool("embed", true, "Embed passages that have no vector using the configured model")
	batch := flag.Int("batch", 200, "Rows per write")
	flag.Parse()

	if *input == "" {
		fmt.Println("Error: -input is required.")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewZapAdapter(logger.NewFromConfig(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *input, *target, *embed, *batch, log); err != nil {
		log.Error("corpus import failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, input, target string, embed bool, batch int, log logger.Logger) error {
	switch target {
	case "sql", "elasticsearch", "both":
	default:
		return fmt.Errorf("unknown target %q", target)
	}

	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := readRecords(f)
	if err != nil {
		return err
	}

	var embedder Embedder
	if embed {
		client := ollama.New(cfg.Generation.BaseURL, config.GetDuration(cfg.Generation.Timeout))
		embedder = knowledge.NewOllamaEmbedder(client, cfg.Knowledge.EmbeddingModel)
	}

	rows, err := toRows(ctx, records, embedder)
	if err != nil {
		return err
	}
	dims, err := dimensions(rows)
	if err != nil {
		return err
	}

	var writers []PassageWriter

	if target == "sql" || target == "both" {
		corpus, err := database.NewCorpusDB(cfg.Database.Corpus)
		if err != nil {
			return err
		}
		defer corpus.Close()
		if err := corpus.EnsureSchema(ctx); err != nil {
			return err
		}
		writers = append(writers, &sqlWriter{corpus: corpus})
	}

	if target == "elasticsearch" || target == "both" {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		index := knowledge.NewElasticsearchIndex(es.Client, cfg.Knowledge.Index)
		if err := index.EnsureIndex(ctx, dims); err != nil {
			return err
		}
		writers = append(writers, &esWriter{index: index})
	}

	if err := importCorpus(ctx, rows, batch, writers...); err != nil {
		return err
	}

	log.Info("corpus imported", map[string]interface{}{
		"passages":   len(rows),
		"dimensions": dims,
		"target":     target,
	})
	return nil
}
