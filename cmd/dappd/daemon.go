package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rexliu/dappd/pkg/config"
	"github.com/rexliu/dappd/pkg/contentstore"
	"github.com/rexliu/dappd/pkg/dapp"
	"github.com/rexliu/dappd/pkg/document"
	"github.com/rexliu/dappd/pkg/events"
	"github.com/rexliu/dappd/pkg/ledger"
	"github.com/rexliu/dappd/pkg/txintent"
)

// daemon owns the collaborators behind the dapp API.
type daemon struct {
	hub    *events.Hub
	chain  *ledger.Chain
	blocks *contentstore.SQLiteStore
	api    *dapp.API
}

func openDaemon(ctx context.Context, profileDir string, cfg *config.ProfileConfig, logger zerolog.Logger) (*daemon, error) {
	d := &daemon{
		hub: events.NewHub(events.WithLogger(logger.With().Str("component", "events").Logger())),
	}

	chain, err := ledger.OpenChain(config.ResolvePath(profileDir, cfg.Ledger.DBPath), ledger.ChainConfig{
		Sender:         cfg.Ledger.Sender,
		Coinbase:       cfg.Ledger.Coinbase,
		GenesisBalance: cfg.Ledger.GenesisBalance,
	}, ledger.WithOnBlock(func(b ledger.Block) {
		d.hub.Publish(events.SourceLedger, events.EventNewBlock, b)
	}))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open chain: %w", err)
	}
	d.chain = chain
	if err := chain.Init(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("init chain: %w", err)
	}

	blocks, err := contentstore.Open(config.ResolvePath(profileDir, cfg.Content.DBPath))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open content store: %w", err)
	}
	d.blocks = blocks
	if err := blocks.Init(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("init content store: %w", err)
	}

	docs := &document.CommandCompiler{
		Command: cfg.Document.Command,
		Args:    cfg.Document.Args,
		Timeout: time.Duration(cfg.Document.TimeoutSeconds) * time.Second,
	}
	if docs.Command == "" {
		logger.Warn().Msg("document.command not set; markdownToPDF returns empty documents")
	}

	resolver := txintent.NewResolver(chain,
		txintent.WithLogger(logger.With().Str("component", "txintent").Logger()),
		txintent.WithTimeout(cfg.Ledger.CallTimeout()),
	)
	core := dapp.New(dapp.Deps{
		Ledger:       chain,
		Files:        contentstore.NewFiles(blocks),
		Documents:    docs,
		Resolver:     resolver,
		Events:       d.hub,
		RootContract: cfg.Dapp.RootContract,
		Logger:       logger.With().Str("component", "dapp").Logger(),
	})
	d.api = dapp.NewAPI(core)
	logger.Info().Str("sender", chain.Sender()).Str("chain", chain.Path()).Str("content", blocks.Path()).Msg("collaborators ready")
	return d, nil
}

// Close stops event delivery and releases the stores.
func (d *daemon) Close() {
	d.hub.Close()
	if d.chain != nil {
		d.chain.Close()
	}
	if d.blocks != nil {
		d.blocks.Close()
	}
}
