// Package dapp exposes the ledger, content store and document compiler to
// dapps over the rpc registry.
//
// Read accessors are best effort: a failed read is logged and answered with
// an empty sentinel. Writes always produce a structured result.
package dapp

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rexliu/dappd/pkg/document"
	"github.com/rexliu/dappd/pkg/events"
	"github.com/rexliu/dappd/pkg/ledger"
	"github.com/rexliu/dappd/pkg/txintent"
)

// ZeroValue is returned by numeric accessors when the read fails.
const ZeroValue = "0x0"

// FileStore is the content store facade used by writeFile and readFile.
type FileStore interface {
	WriteFile(ctx context.Context, data []byte) (string, error)
	ReadFile(ctx context.Context, hash string) ([]byte, error)
}

// Deps are the collaborators of a Core. The host owns their lifecycle.
type Deps struct {
	Ledger       ledger.Backend
	Files        FileStore
	Documents    document.Compiler
	Resolver     *txintent.Resolver
	Events       *events.Hub
	RootContract string
	Logger       zerolog.Logger
}

// Core holds the collaborators and implements every dapp operation.
type Core struct {
	ledger   ledger.Backend
	files    FileStore
	docs     document.Compiler
	resolver *txintent.Resolver
	events   *events.Hub
	root     string
	logger   zerolog.Logger
}

// New builds a Core. A nil Resolver is derived from Ledger and a nil Events
// hub is replaced by a private one.
func New(deps Deps) *Core {
	c := &Core{
		ledger:   deps.Ledger,
		files:    deps.Files,
		docs:     deps.Documents,
		resolver: deps.Resolver,
		events:   deps.Events,
		root:     deps.RootContract,
		logger:   deps.Logger,
	}
	if c.resolver == nil {
		c.resolver = txintent.NewResolver(deps.Ledger, txintent.WithLogger(deps.Logger))
	}
	if c.events == nil {
		c.events = events.NewHub(events.WithLogger(deps.Logger))
	}
	if c.root == "" {
		c.logger.Warn().Msg("root contract not set")
	}
	return c
}

// BalanceAt returns the balance of addr or ZeroValue.
func (c *Core) BalanceAt(ctx context.Context, addr string) string {
	acc, err := c.ledger.Account(ctx, addr)
	if err != nil {
		c.logger.Debug().Err(err).Str("address", addr).Msg("balance read failed")
		return ZeroValue
	}
	return acc.Balance
}

// StorageAt returns one storage slot or ZeroValue.
func (c *Core) StorageAt(ctx context.Context, addr, slot string) string {
	value, err := c.ledger.StorageAt(ctx, addr, slot)
	if err != nil {
		c.logger.Debug().Err(err).Str("address", addr).Str("slot", slot).Msg("storage read failed")
		return ZeroValue
	}
	return value
}

// Storage returns every slot of addr, or nil.
func (c *Core) Storage(ctx context.Context, addr string) map[string]string {
	slots, err := c.ledger.Storage(ctx, addr)
	if err != nil {
		c.logger.Debug().Err(err).Str("address", addr).Msg("storage read failed")
		return nil
	}
	return slots
}

// Account returns the account at addr, or nil.
func (c *Core) Account(ctx context.Context, addr string) *ledger.Account {
	acc, err := c.ledger.Account(ctx, addr)
	if err != nil {
		c.logger.Debug().Err(err).Str("address", addr).Msg("account read failed")
		return nil
	}
	return &acc
}

// WriteFile stores data and returns its 0x-prefixed hash, or "".
func (c *Core) WriteFile(ctx context.Context, data []byte) string {
	if c.files == nil {
		return ""
	}
	hash, err := c.files.WriteFile(ctx, data)
	if err != nil {
		c.logger.Warn().Err(err).Int("size", len(data)).Msg("write file failed")
		return ""
	}
	return hash
}

// ReadFile returns the content for hash, or nil.
func (c *Core) ReadFile(ctx context.Context, hash string) []byte {
	if c.files == nil {
		return nil
	}
	data, err := c.files.ReadFile(ctx, hash)
	if err != nil {
		c.logger.Debug().Err(err).Str("hash", hash).Msg("read file failed")
		return nil
	}
	return data
}

// MarkdownToPDF renders legal markdown with params, or returns an empty slice.
func (c *Core) MarkdownToPDF(ctx context.Context, markdown string, params map[string]any) []byte {
	if c.docs == nil {
		return []byte{}
	}
	out, err := c.docs.Compile(ctx, markdown, params)
	if err != nil {
		c.logger.Warn().Err(err).Msg("markdown compile failed")
		return []byte{}
	}
	if out == nil {
		return []byte{}
	}
	return out
}

// RootContract returns the configured root contract, or ZeroValue.
func (c *Core) RootContract() string {
	if c.root == "" {
		return ZeroValue
	}
	return c.root
}

// Transact classifies and submits in.
func (c *Core) Transact(ctx context.Context, in txintent.Intent) txintent.Result {
	return c.resolver.Resolve(ctx, in)
}

// Events returns the hub that carries ledger blocks.
func (c *Core) Events() *events.Hub {
	return c.events
}
