package dapp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rexliu/dappd/pkg/events"
	"github.com/rexliu/dappd/pkg/ledger"
	"github.com/rexliu/dappd/pkg/rpc"
	"github.com/rexliu/dappd/pkg/txintent"
	"github.com/rexliu/dappd/pkg/watch"
)

// EventAccountChanged is pushed to a session when a watched account appears
// in a new block.
const EventAccountChanged = "accountChanged"

type session struct {
	rpc     *rpc.Session
	watches *watch.Registry
}

// API binds a Core to rpc sessions. Each connection gets its own watch
// registry subscribed to new blocks for as long as the connection lives.
type API struct {
	core   *Core
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

var _ rpc.SessionHooks = (*API)(nil)

// NewAPI wraps core.
func NewAPI(core *Core) *API {
	return &API{
		core:     core,
		logger:   core.logger,
		sessions: make(map[string]*session),
	}
}

// OpenSession subscribes a fresh watch registry for s.
func (a *API) OpenSession(s *rpc.Session) {
	st := &session{rpc: s, watches: watch.NewRegistry()}
	a.mu.Lock()
	a.sessions[s.ID] = st
	a.mu.Unlock()
	a.core.events.Subscribe(events.SourceLedger, events.EventNewBlock, s.ID, func(b ledger.Block) {
		if n := st.watches.NotifyBlock(b); n > 0 {
			a.logger.Debug().Str("session", s.ID).Uint64("block", b.Number).Int("accounts", n).Msg("accounts changed")
		}
	})
	a.logger.Debug().Str("session", s.ID).Str("transport", s.Transport).Msg("session opened")
}

// CloseSession drops the watch registry of s.
func (a *API) CloseSession(s *rpc.Session) {
	a.core.events.Unsubscribe(s.ID)
	a.mu.Lock()
	delete(a.sessions, s.ID)
	a.mu.Unlock()
	a.logger.Debug().Str("session", s.ID).Msg("session closed")
}

// Sessions returns the number of open sessions.
func (a *API) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

func (a *API) session(ctx context.Context) (*session, *rpc.Error) {
	s, ok := rpc.SessionFromContext(ctx)
	if !ok {
		return nil, rpc.Errorf(rpc.CodeInvalidRequest, "method requires a connection session")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.sessions[s.ID]
	if !ok {
		return nil, rpc.Errorf(rpc.CodeInvalidRequest, "unknown session %s", s.ID)
	}
	return st, nil
}

// Register installs every dapp method on reg.
func (a *API) Register(reg *rpc.Registry) {
	reg.Register("ping", a.handlePing)
	reg.Register("balanceAt", a.handleBalanceAt)
	reg.Register("storageAt", a.handleStorageAt)
	reg.Register("storage", a.handleStorage)
	reg.Register("account", a.handleAccount)
	reg.Register("writeFile", a.handleWriteFile)
	reg.Register("readFile", a.handleReadFile)
	reg.Register("markdownToPDF", a.handleMarkdownToPDF)
	reg.Register("rootContract", a.handleRootContract)
	reg.Register("transact", a.handleTransact)
	reg.Register("watchAccount", a.handleWatchAccount)
	reg.Register("unwatchAccount", a.handleUnwatchAccount)
	reg.Register("rpc.methods", func(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
		return rpc.Result(reg.Methods())
	})
}

type addressParams struct {
	Address string `json:"Address"`
}

func decodeAddress(params json.RawMessage) (string, *rpc.Error) {
	var p addressParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return "", err
	}
	if p.Address == "" {
		return "", rpc.Errorf(rpc.CodeInvalidParams, "Address required")
	}
	return p.Address, nil
}

func (a *API) handlePing(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	return rpc.Result(map[string]int64{"Now": time.Now().UnixMilli()})
}

func (a *API) handleBalanceAt(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	addr, err := decodeAddress(params)
	if err != nil {
		return nil, err
	}
	return rpc.Result(a.core.BalanceAt(ctx, addr))
}

func (a *API) handleStorageAt(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	var p struct {
		Address string `json:"Address"`
		Slot    string `json:"Slot"`
	}
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Address == "" || p.Slot == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "Address and Slot required")
	}
	return rpc.Result(a.core.StorageAt(ctx, p.Address, p.Slot))
}

func (a *API) handleStorage(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	addr, err := decodeAddress(params)
	if err != nil {
		return nil, err
	}
	return rpc.Result(a.core.Storage(ctx, addr))
}

func (a *API) handleAccount(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	addr, err := decodeAddress(params)
	if err != nil {
		return nil, err
	}
	return rpc.Result(a.core.Account(ctx, addr))
}

type fileParams struct {
	Data   string `json:"Data"`
	Hash   string `json:"Hash"`
	Base64 bool   `json:"Base64"`
}

func (a *API) handleWriteFile(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	var p fileParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	data := []byte(p.Data)
	if p.Base64 {
		decoded, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, rpc.Errorf(rpc.CodeInvalidParams, "Data is not base64: %v", err)
		}
		data = decoded
	}
	return rpc.Result(a.core.WriteFile(ctx, data))
}

func (a *API) handleReadFile(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	var p fileParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Hash == "" {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "Hash required")
	}
	data := a.core.ReadFile(ctx, p.Hash)
	if p.Base64 {
		return rpc.Result(base64.StdEncoding.EncodeToString(data))
	}
	return rpc.Result(string(data))
}

func (a *API) handleMarkdownToPDF(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	var p struct {
		Markdown string         `json:"Markdown"`
		Params   map[string]any `json:"Params"`
	}
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return rpc.Result(a.core.MarkdownToPDF(ctx, p.Markdown, p.Params))
}

func (a *API) handleRootContract(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	return rpc.Result(a.core.RootContract())
}

type transactParams struct {
	Recipient string `json:"Recipient"`
	Value     string `json:"Value"`
	Gas       string `json:"Gas"`
	GasPrice  string `json:"GasPrice"`
	Data      string `json:"Data"`
}

func (a *API) handleTransact(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	var p transactParams
	if err := rpc.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return rpc.Result(a.core.Transact(ctx, txintent.Intent{
		Recipient: p.Recipient,
		Value:     p.Value,
		GasLimit:  p.Gas,
		GasPrice:  p.GasPrice,
		Payload:   p.Data,
	}))
}

type watchResult struct {
	Address  string `json:"Address"`
	Watching bool   `json:"Watching"`
}

func (a *API) handleWatchAccount(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	raw, rerr := decodeAddress(params)
	if rerr != nil {
		return nil, rerr
	}
	addr, err := ledger.NormalizeAddress(raw)
	if err != nil {
		return nil, rpc.Errorf(rpc.CodeInvalidParams, "%v", err)
	}
	st, rerr := a.session(ctx)
	if rerr != nil {
		return nil, rerr
	}
	st.watches.Watch(addr, func() {
		if err := st.rpc.Notify(EventAccountChanged, addressParams{Address: addr}); err != nil {
			a.logger.Debug().Err(err).Str("session", st.rpc.ID).Str("address", addr).Msg("account notification dropped")
		}
	})
	return rpc.Result(watchResult{Address: addr, Watching: true})
}

func (a *API) handleUnwatchAccount(ctx context.Context, params json.RawMessage) (*rpc.Response, *rpc.Error) {
	raw, rerr := decodeAddress(params)
	if rerr != nil {
		return nil, rerr
	}
	st, rerr := a.session(ctx)
	if rerr != nil {
		return nil, rerr
	}
	st.watches.Unwatch(raw)
	return rpc.Result(watchResult{Address: raw, Watching: false})
}
