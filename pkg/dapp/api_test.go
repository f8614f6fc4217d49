package dapp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/dappd/pkg/events"
	"github.com/rexliu/dappd/pkg/ledger"
	"github.com/rexliu/dappd/pkg/rpc"
	"github.com/rexliu/dappd/pkg/txintent"
)

const watched = "0x00000000000000000000000000000000000000aa"

type memLedger struct {
	accounts map[string]ledger.Account
	deployed []string
}

func (m *memLedger) Account(ctx context.Context, address string) (ledger.Account, error) {
	acc, ok := m.accounts[address]
	if !ok {
		return ledger.Account{}, ledger.ErrNotFound
	}
	return acc, nil
}

func (m *memLedger) StorageAt(ctx context.Context, address, slot string) (string, error) {
	if slot == "0x0" {
		return "0x2a", nil
	}
	return "", ledger.ErrNotFound
}

func (m *memLedger) Storage(ctx context.Context, address string) (map[string]string, error) {
	if _, ok := m.accounts[address]; !ok {
		return nil, ledger.ErrNotFound
	}
	return map[string]string{"0x0": "0x2a"}, nil
}

func (m *memLedger) DeployScript(ctx context.Context, source string) (string, error) {
	m.deployed = append(m.deployed, source)
	return "0x0000000000000000000000000000000000000c01", nil
}

func (m *memLedger) SubmitTransfer(ctx context.Context, recipient, value string) (ledger.Receipt, error) {
	return ledger.Receipt{}, ledger.ErrInsufficientBalance
}

func (m *memLedger) SubmitMessage(ctx context.Context, recipient string, args []string) (ledger.Receipt, error) {
	return ledger.Receipt{Hash: "0xfeed"}, nil
}

type memFiles struct {
	data map[string][]byte
}

func (m *memFiles) WriteFile(ctx context.Context, data []byte) (string, error) {
	hash := "0x" + string(rune('a'+len(m.data)))
	m.data[hash] = data
	return hash, nil
}

func (m *memFiles) ReadFile(ctx context.Context, hash string) ([]byte, error) {
	data, ok := m.data[hash]
	if !ok {
		return nil, errors.New("missing")
	}
	return data, nil
}

type failingCompiler struct{}

func (failingCompiler) Compile(ctx context.Context, source string, params map[string]any) ([]byte, error) {
	return nil, errors.New("no converter")
}

type fixture struct {
	reg     *rpc.Registry
	api     *API
	hub     *events.Hub
	session *rpc.Session
	ctx     context.Context
	mu      sync.Mutex
	pushed  []rpc.Notification
}

func newFixture(t *testing.T, root string) *fixture {
	t.Helper()
	hub := events.NewHub()
	t.Cleanup(hub.Close)
	core := New(Deps{
		Ledger: &memLedger{accounts: map[string]ledger.Account{
			watched: {Address: watched, Balance: "0x64"},
		}},
		Files:        &memFiles{data: map[string][]byte{}},
		Documents:    failingCompiler{},
		Events:       hub,
		RootContract: root,
	})
	f := &fixture{reg: rpc.NewRegistry(), api: NewAPI(core), hub: hub}
	f.api.Register(f.reg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.session = rpc.NewSession(ctx, "test", func(ctx context.Context, v any) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.pushed = append(f.pushed, v.(rpc.Notification))
		return nil
	})
	f.api.OpenSession(f.session)
	f.ctx = rpc.WithSession(ctx, f.session)
	return f
}

func (f *fixture) call(t *testing.T, method string, params any) rpc.Response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	return f.reg.Dispatch(f.ctx, rpc.Request{Method: method, ID: json.RawMessage(`1`), Params: raw})
}

func (f *fixture) result(t *testing.T, method string, params any, out any) {
	t.Helper()
	resp := f.call(t, method, params)
	require.True(t, resp.OK, "%s: %+v", method, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, out))
}

func (f *fixture) notifications() []rpc.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rpc.Notification(nil), f.pushed...)
}

func TestReadAccessors(t *testing.T) {
	f := newFixture(t, "")

	var balance string
	f.result(t, "balanceAt", map[string]string{"Address": watched}, &balance)
	assert.Equal(t, "0x64", balance)
	f.result(t, "balanceAt", map[string]string{"Address": "0xmissing"}, &balance)
	assert.Equal(t, ZeroValue, balance)

	var slot string
	f.result(t, "storageAt", map[string]string{"Address": watched, "Slot": "0x0"}, &slot)
	assert.Equal(t, "0x2a", slot)
	f.result(t, "storageAt", map[string]string{"Address": watched, "Slot": "0x5"}, &slot)
	assert.Equal(t, ZeroValue, slot)

	resp := f.call(t, "storage", map[string]string{"Address": "0xmissing"})
	require.True(t, resp.OK)
	assert.Equal(t, "null", string(resp.Result))

	var acc ledger.Account
	f.result(t, "account", map[string]string{"Address": watched}, &acc)
	assert.Equal(t, "0x64", acc.Balance)

	var root string
	f.result(t, "rootContract", nil, &root)
	assert.Equal(t, ZeroValue, root)
}

func TestMissingParamsAreInvalid(t *testing.T) {
	f := newFixture(t, "0xroot")
	for _, method := range []string{"balanceAt", "storageAt", "storage", "account", "readFile", "watchAccount", "transact"} {
		resp := f.call(t, method, nil)
		require.NotNil(t, resp.Error, method)
		assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code, method)
	}
	resp := f.call(t, "balanceAt", map[string]string{"Other": "x"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code)
}

func TestFilesAndDocuments(t *testing.T) {
	f := newFixture(t, "0xroot")

	var hash string
	f.result(t, "writeFile", map[string]any{"Data": "aGVsbG8=", "Base64": true}, &hash)
	require.NotEmpty(t, hash)

	var text string
	f.result(t, "readFile", map[string]string{"Hash": hash}, &text)
	assert.Equal(t, "hello", text)
	f.result(t, "readFile", map[string]string{"Hash": "0xnothing"}, &text)
	assert.Equal(t, "", text)

	resp := f.call(t, "writeFile", map[string]any{"Data": "%%%", "Base64": true})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code)

	var pdf []byte
	f.result(t, "markdownToPDF", map[string]any{"Markdown": "# Title", "Params": map[string]any{"a": 1}}, &pdf)
	assert.Empty(t, pdf)

	f.result(t, "rootContract", nil, &text)
	assert.Equal(t, "0xroot", text)
}

func TestTransactShapesResult(t *testing.T) {
	f := newFixture(t, "")

	var res txintent.Result
	f.result(t, "transact", map[string]string{"Data": "code"}, &res)
	assert.True(t, res.Compiled)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Address)

	f.result(t, "transact", map[string]string{"Recipient": watched, "Value": "5"}, &res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "insufficient")

	f.result(t, "transact", map[string]string{"Recipient": watched, "Data": "a\nb"}, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "0xfeed", res.Hash)
}

func TestWatchAccountPushesOnBlock(t *testing.T) {
	f := newFixture(t, "")

	var w watchResult
	f.result(t, "watchAccount", map[string]string{"Address": "0x00000000000000000000000000000000000000AA"}, &w)
	assert.True(t, w.Watching)
	assert.Equal(t, watched, w.Address)

	f.hub.Publish(events.SourceLedger, events.EventNewBlock, ledger.Block{
		Number: 1,
		Transactions: []ledger.Transaction{
			{Sender: watched, Recipient: "0x01"},
			{Sender: "0x02", Recipient: watched},
		},
	})
	require.Eventually(t, func() bool { return len(f.notifications()) == 1 }, 2*time.Second, 10*time.Millisecond)
	note := f.notifications()[0]
	assert.Equal(t, EventAccountChanged, note.Event)
	assert.Equal(t, addressParams{Address: watched}, note.Params)

	f.result(t, "unwatchAccount", map[string]string{"Address": watched}, &w)
	assert.False(t, w.Watching)

	resp := f.call(t, "watchAccount", map[string]string{"Address": "not-an-address"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidParams, resp.Error.Code)
}

func TestCloseSessionUnsubscribes(t *testing.T) {
	f := newFixture(t, "")
	assert.Equal(t, 1, f.api.Sessions())
	assert.Equal(t, 1, f.hub.Len())

	f.api.CloseSession(f.session)
	assert.Equal(t, 0, f.api.Sessions())
	assert.Equal(t, 0, f.hub.Len())

	resp := f.call(t, "watchAccount", map[string]string{"Address": watched})
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeInvalidRequest, resp.Error.Code)
}

func TestMethodsListing(t *testing.T) {
	f := newFixture(t, "")
	var methods []string
	f.result(t, "rpc.methods", nil, &methods)
	assert.Contains(t, methods, "transact")
	assert.Contains(t, methods, "watchAccount")
	assert.Contains(t, methods, "markdownToPDF")
	assert.IsIncreasing(t, methods)
}
