package ledger

import (
	"context"
	"database/sql"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	_ "modernc.org/sqlite"
)

// ChainConfig seeds a development chain.
type ChainConfig struct {
	Sender         string
	Coinbase       string
	GenesisBalance string
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithOnBlock registers fn to receive every mined block after commit.
func WithOnBlock(fn func(Block)) ChainOption {
	return func(c *Chain) { c.onBlock = fn }
}

// Chain is a single-node development ledger stored in SQLite. All
// submissions are signed by the configured sender and each one is mined into
// its own block with the configured coinbase.
type Chain struct {
	db       *sql.DB
	path     string
	sender   string
	coinbase string
	genesis  *big.Int
	onBlock  func(Block)

	mu sync.Mutex
}

var _ Backend = (*Chain)(nil)

// OpenChain opens (creating if needed) the chain database at path.
func OpenChain(path string, cfg ChainConfig, opts ...ChainOption) (*Chain, error) {
	sender, err := NormalizeAddress(cfg.Sender)
	if err != nil {
		return nil, errors.Wrap(err, "sender")
	}
	coinbase, err := NormalizeAddress(cfg.Coinbase)
	if err != nil {
		return nil, errors.Wrap(err, "coinbase")
	}
	genesis, err := ParseValue(cfg.GenesisBalance)
	if err != nil {
		return nil, errors.Wrap(err, "genesis balance")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	c := &Chain{db: db, path: path, sender: sender, coinbase: coinbase, genesis: genesis}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Path returns the underlying SQLite file path.
func (c *Chain) Path() string {
	return c.path
}

// Sender returns the address that signs submissions.
func (c *Chain) Sender() string {
	return c.sender
}

// Close releases database resources.
func (c *Chain) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Init applies pragmas and schema and funds the sender at genesis.
func (c *Chain) Init(ctx context.Context) error {
	if c == nil || c.db == nil {
		return errors.New("nil chain")
	}
	pragmas := []string{
		"PRAGMA journal_mode = DELETE;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply pragma %q", stmt)
		}
	}
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO meta(key,value) VALUES ('schemaVersion','1');`,
		`CREATE TABLE IF NOT EXISTS accounts (
			address TEXT PRIMARY KEY,
			balance TEXT NOT NULL,
			nonce INTEGER NOT NULL DEFAULT 0,
			code TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS storage (
			address TEXT NOT NULL REFERENCES accounts(address),
			slot TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (address, slot)
		);`,
		`CREATE TABLE IF NOT EXISTS blocks (
			number INTEGER PRIMARY KEY,
			hash TEXT NOT NULL UNIQUE,
			parent_hash TEXT NOT NULL,
			coinbase TEXT NOT NULL,
			time INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			hash TEXT PRIMARY KEY,
			block_number INTEGER NOT NULL REFERENCES blocks(number),
			kind TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			coinbase TEXT NOT NULL,
			value TEXT NOT NULL,
			contract TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_block ON transactions(block_number);`,
	}
	for _, stmt := range ddl {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts(address, balance, nonce, code) VALUES (?, ?, 0, '')`,
		c.sender, FormatValue(c.genesis))
	return err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadAccount(ctx context.Context, q querier, addr string) (Account, error) {
	var acc Account
	err := q.QueryRowContext(ctx,
		`SELECT address, balance, nonce, code FROM accounts WHERE address = ?`, addr,
	).Scan(&acc.Address, &acc.Balance, &acc.Nonce, &acc.Code)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, errors.Wrapf(ErrNotFound, "account %s", addr)
	}
	return acc, err
}

// Account returns the state of address.
func (c *Chain) Account(ctx context.Context, address string) (Account, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Account{}, err
	}
	return loadAccount(ctx, c.db, addr)
}

// StorageAt returns the value stored at slot. Slots are integers in decimal or hex.
func (c *Chain) StorageAt(ctx context.Context, address, slot string) (string, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return "", err
	}
	key, err := ParseValue(slot)
	if err != nil {
		return "", errors.Wrap(err, "slot")
	}
	var value string
	err = c.db.QueryRowContext(ctx,
		`SELECT value FROM storage WHERE address = ? AND slot = ?`, addr, FormatValue(key),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrapf(ErrNotFound, "slot %s of %s", FormatValue(key), addr)
	}
	return value, err
}

// Storage returns every slot of address.
func (c *Chain) Storage(ctx context.Context, address string) (map[string]string, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if _, err := loadAccount(ctx, c.db, addr); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, `SELECT slot, value FROM storage WHERE address = ?`, addr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var slot, value string
		if err := rows.Scan(&slot, &value); err != nil {
			return nil, err
		}
		out[slot] = value
	}
	return out, rows.Err()
}

// DeployScript stores source as the code of a new contract account.
func (c *Chain) DeployScript(ctx context.Context, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", ErrEmptyScript
	}
	var addr string
	_, err := c.submit(ctx, func(tx *sql.Tx, sender Account) (Transaction, string, error) {
		addr = contractAddress(sender.Address, sender.Nonce)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts(address, balance, nonce, code) VALUES (?, '0x0', 0, ?)`, addr, source); err != nil {
			return Transaction{}, "", errors.Wrap(err, "create contract account")
		}
		return Transaction{
			Kind:     TxCreate,
			Value:    "0x0",
			Contract: addr,
			Hash:     txHash(TxCreate, sender.Address, "", sender.Nonce, "0x0", []byte(source)),
		}, source, nil
	})
	if err != nil {
		return "", err
	}
	return addr, nil
}

// SubmitTransfer moves value from the sender to recipient.
func (c *Chain) SubmitTransfer(ctx context.Context, recipient, value string) (Receipt, error) {
	to, err := NormalizeAddress(recipient)
	if err != nil {
		return Receipt{}, err
	}
	amount, err := ParseValue(value)
	if err != nil {
		return Receipt{}, err
	}
	return c.submit(ctx, func(tx *sql.Tx, sender Account) (Transaction, string, error) {
		balance, err := ParseValue(sender.Balance)
		if err != nil {
			return Transaction{}, "", err
		}
		if balance.Cmp(amount) < 0 {
			return Transaction{}, "", errors.Wrapf(ErrInsufficientBalance,
				"have %s, need %s", FormatValue(balance), FormatValue(amount))
		}
		if err := credit(ctx, tx, sender.Address, new(big.Int).Neg(amount)); err != nil {
			return Transaction{}, "", err
		}
		if err := credit(ctx, tx, to, amount); err != nil {
			return Transaction{}, "", err
		}
		v := FormatValue(amount)
		return Transaction{
			Kind:      TxTransfer,
			Recipient: to,
			Value:     v,
			Hash:      txHash(TxTransfer, sender.Address, to, sender.Nonce, v, nil),
		}, "", nil
	})
}

// SubmitMessage calls the contract at recipient. The dev chain has no VM:
// args are written to storage slots 0..n-1 of the contract.
func (c *Chain) SubmitMessage(ctx context.Context, recipient string, args []string) (Receipt, error) {
	to, err := NormalizeAddress(recipient)
	if err != nil {
		return Receipt{}, err
	}
	return c.submit(ctx, func(tx *sql.Tx, sender Account) (Transaction, string, error) {
		target, err := loadAccount(ctx, tx, to)
		if errors.Is(err, ErrNotFound) || (err == nil && target.Code == "") {
			return Transaction{}, "", errors.Wrapf(ErrNoContract, "%s", to)
		}
		if err != nil {
			return Transaction{}, "", err
		}
		for i, arg := range args {
			slot := FormatValue(big.NewInt(int64(i)))
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO storage(address, slot, value) VALUES (?, ?, ?)
				ON CONFLICT(address, slot) DO UPDATE SET value = excluded.value`, to, slot, arg); err != nil {
				return Transaction{}, "", errors.Wrapf(err, "write slot %s", slot)
			}
		}
		data := strings.Join(args, "\n")
		return Transaction{
			Kind:      TxMessage,
			Recipient: to,
			Value:     "0x0",
			Hash:      txHash(TxMessage, sender.Address, to, sender.Nonce, "0x0", []byte(data)),
		}, data, nil
	})
}

// BlockByNumber loads a mined block with its transactions.
func (c *Chain) BlockByNumber(ctx context.Context, number uint64) (Block, error) {
	b := Block{Number: number}
	err := c.db.QueryRowContext(ctx,
		`SELECT hash, coinbase, time FROM blocks WHERE number = ?`, number,
	).Scan(&b.Hash, &b.Coinbase, &b.Time)
	if errors.Is(err, sql.ErrNoRows) {
		return Block{}, errors.Wrapf(ErrNotFound, "block %d", number)
	}
	if err != nil {
		return Block{}, err
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT hash, kind, sender, recipient, coinbase, value, contract
		FROM transactions WHERE block_number = ? ORDER BY rowid`, number)
	if err != nil {
		return Block{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.Hash, &t.Kind, &t.Sender, &t.Recipient, &t.Coinbase, &t.Value, &t.Contract); err != nil {
			return Block{}, err
		}
		b.Transactions = append(b.Transactions, t)
	}
	return b, rows.Err()
}

type buildFunc func(tx *sql.Tx, sender Account) (Transaction, string, error)

// submit runs build inside a transaction, bumps the sender nonce and mines
// the resulting transaction into a new block.
func (c *Chain) submit(ctx context.Context, build buildFunc) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var block Block
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		sender, err := loadAccount(ctx, tx, c.sender)
		if err != nil {
			return errors.Wrap(err, "load sender")
		}
		txn, data, err := build(tx, sender)
		if err != nil {
			return err
		}
		txn.Sender = sender.Address
		txn.Coinbase = c.coinbase
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET nonce = nonce + 1 WHERE address = ?`, sender.Address); err != nil {
			return errors.Wrap(err, "bump nonce")
		}
		block, err = c.mine(ctx, tx, txn, data)
		return err
	})
	if err != nil {
		return Receipt{}, err
	}
	if c.onBlock != nil {
		c.onBlock(block)
	}
	return Receipt{Hash: block.Transactions[0].Hash, BlockNumber: block.Number}, nil
}

func (c *Chain) mine(ctx context.Context, tx *sql.Tx, txn Transaction, data string) (Block, error) {
	var (
		number uint64
		parent string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT number, hash FROM blocks ORDER BY number DESC LIMIT 1`,
	).Scan(&number, &parent)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Block{}, errors.Wrap(err, "load head")
	}
	number++
	block := Block{
		Number:       number,
		Hash:         blockHash(parent, number, txn.Hash),
		Coinbase:     c.coinbase,
		Time:         time.Now().Unix(),
		Transactions: []Transaction{txn},
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO blocks(number, hash, parent_hash, coinbase, time) VALUES (?, ?, ?, ?, ?)`,
		block.Number, block.Hash, parent, block.Coinbase, block.Time); err != nil {
		return Block{}, errors.Wrap(err, "insert block")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transactions(hash, block_number, kind, sender, recipient, coinbase, value, contract, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.Hash, block.Number, string(txn.Kind), txn.Sender, txn.Recipient, txn.Coinbase, txn.Value, txn.Contract, data); err != nil {
		return Block{}, errors.Wrap(err, "insert transaction")
	}
	return block, nil
}

func (c *Chain) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// credit adds delta to the balance of addr, creating the account if needed.
func credit(ctx context.Context, tx *sql.Tx, addr string, delta *big.Int) error {
	acc, err := loadAccount(ctx, tx, addr)
	switch {
	case errors.Is(err, ErrNotFound):
		acc = Account{Address: addr, Balance: "0x0"}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounts(address, balance, nonce, code) VALUES (?, '0x0', 0, '')`, addr); err != nil {
			return errors.Wrapf(err, "create account %s", addr)
		}
	case err != nil:
		return err
	}
	balance, err := ParseValue(acc.Balance)
	if err != nil {
		return err
	}
	balance.Add(balance, delta)
	if balance.Sign() < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "negative balance for %s", addr)
	}
	_, err = tx.ExecContext(ctx, `UPDATE accounts SET balance = ? WHERE address = ?`, FormatValue(balance), addr)
	return err
}
