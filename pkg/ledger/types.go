// Package ledger defines the ledger collaborator consumed by the dapp API and
// a sqlite-backed development chain that implements it.
package ledger

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound indicates a missing account or storage slot.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAddress indicates an address that is not 0x followed by 40 hex digits.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidValue indicates an amount that is not a non-negative integer.
	ErrInvalidValue = errors.New("invalid value")
	// ErrInsufficientBalance indicates the sender cannot cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNoContract indicates a message sent to an account without code.
	ErrNoContract = errors.New("no contract at address")
	// ErrEmptyScript indicates a deployment without source.
	ErrEmptyScript = errors.New("empty script")
)

// Backend is the ledger collaborator.
type Backend interface {
	Account(ctx context.Context, address string) (Account, error)
	StorageAt(ctx context.Context, address, slot string) (string, error)
	Storage(ctx context.Context, address string) (map[string]string, error)
	DeployScript(ctx context.Context, source string) (string, error)
	SubmitTransfer(ctx context.Context, recipient, value string) (Receipt, error)
	SubmitMessage(ctx context.Context, recipient string, args []string) (Receipt, error)
}

// Account is the state of one address.
type Account struct {
	Address string `json:"Address"`
	Balance string `json:"Balance"`
	Nonce   uint64 `json:"Nonce"`
	Code    string `json:"Code,omitempty"`
}

// Receipt identifies a submitted transaction.
type Receipt struct {
	Hash        string `json:"Hash"`
	BlockNumber uint64 `json:"BlockNumber"`
}

// TxKind names the operation a transaction performed.
type TxKind string

const (
	TxCreate   TxKind = "create"
	TxTransfer TxKind = "transfer"
	TxMessage  TxKind = "message"
)

// Transaction is one entry of a mined block.
type Transaction struct {
	Hash      string `json:"Hash"`
	Kind      TxKind `json:"Kind"`
	Sender    string `json:"Sender"`
	Recipient string `json:"Recipient"`
	Coinbase  string `json:"Coinbase"`
	Value     string `json:"Value"`
	Contract  string `json:"Contract,omitempty"`
}

// Block is delivered to newBlock subscribers.
type Block struct {
	Number       uint64        `json:"Number"`
	Hash         string        `json:"Hash"`
	Coinbase     string        `json:"Coinbase"`
	Time         int64         `json:"Time"`
	Transactions []Transaction `json:"Transactions"`
}

// NormalizeAddress lower-cases addr and checks it is 0x plus 20 hex bytes.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		return "", errors.Wrapf(ErrInvalidAddress, "%q", addr)
	}
	if _, err := hex.DecodeString(addr[2:]); err != nil {
		return "", errors.Wrapf(ErrInvalidAddress, "%q", addr)
	}
	return addr, nil
}

// ParseValue accepts decimal or 0x-prefixed hex. The empty string is zero.
func ParseValue(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok || v.Sign() < 0 {
		return nil, errors.Wrapf(ErrInvalidValue, "%q", s)
	}
	return v, nil
}

// FormatValue renders v as 0x-prefixed hex.
func FormatValue(v *big.Int) string {
	return "0x" + v.Text(16)
}
