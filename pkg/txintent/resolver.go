// Package txintent infers which ledger operation a sparse transaction request
// describes and performs it.
package txintent

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rexliu/dappd/pkg/ledger"
)

// Kind is the inferred category of a transaction request.
type Kind int

const (
	KindCreate Kind = iota
	KindTransfer
	KindMessage
	KindTransact
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindTransfer:
		return "transfer"
	case KindMessage:
		return "message"
	case KindTransact:
		return "transact"
	default:
		return "unknown"
	}
}

// Intent holds the optional fields of a transaction request. The empty
// string means the field is absent.
type Intent struct {
	Recipient string
	Value     string
	GasLimit  string
	GasPrice  string
	Payload   string
}

// Classify picks the kind for in. Only the emptiness of fields matters and
// the checks run in a fixed order: recipient, payload, value.
func Classify(in Intent) Kind {
	switch {
	case in.Recipient == "":
		return KindCreate
	case in.Payload == "":
		return KindTransfer
	case in.Value == "":
		return KindMessage
	default:
		return KindTransact
	}
}

// SplitArgs splits payload on newlines and trims every entry. Trailing empty
// entries are dropped; interior ones are kept so argument positions hold.
func SplitArgs(payload string) []string {
	parts := strings.Split(payload, "\n")
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		args = append(args, strings.TrimSpace(p))
	}
	for len(args) > 0 && args[len(args)-1] == "" {
		args = args[:len(args)-1]
	}
	return args
}

// UnsupportedTransactMessage is reported for fully parameterised transactions.
const UnsupportedTransactMessage = "generic transactions are not supported"

// Result is the outcome of one resolution. It is always fully populated.
type Result struct {
	Kind     string `json:"Kind"`
	Compiled bool   `json:"Compiled"`
	Success  bool   `json:"Success"`
	Error    string `json:"Error"`
	Address  string `json:"Address,omitempty"`
	Hash     string `json:"Hash,omitempty"`
}

// Ledger is the subset of the ledger backend the resolver writes to.
type Ledger interface {
	DeployScript(ctx context.Context, source string) (string, error)
	SubmitTransfer(ctx context.Context, recipient, value string) (ledger.Receipt, error)
	SubmitMessage(ctx context.Context, recipient string, args []string) (ledger.Receipt, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithTimeout bounds every backend call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// Resolver classifies intents and submits them to a ledger.
type Resolver struct {
	ledger  Ledger
	logger  zerolog.Logger
	timeout time.Duration
}

// NewResolver returns a resolver writing to l.
func NewResolver(l Ledger, opts ...Option) *Resolver {
	r := &Resolver{ledger: l, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve classifies in and performs the matching ledger call. Backend
// failures are reported in the result, never returned.
func (r *Resolver) Resolve(ctx context.Context, in Intent) Result {
	kind := Classify(in)
	res := Result{Kind: kind.String()}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var err error
	switch kind {
	case KindCreate:
		var addr string
		if addr, err = r.ledger.DeployScript(ctx, in.Payload); err == nil {
			res.Compiled = true
			res.Address = addr
		}
	case KindTransfer:
		var receipt ledger.Receipt
		if receipt, err = r.ledger.SubmitTransfer(ctx, in.Recipient, in.Value); err == nil {
			res.Hash = receipt.Hash
		}
	case KindMessage:
		var receipt ledger.Receipt
		if receipt, err = r.ledger.SubmitMessage(ctx, in.Recipient, SplitArgs(in.Payload)); err == nil {
			res.Hash = receipt.Hash
		}
	case KindTransact:
		res.Error = UnsupportedTransactMessage
		r.logger.Warn().Str("recipient", in.Recipient).Msg("generic transaction ignored")
		return res
	}

	if err != nil {
		res.Error = err.Error()
		r.logger.Warn().Err(err).Str("kind", res.Kind).Str("recipient", in.Recipient).Msg("transaction failed")
		return res
	}
	res.Success = true
	r.logger.Info().Str("kind", res.Kind).Str("address", res.Address).Str("hash", res.Hash).Msg("transaction submitted")
	return res
}
