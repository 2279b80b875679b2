package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"bscwallet/internal/chain"
	"bscwallet/internal/token"
	"bscwallet/internal/txsend"
)

// amountNames is the parameter-name vocabulary that marks an integer
// argument as a human-readable token amount needing decimal scaling.
var amountNames = map[string]bool{
	"amount":    true,
	"value":     true,
	"tokens":    true,
	"quantity":  true,
	"supply":    true,
	"balance":   true,
	"allowance": true,
}

// approvalNames marks functions that move tokens on the caller's behalf and
// therefore need an allowance in place first.
var approvalNames = map[string]bool{
	"transferfrom":   true,
	"burnfrom":       true,
	"spendallowance": true,
}

const defaultSettleDelay = 5 * time.Second

// FunctionDescriptor is one contract function, resolved once from the ABI
// and cached. AmountArgs lists the input indices that take human-readable
// amounts; NeedsApproval marks spend-on-behalf functions.
type FunctionDescriptor struct {
	Name          string
	Method        abi.Method
	IsConstant    bool
	AmountArgs    []int
	NeedsApproval bool
}

type binding struct {
	abi   abi.ABI
	funcs map[string]FunctionDescriptor
}

// Options tunes argument handling for one invocation.
type Options struct {
	// Decimals scales amount-named integer arguments. Ignored when
	// RawAmounts is set.
	Decimals uint8
	// RawAmounts disables the name-based amount heuristic: every integer
	// argument is taken as already being in raw units. The heuristic is
	// best effort for arbitrary contracts, so this is the override path.
	RawAmounts bool
	// GasLimit of zero means estimate.
	GasLimit uint64
}

// Invoker dispatches arbitrary contract functions from string arguments.
// Read functions go through eth_call; state-mutating functions go through
// the broadcaster, with an automatic approve step in front of functions
// that spend on the caller's behalf.
type Invoker struct {
	client      chain.Client
	broadcaster *txsend.Broadcaster
	logger      *slog.Logger
	settleDelay time.Duration

	mu       sync.Mutex
	bindings map[common.Address]*binding
}

func NewInvoker(client chain.Client, broadcaster *txsend.Broadcaster, logger *slog.Logger) *Invoker {
	return &Invoker{
		client:      client,
		broadcaster: broadcaster,
		logger:      logger,
		settleDelay: defaultSettleDelay,
		bindings:    make(map[common.Address]*binding),
	}
}

// Bind parses a contract's ABI JSON and caches a descriptor per function.
// Rebinding an address replaces its descriptors.
func (inv *Invoker) Bind(contract common.Address, abiJSON string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return fmt.Errorf("parse abi for %s: %w", contract.Hex(), err)
	}
	b := &binding{abi: parsed, funcs: make(map[string]FunctionDescriptor, len(parsed.Methods))}
	for name, method := range parsed.Methods {
		b.funcs[strings.ToLower(name)] = describe(name, method)
	}
	inv.mu.Lock()
	inv.bindings[contract] = b
	inv.mu.Unlock()
	return nil
}

// Descriptor returns the cached descriptor for a bound contract function.
func (inv *Invoker) Descriptor(contract common.Address, function string) (FunctionDescriptor, error) {
	inv.mu.Lock()
	b, ok := inv.bindings[contract]
	inv.mu.Unlock()
	if !ok {
		return FunctionDescriptor{}, fmt.Errorf("contract %s is not bound", contract.Hex())
	}
	desc, ok := b.funcs[strings.ToLower(function)]
	if !ok {
		return FunctionDescriptor{}, fmt.Errorf("contract %s has no function %q", contract.Hex(), function)
	}
	return desc, nil
}

func describe(name string, method abi.Method) FunctionDescriptor {
	lower := strings.ToLower(name)
	desc := FunctionDescriptor{
		Name:          name,
		Method:        method,
		IsConstant:    method.StateMutability == "view" || method.StateMutability == "pure",
		NeedsApproval: approvalNames[lower],
	}
	for i, input := range method.Inputs {
		if input.Type.T != abi.UintTy && input.Type.T != abi.IntTy {
			continue
		}
		if amountNames[strings.ToLower(input.Name)] || (lower == "burnfrom" && i == 1) {
			desc.AmountArgs = append(desc.AmountArgs, i)
		}
	}
	return desc
}

// Call invokes a read-only function and returns its decoded outputs.
func (inv *Invoker) Call(ctx context.Context, contract common.Address, function string, args []string, opts Options) ([]any, error) {
	desc, err := inv.Descriptor(contract, function)
	if err != nil {
		return nil, err
	}
	if !desc.IsConstant {
		return nil, fmt.Errorf("%s is not a read-only function, use Send", desc.Name)
	}
	data, err := inv.pack(desc, args, opts)
	if err != nil {
		return nil, err
	}
	out, err := inv.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", desc.Name, err)
	}
	return desc.Method.Outputs.UnpackValues(out)
}

// Send invokes a state-mutating function through the broadcaster. Functions
// that spend on the caller's behalf get an allowance check first: a
// sufficient existing allowance skips the approve transaction entirely.
func (inv *Invoker) Send(ctx context.Context, contract common.Address, function string, args []string, signer txsend.Signer, opts Options) txsend.Outcome {
	desc, err := inv.Descriptor(contract, function)
	if err != nil {
		return txsend.Fail(txsend.ReasonNetwork, "%v", err)
	}
	if desc.IsConstant {
		return txsend.Fail(txsend.ReasonNetwork, "%s is read-only, use Call", desc.Name)
	}
	data, err := inv.pack(desc, args, opts)
	if err != nil {
		return txsend.Fail(txsend.ReasonNetwork, "%v", err)
	}

	if desc.NeedsApproval {
		if out, ok := inv.ensureAllowance(ctx, contract, desc, args, signer, opts); !ok {
			return out
		}
	}

	return inv.broadcaster.Submit(ctx, txsend.Request{
		From:     signer.Address(),
		To:       contract,
		Data:     data,
		GasLimit: opts.GasLimit,
	}, signer)
}

// ensureAllowance checks allowance(owner, caller) on the target token and
// submits an approve when it falls short. Returns ok=false with the outcome
// that should be surfaced when the flow cannot continue.
func (inv *Invoker) ensureAllowance(ctx context.Context, contract common.Address, desc FunctionDescriptor, args []string, signer txsend.Signer, opts Options) (txsend.Outcome, bool) {
	caller := signer.Address()

	owner := caller
	if len(desc.Method.Inputs) > 0 && desc.Method.Inputs[0].Type.T == abi.AddressTy && len(args) > 0 {
		if !common.IsHexAddress(args[0]) {
			return txsend.Fail(txsend.ReasonNetwork, "invalid owner address %q", args[0]), false
		}
		owner = common.HexToAddress(args[0])
	}

	amount, err := inv.amountOf(desc, args, opts)
	if err != nil {
		return txsend.Fail(txsend.ReasonNetwork, "%v", err), false
	}
	if amount == nil {
		// No amount argument to check against; let the contract decide.
		return txsend.Outcome{}, true
	}

	out, err := inv.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: token.AllowanceCallData(owner, caller),
	}, nil)
	if err != nil {
		return txsend.Fail(txsend.ReasonNetwork, "allowance check: %v", err), false
	}
	allowance, err := token.DecodeUint256(out)
	if err != nil {
		return txsend.Fail(txsend.ReasonNetwork, "decode allowance: %v", err), false
	}
	if allowance.Cmp(amount) >= 0 {
		inv.logger.Info("existing allowance covers the spend, skipping approve",
			"owner", owner.Hex(), "spender", caller.Hex(), "allowance", allowance.String())
		return txsend.Outcome{}, true
	}
	if owner != caller {
		return txsend.Fail(txsend.ReasonNetwork,
			"allowance from %s to %s is %s but %s is needed; the owner must approve first",
			owner.Hex(), caller.Hex(), allowance, amount), false
	}

	approveData, err := token.ApproveCallData(caller, amount)
	if err != nil {
		return txsend.Fail(txsend.ReasonNetwork, "encode approve: %v", err), false
	}
	inv.logger.Info("submitting approve before spend",
		"token", contract.Hex(), "spender", caller.Hex(), "amount", amount.String())
	approval := inv.broadcaster.Submit(ctx, txsend.Request{
		From: caller,
		To:   contract,
		Data: approveData,
	}, signer)
	if approval.Status == txsend.StatusFailed {
		return approval, false
	}

	// Give the node a moment to index the approval before the spend lands.
	select {
	case <-ctx.Done():
		return txsend.Fail(txsend.ReasonNetwork, "cancelled: %v", ctx.Err()), false
	case <-time.After(inv.settleDelay):
	}
	return txsend.Outcome{}, true
}

// amountOf returns the raw-unit value of the first amount-classified
// argument, or nil when the function has none.
func (inv *Invoker) amountOf(desc FunctionDescriptor, args []string, opts Options) (*big.Int, error) {
	if len(desc.AmountArgs) == 0 {
		return nil, nil
	}
	i := desc.AmountArgs[0]
	if i >= len(args) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", desc.Name, len(desc.Method.Inputs), len(args))
	}
	if opts.RawAmounts {
		v, ok := new(big.Int).SetString(args[i], 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", args[i])
		}
		return v, nil
	}
	return token.ParseUnits(args[i], opts.Decimals)
}

func (inv *Invoker) pack(desc FunctionDescriptor, args []string, opts Options) ([]byte, error) {
	if len(args) != len(desc.Method.Inputs) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", desc.Name, len(desc.Method.Inputs), len(args))
	}
	amountArg := make(map[int]bool, len(desc.AmountArgs))
	for _, i := range desc.AmountArgs {
		amountArg[i] = true
	}
	values := make([]any, len(args))
	for i, raw := range args {
		scale := amountArg[i] && !opts.RawAmounts
		v, err := coerce(desc.Method.Inputs[i], raw, scale, opts.Decimals)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d (%s): %w", desc.Name, i, desc.Method.Inputs[i].Name, err)
		}
		values[i] = v
	}
	packed, err := desc.Method.Inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", desc.Name, err)
	}
	return append(append([]byte{}, desc.Method.ID...), packed...), nil
}

// coerce turns a string argument into the Go value geth's ABI packer wants
// for the declared type.
func coerce(input abi.Argument, raw string, scale bool, decimals uint8) (any, error) {
	switch input.Type.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("invalid address %q", raw)
		}
		return common.HexToAddress(raw), nil

	case abi.UintTy, abi.IntTy:
		var v *big.Int
		if scale {
			parsed, err := token.ParseUnits(raw, decimals)
			if err != nil {
				return nil, err
			}
			v = parsed
		} else {
			parsed, ok := new(big.Int).SetString(raw, 10)
			if !ok {
				return nil, fmt.Errorf("invalid integer %q", raw)
			}
			v = parsed
		}
		return sizedInt(v, input.Type)

	case abi.BoolTy:
		switch strings.ToLower(raw) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bool %q", raw)

	case abi.StringTy:
		return raw, nil

	case abi.BytesTy:
		return hexBytes(raw)

	case abi.FixedBytesTy:
		b, err := hexBytes(raw)
		if err != nil {
			return nil, err
		}
		if len(b) != input.Type.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", input.Type.Size, len(b))
		}
		if input.Type.Size == 32 {
			var out [32]byte
			copy(out[:], b)
			return out, nil
		}
		return nil, fmt.Errorf("unsupported fixed bytes size %d", input.Type.Size)

	default:
		return nil, fmt.Errorf("unsupported parameter type %s", input.Type.String())
	}
}

// sizedInt converts a big.Int to the width-specific Go type the packer
// expects for narrow integers.
func sizedInt(v *big.Int, t abi.Type) (any, error) {
	// The packer takes native Go ints only for the four standard widths;
	// everything else, uint24 included, goes through as *big.Int.
	switch t.Size {
	case 8, 16, 32, 64:
	default:
		return v, nil
	}
	if t.T == abi.UintTy {
		if v.Sign() < 0 || v.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range for uint%d", v, t.Size)
		}
		switch t.Size {
		case 8:
			return uint8(v.Uint64()), nil
		case 16:
			return uint16(v.Uint64()), nil
		case 32:
			return uint32(v.Uint64()), nil
		default:
			return v.Uint64(), nil
		}
	}
	if !v.IsInt64() {
		return nil, fmt.Errorf("%s out of range for int%d", v, t.Size)
	}
	switch t.Size {
	case 8:
		return int8(v.Int64()), nil
	case 16:
		return int16(v.Int64()), nil
	case 32:
		return int32(v.Int64()), nil
	default:
		return v.Int64(), nil
	}
}

func hexBytes(raw string) ([]byte, error) {
	s := strings.TrimPrefix(raw, "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex %q", raw)
	}
	b := common.FromHex(raw)
	if len(b) == 0 && len(s) > 0 {
		return nil, fmt.Errorf("invalid hex %q", raw)
	}
	return b, nil
}
