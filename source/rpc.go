package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mr-tron/base58"

	"shredlead/clock"
	"shredlead/types"
	"shredlead/utils"
)

const (
	rpcDefaultRetryTimes    = 5
	rpcDefaultRetryInterval = 100 * time.Millisecond
	rpcRequestTimeout       = 2 * time.Second
	rpcPollInterval         = 400 * time.Millisecond
)

// RpcSource polls a JSON-RPC endpoint for newly confirmed slots and emits a
// DecodedTx for each signature observed in their blocks (spec.md §4.5 rpc
// variant). The recv_time is the monotonic time this host received the
// response, never a node-reported timestamp.
type RpcSource struct {
	id  types.SourceId
	url string
	log *slog.Logger

	lastSlot uint64
	out      chan types.DecodedTx
	stop     chan struct{}
}

// NewRpcSource constructs a polling RPC baseline source.
func NewRpcSource(name, url string, log *slog.Logger) *RpcSource {
	return &RpcSource{
		id:   types.SourceId{Name: name, Kind: types.SourceKindRPC},
		url:  url,
		log:  log,
		out:  make(chan types.DecodedTx, 4096),
		stop: make(chan struct{}),
	}
}

func (s *RpcSource) Id() types.SourceId          { return s.id }
func (s *RpcSource) Out() <-chan types.DecodedTx { return s.out }
func (s *RpcSource) Close() error                { close(s.stop); return nil }

// Run drives the poll loop until Close is called. Transport failures are
// TransientSourceErrors: retried with capped exponential backoff, never
// propagated to the core (spec.md §7).
func (s *RpcSource) Run() {
	backoff := rpcDefaultRetryInterval
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		slot, err := s.getSlot()
		if err != nil {
			s.logTransient("getSlot", err)
			s.sleepBackoff(&backoff)
			continue
		}
		backoff = rpcDefaultRetryInterval

		if s.lastSlot == 0 {
			s.lastSlot = slot
		}
		for next := s.lastSlot + 1; next <= slot; next++ {
			if err := s.processSlot(next); err != nil {
				s.logTransient("processSlot", err)
				continue
			}
			s.lastSlot = next
		}

		time.Sleep(rpcPollInterval)
	}
}

func (s *RpcSource) sleepBackoff(backoff *time.Duration) {
	time.Sleep(*backoff)
	*backoff *= 2
	if *backoff > 30*time.Second {
		*backoff = 30 * time.Second
	}
}

func (s *RpcSource) logTransient(op string, err error) {
	if s.log != nil {
		s.log.Warn("rpc source transient error", "source", s.id.Name, "op", op, "err", err)
	}
}

type rpcResponse[T any] struct {
	Result T              `json:"result"`
	Error  *rpcErrorField `json:"error"`
}

type rpcErrorField struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *RpcSource) getSlot() (uint64, error) {
	var resp rpcResponse[uint64]
	body := map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "getSlot",
		"params": []any{map[string]any{"commitment": "confirmed"}},
	}
	if err := s.doPostWithRetry(body, &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

type rpcBlock struct {
	Transactions []struct {
		Transaction struct {
			Signatures []string `json:"signatures"`
			Message    struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	} `json:"transactions"`
}

func (s *RpcSource) processSlot(slot uint64) error {
	var resp rpcResponse[*rpcBlock]
	body := map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "getBlock",
		"params": []any{slot, map[string]any{
			"encoding":                       "json",
			"transactionDetails":             "full",
			"maxSupportedTransactionVersion": 0,
			"commitment":                     "confirmed",
		}},
	}
	if err := s.doPostWithRetry(body, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		if utils.IsSkippedBlockError(resp.Error.Message) {
			return nil
		}
		return fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.Result == nil {
		return nil // block skipped or missing
	}

	recvTime := clock.Now()
	for _, tx := range resp.Result.Transactions {
		if len(tx.Transaction.Signatures) == 0 {
			continue
		}
		sigBytes, err := base58.Decode(tx.Transaction.Signatures[0])
		if err != nil || len(sigBytes) != 64 {
			continue
		}
		var sig types.Signature
		copy(sig[:], sigBytes)

		programs := types.NewProgramSet()
		for _, key := range tx.Transaction.Message.AccountKeys {
			programs.Add(key)
		}

		select {
		case s.out <- types.DecodedTx{SourceId: s.id, Slot: slot, Sig: sig, RecvTime: recvTime, Programs: programs}:
		default:
		}
	}
	return nil
}

func (s *RpcSource) doPostWithRetry(body any, result any) error {
	var lastErr error
	for i := 0; i < rpcDefaultRetryTimes; i++ {
		lastErr = s.doPost(body, result)
		if lastErr == nil {
			return nil
		}
		time.Sleep(rpcDefaultRetryInterval)
	}
	return fmt.Errorf("rpc request failed after %d attempts: %w", rpcDefaultRetryTimes, lastErr)
}

func (s *RpcSource) doPost(body any, result any) error {
	ctx, cancel := context.WithTimeout(context.Background(), rpcRequestTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rpc returned status %d: %s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
