package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	sdkclient "github.com/cosmos/cosmos-sdk/client"
	clienttx "github.com/cosmos/cosmos-sdk/client/tx"
	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	cryptocodec "github.com/cosmos/cosmos-sdk/crypto/codec"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	authsigning "github.com/cosmos/cosmos-sdk/x/auth/signing"
	authtx "github.com/cosmos/cosmos-sdk/x/auth/tx"
	marketplacetypes "github.com/regen-network/regen-ledger/x/ecocredit/v3/marketplace/types/v1"
	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/config"
)

// signer builds, signs and submits transactions for the wallet. The chain
// rejects out-of-order account sequences, so every broadcast holds the
// sequence mutex from account query to submission; concurrent retirements
// queue here rather than race.
type signer struct {
	chainID  string
	gasLimit uint64
	feeCoin  sdk.Coin
	wallet   *Wallet
	rest     *client
	txConfig sdkclient.TxConfig
	mu       sync.Mutex
	log      zerolog.Logger
}

func newSigner(cfg config.Config, wallet *Wallet, rest *client, log zerolog.Logger) *signer {
	reg := codectypes.NewInterfaceRegistry()
	cryptocodec.RegisterInterfaces(reg)
	marketplacetypes.RegisterTypes(reg)
	cdc := codec.NewProtoCodec(reg)
	return &signer{
		chainID:  cfg.LedgerChainID,
		gasLimit: cfg.GasLimit,
		feeCoin:  sdk.NewInt64Coin(cfg.NativeDenom, cfg.FeeMicro),
		wallet:   wallet,
		rest:     rest,
		txConfig: authtx.NewTxConfig(cdc, authtx.DefaultSignModes),
		log:      log.With().Str("component", "ledger-signer").Logger(),
	}
}

type accountResp struct {
	Account struct {
		AccountNumber string `json:"account_number"`
		Sequence      string `json:"sequence"`
		BaseAccount   *struct {
			AccountNumber string `json:"account_number"`
			Sequence      string `json:"sequence"`
		} `json:"base_account"`
	} `json:"account"`
}

type broadcastResp struct {
	TxResponse struct {
		Height string `json:"height"`
		TxHash string `json:"txhash"`
		Code   uint32 `json:"code"`
		RawLog string `json:"raw_log"`
	} `json:"tx_response"`
}

// signAndBroadcast signs msgs with the wallet key, submits the transaction
// in sync mode and polls until it is committed. The returned result carries
// the chain's execution code; code != 0 means the messages failed on chain
// even though broadcast itself succeeded.
func (s *signer) signAndBroadcast(ctx context.Context, msgs []sdk.Msg) (*BroadcastResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accNum, seq, err := s.accountInfo(ctx)
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("msg_count", len(msgs)).Uint64("sequence", seq).Msg("building transaction")

	txBuilder := s.txConfig.NewTxBuilder()
	if err := txBuilder.SetMsgs(msgs...); err != nil {
		return nil, fmt.Errorf("set msgs: %w", err)
	}
	txBuilder.SetGasLimit(s.gasLimit)
	txBuilder.SetFeeAmount(sdk.NewCoins(s.feeCoin))

	pub := s.wallet.priv.PubKey()
	// First pass: a blank signature so the sign bytes include the pubkey.
	blank := signing.SignatureV2{
		PubKey:   pub,
		Data:     &signing.SingleSignatureData{SignMode: signing.SignMode_SIGN_MODE_DIRECT},
		Sequence: seq,
	}
	if err := txBuilder.SetSignatures(blank); err != nil {
		return nil, fmt.Errorf("set blank signature: %w", err)
	}

	signerData := authsigning.SignerData{
		Address:       s.wallet.Address(),
		ChainID:       s.chainID,
		AccountNumber: accNum,
		Sequence:      seq,
		PubKey:        pub,
	}
	sig, err := clienttx.SignWithPrivKey(ctx, signing.SignMode_SIGN_MODE_DIRECT, signerData,
		txBuilder, s.wallet.priv, s.txConfig, seq)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := txBuilder.SetSignatures(sig); err != nil {
		return nil, fmt.Errorf("set signature: %w", err)
	}

	txBytes, err := s.txConfig.TxEncoder()(txBuilder.GetTx())
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}

	res, err := s.broadcast(ctx, txBytes)
	if err != nil {
		return nil, err
	}
	if res.Code != 0 {
		s.log.Error().Str("tx_hash", res.TxHash).Uint32("code", res.Code).Str("raw_log", res.RawLog).
			Msg("transaction failed on chain")
		return res, nil
	}
	// Sync mode returns before inclusion; poll for the committed height.
	if committed := s.awaitCommit(ctx, res.TxHash); committed != nil {
		res = committed
	}
	s.log.Info().Str("tx_hash", res.TxHash).Int64("height", res.Height).Msg("transaction committed")
	return res, nil
}

func (s *signer) accountInfo(ctx context.Context) (accNum, seq uint64, err error) {
	var resp accountResp
	path := "/cosmos/auth/v1beta1/accounts/" + s.wallet.Address()
	if err := s.rest.getJSONUncached(ctx, path, &resp); err != nil {
		return 0, 0, err
	}
	numStr, seqStr := resp.Account.AccountNumber, resp.Account.Sequence
	if resp.Account.BaseAccount != nil {
		numStr, seqStr = resp.Account.BaseAccount.AccountNumber, resp.Account.BaseAccount.Sequence
	}
	accNum, err = strconv.ParseUint(numStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad account number %q", ErrRejected, numStr)
	}
	seq, err = strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad sequence %q", ErrRejected, seqStr)
	}
	return accNum, seq, nil
}

func (s *signer) broadcast(ctx context.Context, txBytes []byte) (*BroadcastResult, error) {
	body, _ := json.Marshal(map[string]string{
		"tx_bytes": base64.StdEncoding.EncodeToString(txBytes),
		"mode":     "BROADCAST_MODE_SYNC",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.rest.restURL+"/cosmos/tx/v1beta1/txs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.rest.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: broadcast: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: broadcast status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: broadcast status %d", ErrRejected, resp.StatusCode)
	}
	var out broadcastResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: broadcast: %v", ErrUnavailable, err)
	}
	height, _ := strconv.ParseInt(out.TxResponse.Height, 10, 64)
	return &BroadcastResult{
		Code:   out.TxResponse.Code,
		TxHash: out.TxResponse.TxHash,
		Height: height,
		RawLog: out.TxResponse.RawLog,
	}, nil
}

// awaitCommit polls the tx endpoint until the transaction shows a height.
// Returns nil when the poll window closes first; the sync-mode result is
// then returned as-is.
func (s *signer) awaitCommit(ctx context.Context, txHash string) *BroadcastResult {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
		var out broadcastResp
		if err := s.rest.getJSONUncached(ctx, "/cosmos/tx/v1beta1/txs/"+txHash, &out); err != nil {
			continue
		}
		if out.TxResponse.Height != "" && out.TxResponse.Height != "0" {
			height, _ := strconv.ParseInt(out.TxResponse.Height, 10, 64)
			return &BroadcastResult{
				Code:   out.TxResponse.Code,
				TxHash: out.TxResponse.TxHash,
				Height: height,
				RawLog: out.TxResponse.RawLog,
			}
		}
	}
	return nil
}
