package core

// Tendermint RPC transport. Remote reads go through the node's JSON-RPC
// endpoint as ABCI queries pinned to the fork height, with protobuf request
// payloads and the fetch cache in front of every round-trip.

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	pathBankAllBalances    = "/cosmos.bank.v1beta1.Query/AllBalances"
	pathSmartContractState = "/cosmwasm.wasm.v1.Query/SmartContractState"
	pathAllContractState   = "/cosmwasm.wasm.v1.Query/AllContractState"
	pathContractInfo       = "/cosmwasm.wasm.v1.Query/ContractInfo"
	pathCode               = "/cosmwasm.wasm.v1.Query/Code"
)

const rpcTimeout = 30 * time.Second

// RpcClient speaks the Tendermint JSON-RPC protocol against a single node,
// pinned to one block height.
type RpcClient struct {
	url    string
	client *http.Client

	blockNumber uint64
	cache       *FetchCache
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

type abciQueryParams struct {
	Path   string `json:"path"`
	Data   string `json:"data"`
	Height string `json:"height"`
	Prove  bool   `json:"prove"`
}

type abciQueryResult struct {
	Response struct {
		Code  uint32 `json:"code"`
		Log   string `json:"log"`
		Value []byte `json:"value"`
	} `json:"response"`
}

type statusResult struct {
	NodeInfo struct {
		Network string `json:"network"`
	} `json:"node_info"`
	SyncInfo struct {
		LatestBlockHeight string `json:"latest_block_height"`
	} `json:"sync_info"`
}

type blockResult struct {
	Block struct {
		Header struct {
			ChainID string `json:"chain_id"`
			Height  string `json:"height"`
			Time    string `json:"time"`
		} `json:"header"`
	} `json:"block"`
}

// NewRpcClient connects to url. With a given blockNumber the
// per-(endpoint, block) cache is opened at once, and a warm cache answers
// chain id and timestamp without any round-trip. When blockNumber is nil the
// node's latest height, chain id and timestamp are fetched first and then
// recorded in the cache for that height.
func NewRpcClient(url string, blockNumber *uint64) (*RpcClient, error) {
	c := &RpcClient{
		url:    url,
		client: &http.Client{Timeout: rpcTimeout},
	}
	if blockNumber != nil {
		c.blockNumber = *blockNumber
		cache, err := NewFetchCache(url, *blockNumber)
		if err != nil {
			return nil, err
		}
		c.cache = cache
		if !cache.Initialized() {
			ts, err := c.fetchTimestamp()
			if err != nil {
				cache.Close()
				return nil, err
			}
			chainID, err := c.fetchChainID()
			if err != nil {
				cache.Close()
				return nil, err
			}
			cache.SetTimestamp(uint64(ts))
			cache.SetChainID(chainID)
		}
		return c, nil
	}

	height, err := c.LatestBlockHeight()
	if err != nil {
		return nil, err
	}
	c.blockNumber = height
	chainID, err := c.fetchChainID()
	if err != nil {
		return nil, err
	}
	// timestamp resolution needs blockNumber set first
	ts, err := c.fetchTimestamp()
	if err != nil {
		return nil, err
	}
	cache, err := NewFetchCache(url, height)
	if err != nil {
		return nil, err
	}
	cache.SetChainID(chainID)
	cache.SetTimestamp(uint64(ts))
	c.cache = cache
	logrus.Infof("rpc client pinned to %s at block %d", url, height)
	return c, nil
}

func (c *RpcClient) call(method string, params any, result any) error {
	body, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return wrapFormat("encode rpc request", err)
	}
	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return wrapTransport(fmt.Sprintf("rpc %s", method), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return errTransport("rpc %s: http %d: %s", method, resp.StatusCode, string(b))
	}
	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return wrapFormat("decode rpc response", err)
	}
	if envelope.Error != nil {
		return errTransport("rpc %s: %s: %s", method, envelope.Error.Message, envelope.Error.Data)
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return wrapFormat("decode rpc result", err)
	}
	return nil
}

// abciQueryRaw issues one cached ABCI query at the pinned height.
func (c *RpcClient) abciQueryRaw(path string, data []byte) ([]byte, error) {
	if cached, ok := c.cache.Read(path, data); ok {
		return cached, nil
	}
	var result abciQueryResult
	err := c.call("abci_query", &abciQueryParams{
		Path:   path,
		Data:   hex.EncodeToString(data),
		Height: strconv.FormatUint(c.blockNumber, 10),
		Prove:  false,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Response.Code != 0 {
		return nil, errTransport("abci query %s failed: %s", path, result.Response.Log)
	}
	// Response.Value is base64 on the wire; encoding/json already decoded it.
	value := result.Response.Value
	c.cache.Write(path, data, value)
	return value, nil
}

func (c *RpcClient) fetchChainID() (string, error) {
	var status statusResult
	if err := c.call("status", map[string]string{}, &status); err != nil {
		return "", err
	}
	return status.NodeInfo.Network, nil
}

func (c *RpcClient) fetchTimestamp() (Timestamp, error) {
	var block blockResult
	err := c.call("block", map[string]string{
		"height": strconv.FormatUint(c.blockNumber, 10),
	}, &block)
	if err != nil {
		return 0, err
	}
	t, err := time.Parse(time.RFC3339Nano, block.Block.Header.Time)
	if err != nil {
		return 0, wrapFormat("parse block time", err)
	}
	return Timestamp(t.UnixNano()), nil
}

//---------------------------------------------------------------------
// ClientBackend implementation
//---------------------------------------------------------------------

// BlockNumber returns the pinned height.
func (c *RpcClient) BlockNumber() uint64 { return c.blockNumber }

// ChainID prefers the cached value and falls back to a status round-trip.
func (c *RpcClient) ChainID() (string, error) {
	if id := c.cache.ChainID(); id != "" {
		return id, nil
	}
	return c.fetchChainID()
}

// Timestamp returns the pinned block's time.
func (c *RpcClient) Timestamp() (Timestamp, error) {
	if ns := c.cache.Timestamp(); ns != 0 {
		return Timestamp(ns), nil
	}
	return c.fetchTimestamp()
}

// LatestBlockHeight asks the node for its tip; never cached.
func (c *RpcClient) LatestBlockHeight() (uint64, error) {
	var status statusResult
	if err := c.call("status", map[string]string{}, &status); err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(status.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, wrapFormat("parse latest block height", err)
	}
	return height, nil
}

func (c *RpcClient) QueryBankAllBalances(address string) ([]Coin, error) {
	out, err := c.abciQueryRaw(pathBankAllBalances, encodeQueryAllBalancesRequest(address))
	if err != nil {
		return nil, err
	}
	return decodeQueryAllBalancesResponse(out)
}

func (c *RpcClient) QueryWasmContractSmart(address string, queryData []byte) ([]byte, error) {
	out, err := c.abciQueryRaw(pathSmartContractState, encodeQuerySmartContractStateRequest(address, queryData))
	if err != nil {
		return nil, err
	}
	return decodeQuerySmartContractStateResponse(out)
}

func (c *RpcClient) QueryWasmContractStateAll(address string) ([]Record, error) {
	out, err := c.abciQueryRaw(pathAllContractState, encodeQueryAllContractStateRequest(address))
	if err != nil {
		return nil, err
	}
	return decodeQueryAllContractStateResponse(out)
}

func (c *RpcClient) QueryWasmContractInfo(address string) (*RemoteContractInfo, error) {
	out, err := c.abciQueryRaw(pathContractInfo, encodeQueryContractInfoRequest(address))
	if err != nil {
		return nil, err
	}
	info, err := decodeQueryContractInfoResponse(out)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errInvalidArgument("address %s is most likely not a contract address", address)
	}
	return info, nil
}

func (c *RpcClient) QueryWasmContractCode(codeID uint64) ([]byte, error) {
	out, err := c.abciQueryRaw(pathCode, encodeQueryCodeRequest(codeID))
	if err != nil {
		return nil, err
	}
	return decodeQueryCodeResponse(out)
}

// Close flushes the fetch cache.
func (c *RpcClient) Close() error { return c.cache.Close() }
