package core

// LCD transport: the same read surface as the RPC client, served by a
// chain's REST gateway. Useful against nodes that expose no Tendermint RPC.

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// LcdClient reads chain state over the REST/LCD API. The gateway serves the
// latest state only, so the pinned height is whatever the chain tip was at
// construction time; the fetch cache still pins responses under that height.
type LcdClient struct {
	url    string
	client *http.Client

	blockNumber uint64
	cache       *FetchCache
}

// Field names in the raw structs below mirror the LCD JSON responses.

type lcdBlockOuter struct {
	Block struct {
		Header struct {
			ChainID string `json:"chain_id"`
			Height  string `json:"height"`
			Time    string `json:"time"`
		} `json:"header"`
	} `json:"block"`
}

type lcdContractInfoResponse struct {
	Address      string `json:"address"`
	ContractInfo struct {
		CodeID  string `json:"code_id"`
		Creator string `json:"creator"`
		Admin   string `json:"admin"`
		Label   string `json:"label"`
	} `json:"contract_info"`
}

type lcdContractStateAll struct {
	Models []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"models"`
}

type lcdCodeResponse struct {
	Data string `json:"data"`
}

type lcdBankBalancesResponse struct {
	Balances []struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	} `json:"balances"`
}

type lcdErrorBody struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
}

// NewLcdClient connects to an LCD gateway and pins the current tip height.
func NewLcdClient(gatewayURL string) (*LcdClient, error) {
	c := &LcdClient{
		url:    gatewayURL,
		client: &http.Client{Timeout: rpcTimeout},
	}
	height, err := c.LatestBlockHeight()
	if err != nil {
		return nil, err
	}
	c.blockNumber = height
	cache, err := NewFetchCache(gatewayURL, height)
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

// request issues one cached GET against the gateway.
func (c *LcdClient) request(uri string) ([]byte, error) {
	if cached, ok := c.cache.Read(uri, nil); ok {
		return cached, nil
	}
	resp, err := c.client.Get(c.url + uri)
	if err != nil {
		return nil, wrapTransport(fmt.Sprintf("lcd get %s", uri), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapTransport("lcd read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errBody lcdErrorBody
		if json.Unmarshal(body, &errBody) == nil && errBody.Message != "" {
			return nil, errTransport("lcd %s: %s", uri, errBody.Message)
		}
		return nil, errTransport("lcd %s: http %d", uri, resp.StatusCode)
	}
	c.cache.Write(uri, nil, body)
	return body, nil
}

func (c *LcdClient) latestHeader() (*lcdBlockOuter, error) {
	body, err := c.request("/blocks/latest")
	if err != nil {
		return nil, err
	}
	var outer lcdBlockOuter
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, wrapFormat("decode latest block header", err)
	}
	return &outer, nil
}

func (c *LcdClient) fetchChainID() (string, error) {
	header, err := c.latestHeader()
	if err != nil {
		return "", err
	}
	return header.Block.Header.ChainID, nil
}

func (c *LcdClient) fetchTimestamp() (Timestamp, error) {
	header, err := c.latestHeader()
	if err != nil {
		return 0, err
	}
	t, err := time.Parse(time.RFC3339Nano, header.Block.Header.Time)
	if err != nil {
		return 0, wrapFormat("parse block time", err)
	}
	return Timestamp(t.UnixNano()), nil
}

//---------------------------------------------------------------------
// ClientBackend implementation
//---------------------------------------------------------------------

// BlockNumber returns the pinned height.
func (c *LcdClient) BlockNumber() uint64 { return c.blockNumber }

// ChainID prefers the cached value.
func (c *LcdClient) ChainID() (string, error) {
	if id := c.cache.ChainID(); id != "" {
		return id, nil
	}
	return c.fetchChainID()
}

// Timestamp returns the pinned block's time.
func (c *LcdClient) Timestamp() (Timestamp, error) {
	if ns := c.cache.Timestamp(); ns != 0 {
		return Timestamp(ns), nil
	}
	return c.fetchTimestamp()
}

// LatestBlockHeight reads the gateway's tip height; never cached.
func (c *LcdClient) LatestBlockHeight() (uint64, error) {
	resp, err := c.client.Get(c.url + "/blocks/latest")
	if err != nil {
		return 0, wrapTransport("lcd get /blocks/latest", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, wrapTransport("lcd read body", err)
	}
	var outer lcdBlockOuter
	if err := json.Unmarshal(body, &outer); err != nil {
		return 0, wrapFormat("decode latest block header", err)
	}
	return strconv.ParseUint(outer.Block.Header.Height, 10, 64)
}

func (c *LcdClient) QueryBankAllBalances(address string) ([]Coin, error) {
	body, err := c.request("/cosmos/bank/v1beta1/balances/" + url.PathEscape(address))
	if err != nil {
		return nil, err
	}
	var resp lcdBankBalancesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapFormat("decode bank balances", err)
	}
	coins := make([]Coin, 0, len(resp.Balances))
	for _, raw := range resp.Balances {
		amount, err := ParseUint128(raw.Amount)
		if err != nil {
			return nil, err
		}
		coins = append(coins, Coin{Denom: raw.Denom, Amount: amount})
	}
	return coins, nil
}

func (c *LcdClient) QueryWasmContractSmart(address string, queryData []byte) ([]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(queryData)
	body, err := c.request("/cosmwasm/wasm/v1/contract/" + url.PathEscape(address) + "/smart/" + url.PathEscape(encoded))
	if err != nil {
		return nil, err
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapFormat("decode smart query response", err)
	}
	data, ok := resp["data"]
	if !ok {
		return nil, errFormat("key 'data' not present in smart query response")
	}
	return data, nil
}

func (c *LcdClient) QueryWasmContractStateAll(address string) ([]Record, error) {
	body, err := c.request("/cosmwasm/wasm/v1/contract/" + url.PathEscape(address) + "/state")
	if err != nil {
		return nil, err
	}
	var resp lcdContractStateAll
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapFormat("decode contract state", err)
	}
	records := make([]Record, 0, len(resp.Models))
	for _, model := range resp.Models {
		key, err := hex.DecodeString(model.Key)
		if err != nil {
			return nil, wrapFormat("decode state key", err)
		}
		value, err := base64.StdEncoding.DecodeString(model.Value)
		if err != nil {
			return nil, wrapFormat("decode state value", err)
		}
		records = append(records, Record{Key: key, Value: value})
	}
	return records, nil
}

func (c *LcdClient) QueryWasmContractInfo(address string) (*RemoteContractInfo, error) {
	body, err := c.request("/cosmwasm/wasm/v1/contract/" + url.PathEscape(address))
	if err != nil {
		return nil, err
	}
	var resp lcdContractInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapFormat("decode contract info", err)
	}
	codeID, err := strconv.ParseUint(resp.ContractInfo.CodeID, 10, 64)
	if err != nil {
		return nil, wrapFormat("parse code id", err)
	}
	return &RemoteContractInfo{CodeID: codeID}, nil
}

func (c *LcdClient) QueryWasmContractCode(codeID uint64) ([]byte, error) {
	body, err := c.request("/cosmwasm/wasm/v1/code/" + strconv.FormatUint(codeID, 10))
	if err != nil {
		return nil, err
	}
	var resp lcdCodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapFormat("decode code response", err)
	}
	code, err := base64.StdEncoding.DecodeString(resp.Data)
	if err != nil {
		return nil, wrapFormat("decode code bytes", err)
	}
	return code, nil
}

// Close flushes the fetch cache.
func (c *LcdClient) Close() error { return c.cache.Close() }
