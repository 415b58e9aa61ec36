package core

// Bank ledger: per-owner, per-denomination balances forked from the remote
// chain. Balances materialize lazily — the first observation of an owner
// pulls its full balance map through the client and memoizes it.

import (
	"encoding/json"
	"sort"

	"github.com/sirupsen/logrus"
)

func (s *AllStates) bankStateGet(owner string) (map[string]Uint128, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	balances, ok := s.bank[owner]
	return balances, ok
}

func (s *AllStates) bankStateInsert(owner string, balances map[string]Uint128) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bank[owner] = balances
}

func (s *AllStates) ensureBankState(owner string) error {
	if _, ok := s.bankStateGet(owner); ok {
		return nil
	}
	coins, err := s.client.QueryBankAllBalances(owner)
	if err != nil {
		return err
	}
	balances := make(map[string]Uint128, len(coins))
	for _, coin := range coins {
		balances[coin.Denom] = coin.Amount
	}
	s.bankStateInsert(owner, balances)
	return nil
}

// GetBalance returns owner's balance of denom, fetching the owner's balance
// map on first observation. Unknown denominations read as zero.
func (s *AllStates) GetBalance(owner, denom string) (Uint128, error) {
	if err := s.ensureBankState(owner); err != nil {
		return Uint128{}, err
	}
	balances, _ := s.bankStateGet(owner)
	if amount, ok := balances[denom]; ok {
		return amount, nil
	}
	return NewUint128(0), nil
}

// GetBalances returns all of owner's coins, sorted by denomination.
func (s *AllStates) GetBalances(owner string) ([]Coin, error) {
	if err := s.ensureBankState(owner); err != nil {
		return nil, err
	}
	balances, _ := s.bankStateGet(owner)
	coins := make([]Coin, 0, len(balances))
	for denom, amount := range balances {
		coins = append(coins, Coin{Denom: denom, Amount: amount})
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].Denom < coins[j].Denom })
	return coins, nil
}

// SetBalance pins owner's balance of denom, bypassing the remote fetch. Used
// by cheats and by the transfer paths below.
func (s *AllStates) SetBalance(owner, denom string, amount Uint128) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balances, ok := s.bank[owner]
	if !ok {
		balances = make(map[string]Uint128)
		s.bank[owner] = balances
	}
	balances[denom] = amount
}

func coinSpentEvent(spender string, coin Coin) Event {
	return NewEvent("coin_spent", "spender", spender, "amount", coin.String())
}

func coinReceivedEvent(receiver string, coin Coin) Event {
	return NewEvent("coin_received", "receiver", receiver, "amount", coin.String())
}

func (s *AllStates) bankSend(src, dst string, amount []Coin) (*ContractResult, error) {
	var events []Event
	for _, coin := range amount {
		srcAmount, err := s.GetBalance(src, coin.Denom)
		if err != nil {
			return nil, err
		}
		dstAmount, err := s.GetBalance(dst, coin.Denom)
		if err != nil {
			return nil, err
		}
		if !srcAmount.GTE(coin.Amount) {
			return ContractResultErr(insufficientBalance(src, srcAmount, coin.Amount)), nil
		}
		newSrc, err := srcAmount.Sub(coin.Amount)
		if err != nil {
			return nil, err
		}
		newDst, err := dstAmount.Add(coin.Amount)
		if err != nil {
			return nil, err
		}
		s.SetBalance(src, coin.Denom, newSrc)
		s.SetBalance(dst, coin.Denom, newDst)
		events = append(events, coinSpentEvent(src, coin), coinReceivedEvent(dst, coin))
		logrus.WithFields(logrus.Fields{
			"from":   src,
			"to":     dst,
			"amount": coin.String(),
		}).Debug("bank send")
	}
	resp := &Response{Events: events}
	return ContractResultOk(resp), nil
}

func (s *AllStates) bankBurn(src string, amount []Coin) (*ContractResult, error) {
	for _, coin := range amount {
		srcAmount, err := s.GetBalance(src, coin.Denom)
		if err != nil {
			return nil, err
		}
		if !srcAmount.GTE(coin.Amount) {
			return ContractResultErr(insufficientBalance(src, srcAmount, coin.Amount)), nil
		}
		newSrc, err := srcAmount.Sub(coin.Amount)
		if err != nil {
			return nil, err
		}
		s.SetBalance(src, coin.Denom, newSrc)
		logrus.WithFields(logrus.Fields{
			"from":   src,
			"amount": coin.String(),
		}).Debug("bank burn")
	}
	return ContractResultOk(&Response{}), nil
}

func insufficientBalance(owner string, balance, amount Uint128) string {
	return "insufficient balance (owner: " + owner +
		", balance: " + balance.String() +
		", amount: " + amount.String() + ")"
}

// BankExecute applies a bank message on behalf of sender. Insufficient
// balances come back as an Err result, not as a host error; the enclosing
// transaction snapshot unwinds any coins already moved.
func (s *AllStates) BankExecute(sender string, msg *BankMsg) (*ContractResult, error) {
	switch {
	case msg.Send != nil:
		return s.bankSend(sender, msg.Send.ToAddress, msg.Send.Amount)
	case msg.Burn != nil:
		return s.bankBurn(sender, msg.Burn.Amount)
	}
	return nil, errInvalidArgument("unsupported bank message variant")
}

// BankQuery serves balance queries from the in-memory ledger, falling back
// to the remote fetch through GetBalance's memoization.
func (s *AllStates) BankQuery(q *BankQuery) (Binary, error) {
	switch {
	case q.Balance != nil:
		amount, err := s.GetBalance(q.Balance.Address, q.Balance.Denom)
		if err != nil {
			return nil, err
		}
		resp := BalanceResponse{Amount: Coin{Denom: q.Balance.Denom, Amount: amount}}
		out, err := json.Marshal(&resp)
		if err != nil {
			return nil, wrapFormat("encode balance response", err)
		}
		return out, nil
	case q.AllBalances != nil:
		coins, err := s.GetBalances(q.AllBalances.Address)
		if err != nil {
			return nil, err
		}
		resp := AllBalancesResponse{Amount: coins}
		out, err := json.Marshal(&resp)
		if err != nil {
			return nil, wrapFormat("encode all-balances response", err)
		}
		return out, nil
	}
	return nil, errInvalidArgument("unsupported bank query variant")
}
