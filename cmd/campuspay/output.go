package main

import (
	"encoding/json"
	"io"
	"math/big"

	"github.com/campuspay/campuspay/pkg/blockchain"
	"github.com/campuspay/campuspay/pkg/wallet"
)

type sessionView struct {
	Connected  bool   `json:"connected"`
	Account    string `json:"account,omitempty"`
	Balance    string `json:"balance"`
	BalanceWei string `json:"balance_wei"`
	Currency   string `json:"currency,omitempty"`
	Connector  string `json:"connector"`
}

func newSessionView(s wallet.Session, currency string) sessionView {
	v := sessionView{
		Connected:  s.Connected(),
		Balance:    blockchain.FormatAmount(s.Balance, blockchain.NativeDecimals),
		BalanceWei: bigString(s.Balance),
		Currency:   currency,
		Connector:  s.Connector,
	}
	if s.Account != nil {
		v.Account = s.Account.Hex()
	}
	return v
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
