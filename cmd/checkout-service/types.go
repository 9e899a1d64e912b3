package main

import (
	"time"

	"solcheckout/pkg/socket"
)

type CachedQuote struct {
	Swap             string    `json:"swap"`
	OrderType        string    `json:"orderType"`
	From             string    `json:"from"`
	To               string    `json:"to"`
	FromAmount       string    `json:"fromAmount"`
	FromAmountTokens string    `json:"fromAmountTokens"`
	Amount           string    `json:"amount"`
	ViewAmount       string    `json:"viewAmount"`
	SwapData         string    `json:"swapData"`
	OracleTrack      string    `json:"oracleTrack,omitempty"`
	OracleQuote      string    `json:"oracleQuote,omitempty"`
	LastUpdate       time.Time `json:"lastUpdate"`
	TimeTaken        string    `json:"timeTaken"`
}

type QuoteError struct {
	Error string `json:"error"`
}

type WalletInfo struct {
	Name       string `json:"name"`
	ReadyState string `json:"readyState"`
	PublicKey  string `json:"publicKey,omitempty"`
}

type TokenBalance struct {
	Symbol string `json:"symbol"`
	Mint   string `json:"mint"`
	Amount string `json:"amount"`
	View   string `json:"view"`
}

type BalanceResponse struct {
	Wallet   string         `json:"wallet"`
	Lamports uint64         `json:"lamports"`
	SOL      string         `json:"sol"`
	Tokens   []TokenBalance `json:"tokens"`
}

type HealthResponse struct {
	Status         string                 `json:"status"`
	LastUpdate     time.Time              `json:"lastUpdate"`
	CachedQuotes   int                    `json:"cachedQuotes"`
	CachedSwapData int                    `json:"cachedSwapData"`
	Socket         socket.State           `json:"socket"`
	Subscriptions  map[string]interface{} `json:"subscriptions,omitempty"`
	Uptime         string                 `json:"uptime"`
}
