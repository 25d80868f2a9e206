package model

// IngestError records a log line that could not be reconciled.
type IngestError struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	EntityID    string `json:"entity_id,omitempty"`
	Topic0      string `json:"topic0"`
	Reason      string `json:"reason"`
	Error       string `json:"error"`
}
