package dex

import "github.com/ag-wnl/sol-amm-v3/internal/model"

// Decoder defines a log decoder.
type Decoder interface {
	CanDecode(topic0 string) bool
	Decode(log model.LogRecord) (*model.ChainEvent, error)
}
