package simulate

import (
	"encoding/json"

	"github.com/ag-wnl/sol-amm-v3/internal/model"
)

func modelOp(line string) model.ScriptOp {
	var op model.ScriptOp
	if err := json.Unmarshal([]byte(line), &op); err != nil {
		panic(err)
	}
	return op
}
