package substrate

import (
	"encoding/json"
	"fmt"

	"github.com/vietddude/walletd/internal/core/domain"
)

// extrinsicStatus is one author_extrinsicUpdate notification. The node sends
// either a bare string ("ready") or a single-key object ({"inBlock": hash}).
type extrinsicStatus struct {
	Name  string
	Block string
}

func parseExtrinsicStatus(raw json.RawMessage) (extrinsicStatus, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return extrinsicStatus{Name: name}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return extrinsicStatus{}, fmt.Errorf("parse extrinsic status: %w", err)
	}
	if len(obj) != 1 {
		return extrinsicStatus{}, fmt.Errorf("parse extrinsic status: unexpected %s", raw)
	}
	for k, v := range obj {
		st := extrinsicStatus{Name: k}
		var hash string
		if json.Unmarshal(v, &hash) == nil {
			st.Block = hash
		}
		return st, nil
	}
	return extrinsicStatus{}, nil
}

// toEvent maps a node status to the transaction lifecycle. ok is false for
// statuses that do not move the lifecycle (retracted).
func (s extrinsicStatus) toEvent(txHash string) (domain.TxStatusEvent, bool) {
	ev := domain.TxStatusEvent{TxHash: txHash, BlockHash: s.Block}
	switch s.Name {
	case "future", "ready", "broadcast":
		ev.Status = domain.TxStatusSubmitted
	case "inBlock":
		ev.Status = domain.TxStatusIncludedInBlock
	case "finalized":
		ev.Status = domain.TxStatusFinalized
	case "retracted":
		return ev, false
	case "dropped":
		ev.Status = domain.TxStatusFailed
		ev.Err = fmt.Errorf("%w: transaction dropped from the pool", domain.ErrSubmission)
	case "invalid":
		ev.Status = domain.TxStatusFailed
		ev.Err = fmt.Errorf("%w: transaction invalid", domain.ErrSubmission)
	case "usurped":
		ev.Status = domain.TxStatusFailed
		ev.Err = fmt.Errorf("%w: transaction usurped", domain.ErrSubmission)
	case "finalityTimeout":
		ev.Status = domain.TxStatusFailed
		ev.Err = fmt.Errorf("%w: block %s not finalized in time", domain.ErrSubmission, s.Block)
	default:
		return ev, false
	}
	return ev, true
}
