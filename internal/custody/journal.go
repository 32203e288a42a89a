// Package custody records the transfer instructions the settlement engine
// issues to the external custody collaborator. Actual token movement is out
// of scope; the journal is the audit trail the custodian executes against.
package custody

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sengulatik66/catalyst/internal/model"
)

// Journal appends transfer instructions to a JSONL file.
type Journal struct {
	path string
	mu   sync.Mutex
}

func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// TransferOut journals an outgoing transfer, e.g. a timeout refund.
func (j *Journal) TransferOut(_ context.Context, asset string, amount *big.Int, to string) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("custody: invalid amount")
	}

	dir := filepath.Dir(j.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	rec := model.TransferRecord{
		Asset:  asset,
		Amount: amount.String(),
		To:     to,
		Memo:   "timeout refund",
		At:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	writer := bufio.NewWriter(file)
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write transfer: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}
