// Package relay holds the local side of the relay boundary: the outbox the
// settlement engine emits packets into. The relay/transport itself is an
// external collaborator.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sengulatik66/catalyst/internal/model"
)

// JsonlSink appends outbound packets to a JSONL file, one packet per line,
// for an external relay process to drain.
type JsonlSink struct {
	path string
	mu   sync.Mutex
}

func NewJsonlSink(path string) *JsonlSink {
	return &JsonlSink{path: path}
}

// EmitPacket appends one packet as a JSON line.
func (s *JsonlSink) EmitPacket(_ context.Context, pkt model.OutboundPacket) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create outbox dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	line, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush outbox: %w", err)
	}
	return nil
}
