package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sengulatik66/catalyst/internal/model"
)

func TestJsonlSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox", "packets.jsonl")
	sink := NewJsonlSink(path)

	for seq := uint64(1); seq <= 2; seq++ {
		pkt := model.OutboundPacket{
			PoolID:      "amp-pool",
			Key:         model.EscrowKey{Channel: "channel-0", Sequence: seq},
			Units:       "12345",
			AssetIn:     "X",
			AssetOut:    "Y",
			Beneficiary: "berg",
		}
		if err := sink.EmitPacket(context.Background(), pkt); err != nil {
			t.Fatalf("EmitPacket: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	defer file.Close()

	var packets []model.OutboundPacket
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var pkt model.OutboundPacket
		if err := json.Unmarshal(scanner.Bytes(), &pkt); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		packets = append(packets, pkt)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(packets) != 2 {
		t.Fatalf("packets = %d, want 2", len(packets))
	}
	if packets[0].Key.Sequence != 1 || packets[1].Key.Sequence != 2 {
		t.Fatalf("sequence order wrong: %+v", packets)
	}
}
