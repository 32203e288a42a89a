package model

// OutboundPacket is the event emitted once per initiated swap for the relay
// boundary to transport. The wire encoding of the transport packet itself is
// out of scope; this is the payload handed to the relay.
type OutboundPacket struct {
	PoolID      string    `json:"pool_id"`
	Key         EscrowKey `json:"key"`
	Units       string    `json:"units"`
	AssetIn     string    `json:"asset_in"`
	AssetOut    string    `json:"asset_out"`
	Beneficiary string    `json:"beneficiary"`
	EmittedAt   string    `json:"emitted_at"`
}

// TransferRecord is one custody instruction journaled by the custody
// collaborator, e.g. a timeout refund of the user's input asset.
type TransferRecord struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	To     string `json:"to"`
	Memo   string `json:"memo,omitempty"`
	At     string `json:"at"`
}
