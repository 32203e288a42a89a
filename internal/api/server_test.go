package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sengulatik66/catalyst/internal/settle"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := settle.NewEngine(settle.NullStore(), nil, nil, nil)
	_, err := engine.CreatePool(context.Background(), "amp-pool", 4, map[string]*big.Int{
		"X": big.NewInt(1000),
		"Y": big.NewInt(1000),
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	srv := httptest.NewServer(NewServer(engine, NewMetrics(), nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func postJSON(t *testing.T, url string, payload any, wantStatus int) map[string]any {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("POST %s: status %d, want %d", url, resp.StatusCode, wantStatus)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func TestHealthAndPools(t *testing.T) {
	srv := newTestServer(t)

	body := getJSON(t, srv.URL+"/healthz", http.StatusOK)
	if body["status"] != "ok" {
		t.Fatalf("health status = %v", body["status"])
	}

	body = getJSON(t, srv.URL+"/v1/pools", http.StatusOK)
	pools, ok := body["pools"].([]any)
	if !ok || len(pools) != 1 || pools[0] != "amp-pool" {
		t.Fatalf("pools = %v", body["pools"])
	}

	body = getJSON(t, srv.URL+"/v1/pools/amp-pool", http.StatusOK)
	if body["id"] != "amp-pool" {
		t.Fatalf("pool id = %v", body["id"])
	}
	if body["pending_escrows"] != float64(0) {
		t.Fatalf("pending_escrows = %v", body["pending_escrows"])
	}

	getJSON(t, srv.URL+"/v1/pools/missing", http.StatusNotFound)
}

func TestQuoteKinds(t *testing.T) {
	srv := newTestServer(t)

	swap := getJSON(t, srv.URL+"/v1/pools/amp-pool/quote?asset_in=X&asset_out=Y&amount=100", http.StatusOK)
	out, ok := new(big.Int).SetString(swap["result"].(string), 10)
	if !ok || out.Sign() <= 0 || out.Cmp(big.NewInt(1000)) >= 0 {
		t.Fatalf("swap quote = %v", swap["result"])
	}

	toUnit := getJSON(t, srv.URL+"/v1/pools/amp-pool/quote?kind=to_unit&asset=X&amount=100", http.StatusOK)
	units, ok := new(big.Int).SetString(toUnit["result"].(string), 10)
	if !ok || units.Sign() <= 0 {
		t.Fatalf("to_unit quote = %v", toUnit["result"])
	}

	fromUnit := getJSON(t, srv.URL+"/v1/pools/amp-pool/quote?kind=from_unit&asset=Y&units="+units.String(), http.StatusOK)
	composed, ok := new(big.Int).SetString(fromUnit["result"].(string), 10)
	if !ok || composed.Cmp(out) != 0 {
		t.Fatalf("from_unit(to_unit(x)) = %v, direct quote = %s", fromUnit["result"], out)
	}

	getJSON(t, srv.URL+"/v1/pools/amp-pool/quote?asset_in=X&asset_out=Y&amount=0", http.StatusBadRequest)
	getJSON(t, srv.URL+"/v1/pools/amp-pool/quote?kind=bogus&amount=1", http.StatusBadRequest)
	getJSON(t, srv.URL+"/v1/pools/amp-pool/quote?asset_in=X&asset_out=Z&amount=10", http.StatusNotFound)
}

func TestSwapLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	body := postJSON(t, srv.URL+"/v1/pools/amp-pool/swaps", swapPayload{
		Channel:     "chan-1",
		AssetIn:     "X",
		AssetOut:    "Y",
		AmountIn:    "100",
		Beneficiary: "alice",
	}, http.StatusCreated)
	if body["channel"] != "chan-1" || body["sequence"] != float64(1) {
		t.Fatalf("receipt = %v", body)
	}

	escrows := getJSON(t, srv.URL+"/v1/pools/amp-pool/escrows", http.StatusOK)
	if rows, ok := escrows["escrows"].([]any); !ok || len(rows) != 1 {
		t.Fatalf("escrows = %v", escrows["escrows"])
	}

	resolve := resolvePayload{Channel: "chan-1", Sequence: 1}
	postJSON(t, srv.URL+"/v1/relay/amp-pool/ack", resolve, http.StatusOK)

	// Exactly once: the second resolution of the same key is a conflict,
	// with either verb.
	postJSON(t, srv.URL+"/v1/relay/amp-pool/ack", resolve, http.StatusConflict)
	postJSON(t, srv.URL+"/v1/relay/amp-pool/timeout", resolve, http.StatusConflict)
}

func TestTimeoutRestoresBalancesOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	before := getJSON(t, srv.URL+"/v1/pools/amp-pool", http.StatusOK)

	postJSON(t, srv.URL+"/v1/pools/amp-pool/swaps", swapPayload{
		Channel:     "chan-1",
		AssetIn:     "X",
		AssetOut:    "Y",
		AmountIn:    "250",
		Beneficiary: "bob",
	}, http.StatusCreated)

	postJSON(t, srv.URL+"/v1/relay/amp-pool/timeout", resolvePayload{Channel: "chan-1", Sequence: 1}, http.StatusOK)

	after := getJSON(t, srv.URL+"/v1/pools/amp-pool", http.StatusOK)
	if fmt.Sprint(after["balances"]) != fmt.Sprint(before["balances"]) {
		t.Fatalf("balances after timeout = %v, want %v", after["balances"], before["balances"])
	}
}

func TestInitiateRejectsBadPayloads(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/v1/pools/amp-pool/swaps", swapPayload{
		Channel: "chan-1", AssetIn: "X", AssetOut: "Y", AmountIn: "0", Beneficiary: "alice",
	}, http.StatusBadRequest)

	postJSON(t, srv.URL+"/v1/pools/amp-pool/swaps", swapPayload{
		Channel: "chan-1", AssetIn: "X", AssetOut: "Y", AmountIn: "10", Beneficiary: "",
	}, http.StatusBadRequest)

	// min_out above any achievable quote.
	postJSON(t, srv.URL+"/v1/pools/amp-pool/swaps", swapPayload{
		Channel: "chan-1", AssetIn: "X", AssetOut: "Y", AmountIn: "10",
		MinOut: "100000", Beneficiary: "alice",
	}, http.StatusUnprocessableEntity)

	postJSON(t, srv.URL+"/v1/pools/missing/swaps", swapPayload{
		Channel: "chan-1", AssetIn: "X", AssetOut: "Y", AmountIn: "10", Beneficiary: "alice",
	}, http.StatusNotFound)
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/v1/pools/amp-pool/swaps", swapPayload{
		Channel: "chan-1", AssetIn: "X", AssetOut: "Y", AmountIn: "50", Beneficiary: "alice",
	}, http.StatusCreated)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`swaps_initiated_total{pool="amp-pool"} 1`)) {
		t.Fatalf("metrics output missing initiated counter:\n%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`escrows_pending{pool="amp-pool"} 1`)) {
		t.Fatalf("metrics output missing pending gauge:\n%s", buf.String())
	}
}
