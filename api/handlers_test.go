package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/godown/billing-engine/api"
	"github.com/godown/billing-engine/billing"
	memstore "github.com/godown/billing-engine/billing/store"
	"github.com/godown/billing-engine/factory"
	"github.com/godown/billing-engine/service"
)

const testRatesJSON = `{
  "crops": [
    {
      "commodity": "potato",
      "hamali_per_bag": "5",
      "tiers": [
        {"label": "6m", "up_to_days": 182, "rate_per_bag": "50"},
        {"label": "1y", "up_to_days": 0, "rate_per_bag": "100"}
      ]
    }
  ]
}`

// newTestServer wires the full stack over an in-memory store.
func newTestServer(t *testing.T, m *memstore.Memory) *httptest.Server {
	t.Helper()

	rates, err := factory.ParseRateBook([]byte(testRatesJSON))
	require.NoError(t, err)

	logger := zap.NewNop()
	payments := service.NewPaymentService(m, m, nil, nil, logger)
	outflows := service.NewBulkOutflowOrchestrator(m, rates, nil, nil, logger)
	outflows.Now = func() time.Time {
		return time.Date(2026, time.June, 15, 10, 0, 0, 0, time.UTC)
	}
	withdrawals := service.NewWithdrawalService(m, nil, logger)

	h := api.NewHandler(m, payments, outflows, withdrawals, logger)
	srv := httptest.NewServer(api.NewRouter(h, api.RouterConfig{
		AllowedOrigins:  []string{"*"},
		SinglePerMinute: 100,
		BulkPerMinute:   100,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedStore() *memstore.Memory {
	m := memstore.NewMemory()
	m.SeedCustomer(billing.Customer{ID: "cust-1", Name: "Ram", Village: "Kanpur"})
	m.SeedRecord(billing.StorageRecord{
		ID: "rec-1", CustomerID: "cust-1", Commodity: "potato", RecordNumber: "R-001",
		BagsIn: 100, BagsStored: 100,
		TotalRentBilled: decimal.RequireFromString("1000.00"),
		StorageStart:    time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
	})
	return m
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestCreatePaymentEndpoint(t *testing.T) {
	m := seedStore()
	srv := newTestServer(t, m)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/payments", `{
		"record_id": "rec-1",
		"amount": "400.00",
		"date": "2026-06-01",
		"type": "rent",
		"method": "upi"
	}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["paymentId"])
	assert.Equal(t, "cust-1", data["customerId"])
}

func TestCreatePaymentValidationErrors(t *testing.T) {
	srv := newTestServer(t, seedStore())

	cases := []struct {
		name string
		body string
	}{
		{"missing record", `{"amount": "100", "date": "2026-06-01", "type": "rent"}`},
		{"bad type", `{"record_id": "rec-1", "amount": "100", "date": "2026-06-01", "type": "bribe"}`},
		{"bad date", `{"record_id": "rec-1", "amount": "100", "date": "01/06/2026", "type": "rent"}`},
		{"bad amount", `{"record_id": "rec-1", "amount": "lots", "date": "2026-06-01", "type": "rent"}`},
		{"malformed JSON", `{"record_id": `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/payments", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCreatePaymentUnknownRecord(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/payments", `{
		"record_id": "ghost",
		"amount": "100.00",
		"date": "2026-06-01",
		"type": "rent"
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func TestBulkPaymentEndpoint(t *testing.T) {
	m := seedStore()
	m.SeedRecord(billing.StorageRecord{
		ID: "rec-2", CustomerID: "cust-1", Commodity: "potato", RecordNumber: "R-002",
		BagsIn: 50, BagsStored: 50,
		TotalRentBilled: decimal.RequireFromString("2000.00"),
		StorageStart:    time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
	})
	srv := newTestServer(t, m)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/payments/bulk", `{
		"customer_id": "cust-1",
		"amount": "1500.00",
		"date": "2026-06-01",
		"strategy": "fifo"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	allocations := data["allocations"].([]any)
	require.Len(t, allocations, 2)
	first := allocations[0].(map[string]any)
	assert.Equal(t, "rec-1", first["recordId"])
}

// =============================================================================
// OUTFLOWS
// =============================================================================

func TestBulkOutflowEndpoint(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/outflows/bulk", `{
		"customer_id": "cust-1",
		"commodity": "potato",
		"total_bags": 40,
		"date": "2026-06-01"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]any)
	lines := data["lines"].([]any)
	require.Len(t, lines, 1)
	line := lines[0].(map[string]any)
	assert.Equal(t, "rec-1", line["recordId"])
	assert.Equal(t, float64(40), line["bags"])
	assert.Equal(t, false, line["closed"])
}

func TestBulkOutflowInsufficientStockEndpoint(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/outflows/bulk", `{
		"customer_id": "cust-1",
		"commodity": "potato",
		"total_bags": 500,
		"date": "2026-06-01"
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["message"], "insufficient stock")
}

// =============================================================================
// READS
// =============================================================================

func TestGetRecordEndpoint(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/records/rec-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rec-1", body["id"])
	assert.Equal(t, float64(100), body["bags_stored"])
	assert.Equal(t, "1000.00", body["total_rent_billed"])
	assert.Equal(t, "2026-01-01", body["storage_start"])
	assert.Equal(t, "1000.00", body["outstanding"])
}

func TestGetRecordOutstandingNetsPayments(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/payments", `{
		"record_id": "rec-1",
		"amount": "400.00",
		"date": "2026-06-01",
		"type": "rent"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/records/rec-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "600.00", body["outstanding"])
}

func TestGetCustomerPaymentsEndpoint(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/payments", `{
		"record_id": "rec-1",
		"amount": "400.00",
		"date": "2026-06-01",
		"type": "rent"
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/api/customers/cust-1/payments")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var payments []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&payments))
	require.Len(t, payments, 1)
	assert.Equal(t, "rec-1", payments[0]["record_id"])
	assert.Equal(t, "400.00", payments[0]["amount"])
}

func TestGetRecordNotFound(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/records/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "record not found", body["error"])
}

func TestGetCustomerDuesEndpoint(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, err := http.Get(srv.URL + "/api/customers/cust-1/dues")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var dues []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dues))
	require.Len(t, dues, 1)
	assert.Equal(t, "rec-1", dues[0]["record_id"])
	assert.Equal(t, "1000.00", dues[0]["total_due"])
}

func TestGetCustomerDuesNotFound(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, err := http.Get(srv.URL + "/api/customers/ghost/dues")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetRecordLedgerEndpoint(t *testing.T) {
	m := seedStore()
	srv := newTestServer(t, m)

	// Withdraw first so the ledger has a row.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/outflows/bulk", `{
		"customer_id": "cust-1",
		"commodity": "potato",
		"total_bags": 30,
		"date": "2026-06-01"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ledgerResp, err := http.Get(srv.URL + "/api/records/rec-1/ledger")
	require.NoError(t, err)
	defer ledgerResp.Body.Close()
	require.Equal(t, http.StatusOK, ledgerResp.StatusCode)

	var entries []map[string]any
	require.NoError(t, json.NewDecoder(ledgerResp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "withdrawal", entries[0]["kind"])
	assert.Equal(t, float64(30), entries[0]["bags"])
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, seedStore())

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// RATE LIMITING
// =============================================================================

func TestRateLimitKicksIn(t *testing.T) {
	m := seedStore()

	rates, err := factory.ParseRateBook([]byte(testRatesJSON))
	require.NoError(t, err)
	logger := zap.NewNop()
	payments := service.NewPaymentService(m, m, nil, nil, logger)
	outflows := service.NewBulkOutflowOrchestrator(m, rates, nil, nil, logger)
	withdrawals := service.NewWithdrawalService(m, nil, logger)
	h := api.NewHandler(m, payments, outflows, withdrawals, logger)

	srv := httptest.NewServer(api.NewRouter(h, api.RouterConfig{
		AllowedOrigins:  []string{"*"},
		SinglePerMinute: 2,
		BulkPerMinute:   1,
	}))
	t.Cleanup(srv.Close)

	post := func(customerHeader string) int {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/payments",
			strings.NewReader(`{"record_id": "rec-1", "amount": "1.00", "date": "2026-06-01", "type": "rent"}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		if customerHeader != "" {
			req.Header.Set("X-Customer-ID", customerHeader)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	// Two requests pass, the third is throttled.
	assert.Equal(t, http.StatusCreated, post("cust-1"))
	assert.Equal(t, http.StatusCreated, post("cust-1"))
	assert.Equal(t, http.StatusTooManyRequests, post("cust-1"))

	// A different caller has its own bucket.
	assert.Equal(t, http.StatusCreated, post("cust-other"))

	// Reads are not rate limited.
	for i := 0; i < 5; i++ {
		resp, err := http.Get(fmt.Sprintf("%s/api/records/rec-1", srv.URL))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}
