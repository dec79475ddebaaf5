package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github/chapool/tiered-custody/internal/api"
	"github/chapool/tiered-custody/internal/api/router"
	"github/chapool/tiered-custody/internal/lock"
	"github/chapool/tiered-custody/internal/metrics"
	"github/chapool/tiered-custody/internal/wallet/deposit"
	"github/chapool/tiered-custody/internal/wallet/gas"
	"github/chapool/tiered-custody/internal/wallet/reconcile"
	"github/chapool/tiered-custody/internal/wallet/sweep"
	"github/chapool/tiered-custody/internal/wallet/withdraw"
)

var _ api.Ledger = (*Ledger)(nil)

// RedisTestURL points the test server at a real redis. Without it redis pings fail.
const RedisTestURL = "REDIS_TEST_URL"

// WithTestServer runs closure against a fully initialized server backed by the in-memory fakes
// of this package. s.Ledger, s.Chain and s.Bus are *Ledger, *Chain and *Bus.
func WithTestServer(t *testing.T, closure func(s *api.Server)) {
	t.Helper()

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	redisOpts := &redis.Options{Addr: "127.0.0.1:1"}
	if url := os.Getenv(RedisTestURL); url != "" {
		redisOpts, err = redis.ParseURL(url)
		if err != nil {
			t.Fatalf("invalid %s: %v", RedisTestURL, err)
		}
	}

	cfg := Config(t)
	s := api.NewServer(cfg)
	s.DB = db
	s.Redis = redis.NewClient(redisOpts)
	s.Chain = NewChain()
	s.Bus = NewBus()
	s.Locker = lock.NewLocalLocker()
	s.Ledger = NewLedger()
	s.Vault = Vault(t)
	s.Clock = api.NewClock(t)

	s.Metrics, err = metrics.New(db)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	s.Gas, err = gas.NewService(cfg, s.Ledger, s.Chain, s.Bus, s.Locker, s.Metrics)
	if err != nil {
		t.Fatalf("failed to create gas service: %v", err)
	}
	s.Sweep, err = sweep.NewService(cfg, s.Ledger, s.Chain, s.Vault, s.Bus, s.Locker, s.Metrics)
	if err != nil {
		t.Fatalf("failed to create sweep service: %v", err)
	}
	s.Withdraw, err = withdraw.NewService(cfg, s.Ledger, s.Chain, s.Bus, s.Locker, s.Clock, s.Metrics)
	if err != nil {
		t.Fatalf("failed to create withdraw service: %v", err)
	}
	s.Deposit = deposit.NewService(cfg, s.Ledger, s.Chain, s.Bus, s.Metrics)
	s.Reconcile = reconcile.NewService(cfg, s.Ledger, s.Chain, s.Bus, s.Locker, s.Clock, s.Metrics)

	if err := router.Init(s); err != nil {
		t.Fatalf("failed to init router: %v", err)
	}

	defer func() {
		_ = s.Redis.Close()
		_ = db.Close()
	}()

	closure(s)
}

// PerformRequest sends body JSON encoded when it is not nil.
func PerformRequest(t *testing.T, s *api.Server, method string, path string, body interface{}, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	res := httptest.NewRecorder()
	s.Echo.ServeHTTP(res, req)

	return res
}
