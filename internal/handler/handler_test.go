package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger/internal/config"
	"ledger/internal/ledger"
	"ledger/internal/model"
	"ledger/internal/service"
	"ledger/internal/storage/memory"
)

type testServer struct {
	router *gin.Engine
	store  *memory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	accounts := service.NewAccountService(store, config.AccountNumberConfig{Length: 10, MaxLength: 16, AttemptsPerLength: 10}, nil)
	engine := ledger.NewEngine(store)
	h := NewHandler(accounts, engine, zap.NewNop())
	return &testServer{router: SetupRouter(h, zap.NewNop(), gin.TestMode), store: store}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, role string, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID > 0 {
		req.Header.Set(HeaderUserID, strconv.FormatInt(userID, 10))
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (s *testServer) openAccount(t *testing.T, userID int64) *model.Account {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/v1/accounts", userID, "", `{"account_name":"main account","account_type":"SAVINGS"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var a model.Account
	require.NoError(t, json.Unmarshal(env.Data, &a))
	return &a
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/health", 0, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestActorRequired(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/api/v1/accounts", 0, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/accounts", 1, "ROOT", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAccountEndpoints(t *testing.T) {
	s := newTestServer(t)
	a := s.openAccount(t, 1)
	assert.Regexp(t, `^[0-9]{10}$`, a.AccountNumber)
	assert.Equal(t, model.AccountTypeSavings, a.AccountType)

	w, env := s.do(t, http.MethodGet, "/api/v1/accounts", 1, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.Account
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	w, _ = s.do(t, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(a.ID, 10), 1, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/v1/accounts/number/"+a.AccountNumber, 1, "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/accounts/number/"+a.AccountNumber, 2, "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/v1/accounts/number/"+a.AccountNumber, 2, RoleAdmin, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/accounts/999", 1, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/v1/accounts/abc", 1, "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/accounts", 1, "", `{"account_name":"x","account_type":"SAVINGS"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(t, http.MethodPost, "/api/v1/accounts", 1, "", `{"account_name":"valid","account_type":"GOLD"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFundsFlow(t *testing.T) {
	s := newTestServer(t)
	alice := s.openAccount(t, 1)
	bob := s.openAccount(t, 2)

	w, env := s.do(t, http.MethodPost, "/api/v1/transactions/deposit/"+alice.AccountNumber, 1, "", `{"amount":"100","reference":"payday"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var deposit model.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &deposit))
	assert.Equal(t, model.TransactionTypeDeposit, deposit.Type)
	assert.Equal(t, "payday", deposit.Reference)

	// query 形式
	w, _ = s.do(t, http.MethodPost, "/api/v1/transactions/withdraw/"+alice.AccountNumber+"?amount=10.25", 1, "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = s.do(t, http.MethodPost, "/api/v1/transactions/transfer", 1, "",
		`{"source_account_number":"`+alice.AccountNumber+`","destination_account_number":"`+bob.AccountNumber+`","amount":39.75}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var transfer model.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &transfer))

	got, err := s.store.FindAccountByNumber(context.Background(), alice.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, "50", got.Balance.String())
	got, err = s.store.FindAccountByNumber(context.Background(), bob.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, "39.75", got.Balance.String())

	// bob 能看到转入的交易，第三人不能
	w, _ = s.do(t, http.MethodGet, "/api/v1/transactions/"+strconv.FormatInt(transfer.ID, 10), 2, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/v1/transactions/"+strconv.FormatInt(transfer.ID, 10), 3, "", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/v1/transactions/"+strconv.FormatInt(transfer.ID, 10), 3, RoleAdmin, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/v1/transactions/9999", 1, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = s.do(t, http.MethodGet, "/api/v1/transactions?account_number="+alice.AccountNumber+"&page=1&size=2", 1, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page ledger.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, transfer.ID, page.Items[0].ID)

	w, env = s.do(t, http.MethodGet, "/api/v1/transactions?account_number="+alice.AccountNumber+"&page=4611686018427387905", 1, "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page = ledger.Page{}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page.Items)
	assert.EqualValues(t, 3, page.Total)
}

func TestFundsErrors(t *testing.T) {
	s := newTestServer(t)
	alice := s.openAccount(t, 1)
	bob := s.openAccount(t, 2)

	cases := []struct {
		name   string
		method string
		path   string
		user   int64
		body   string
		status int
	}{
		{"insufficient funds", http.MethodPost, "/api/v1/transactions/withdraw/" + alice.AccountNumber, 1, `{"amount":"5"}`, http.StatusConflict},
		{"zero amount", http.MethodPost, "/api/v1/transactions/deposit/" + alice.AccountNumber, 1, `{"amount":"0"}`, http.StatusBadRequest},
		{"too many decimals", http.MethodPost, "/api/v1/transactions/deposit/" + alice.AccountNumber, 1, `{"amount":"1.00001"}`, http.StatusBadRequest},
		{"missing amount", http.MethodPost, "/api/v1/transactions/deposit/" + alice.AccountNumber, 1, "", http.StatusBadRequest},
		{"unknown account", http.MethodPost, "/api/v1/transactions/deposit/0000000000", 1, `{"amount":"5"}`, http.StatusNotFound},
		{"not owner", http.MethodPost, "/api/v1/transactions/deposit/" + bob.AccountNumber, 1, `{"amount":"5"}`, http.StatusForbidden},
		{"same account", http.MethodPost, "/api/v1/transactions/transfer", 1,
			`{"source_account_number":"` + alice.AccountNumber + `","destination_account_number":"` + alice.AccountNumber + `","amount":"1"}`, http.StatusBadRequest},
		{"transfer from foreign account", http.MethodPost, "/api/v1/transactions/transfer", 1,
			`{"source_account_number":"` + bob.AccountNumber + `","destination_account_number":"` + alice.AccountNumber + `","amount":"1"}`, http.StatusForbidden},
		{"transfer to unknown", http.MethodPost, "/api/v1/transactions/transfer", 1,
			`{"source_account_number":"` + alice.AccountNumber + `","destination_account_number":"0000000000","amount":"1"}`, http.StatusNotFound},
		{"transfer missing fields", http.MethodPost, "/api/v1/transactions/transfer", 1, `{"amount":"1"}`, http.StatusBadRequest},
		{"list without account as user", http.MethodGet, "/api/v1/transactions", 1, "", http.StatusForbidden},
		{"list foreign account", http.MethodGet, "/api/v1/transactions?account_number=" + bob.AccountNumber, 1, "", http.StatusForbidden},
		{"list bad page", http.MethodGet, "/api/v1/transactions?account_number=" + alice.AccountNumber + "&page=x", 1, "", http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := s.do(t, tc.method, tc.path, tc.user, "", tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	w, env := s.do(t, http.MethodGet, "/api/v1/transactions", 9, RoleAdmin, "")
	require.Equal(t, http.StatusOK, w.Code)
	var page ledger.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.Size)
}
