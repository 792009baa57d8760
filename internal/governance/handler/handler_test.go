package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"escrowd/internal/governance"
	"escrowd/internal/governance/handler"
	"escrowd/internal/jwttoken"
	"escrowd/internal/ledger"
	"escrowd/internal/params"
	"escrowd/internal/platform/logger"
	"escrowd/pkg/domain"
)

const (
	govParty = "governance"
	alice    = "alice"
	token    = "TOKEN"
)

type GovHandlerSuite struct {
	suite.Suite

	gov    *governance.Service
	jwt    *jwttoken.Service
	server *httptest.Server
}

func TestGovHandlerSuite(t *testing.T) {
	suite.Run(t, new(GovHandlerSuite))
}

func (s *GovHandlerSuite) SetupTest() {
	paramStore := params.NewMemoryStore()
	s.gov = governance.New(domain.PartyID(govParty), paramStore, ledger.NewMemory())
	s.jwt = jwttoken.New("test-signing-key", "escrowd", "escrowd")

	h := handler.New(s.gov, paramStore, logger.New(), nil, s.jwt)
	r := chi.NewRouter()
	h.Register(r)
	s.server = httptest.NewServer(r)
}

func (s *GovHandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *GovHandlerSuite) do(party, method, path string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.server.URL+path, &buf)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if party != "" {
		tok, err := s.jwt.GenerateToken(party, time.Hour)
		s.Require().NoError(err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *GovHandlerSuite) decode(resp *http.Response, v any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *GovHandlerSuite) TestRequiresAuth() {
	resp := s.do("", http.MethodPost, "/governance/assets", map[string]any{"asset": token})
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func (s *GovHandlerSuite) TestAssetWhitelistLifecycle() {
	resp := s.do(govParty, http.MethodPost, "/governance/assets", map[string]any{"asset": token})
	s.Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	s.True(s.gov.IsAssetSupported(token))

	resp = s.do(govParty, http.MethodDelete, "/governance/assets/"+token, nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	s.False(s.gov.IsAssetSupported(token))
}

func (s *GovHandlerSuite) TestMutationsAreGovernanceOnly() {
	resp := s.do(alice, http.MethodPost, "/governance/assets", map[string]any{"asset": token})
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(alice, http.MethodPost, "/governance/arbitrators", map[string]any{"party": "arb-1"})
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(alice, http.MethodGet, "/governance/fees/"+token, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func (s *GovHandlerSuite) TestArbitratorAndKYC() {
	resp := s.do(govParty, http.MethodPost, "/governance/arbitrators", map[string]any{"party": "arb-1"})
	s.Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	s.True(s.gov.IsArbitrator("arb-1"))

	resp = s.do(govParty, http.MethodPost, "/governance/kyc", map[string]any{"party": alice, "approved": true})
	s.Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	s.True(s.gov.IsKYCApproved(alice))
}

func (s *GovHandlerSuite) TestParamsRoundTrip() {
	resp := s.do(alice, http.MethodGet, "/governance/params", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var got map[string]any
	s.decode(resp, &got)
	s.Equal(float64(100), got["fee_bps"])

	got["fee_bps"] = float64(250)
	resp = s.do(govParty, http.MethodPut, "/governance/params", got)
	s.Equal(http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = s.do(alice, http.MethodGet, "/governance/params", nil)
	var updated map[string]any
	s.decode(resp, &updated)
	s.Equal(float64(250), updated["fee_bps"])
}

func (s *GovHandlerSuite) TestCollectWithNoFeesIsRejected() {
	resp := s.do(govParty, http.MethodPost, "/governance/fees/collect",
		map[string]any{"asset": token, "to": alice})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func (s *GovHandlerSuite) TestFeeBalance() {
	s.gov.AccrueFee(token, 75)
	resp := s.do(govParty, http.MethodGet, "/governance/fees/"+token, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var got map[string]any
	s.decode(resp, &got)
	s.Equal(float64(75), got["balance"])
}