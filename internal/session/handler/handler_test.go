package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"actiongate/internal/acc"
	"actiongate/internal/audit"
	"actiongate/internal/capability/models"
	"actiongate/internal/capability/service"
	"actiongate/internal/confirmation"
	"actiongate/internal/enforcement"
	"actiongate/internal/integrity"
	"actiongate/internal/session"
	id "actiongate/pkg/domain"
	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/clock"
	"actiongate/pkg/platform/middleware/admin"
	"actiongate/pkg/platform/middleware/request"
	"actiongate/pkg/testutil"
)

// =============================================================================
// Operator Handler Test Suite
// =============================================================================
// Justification: handlers translate authority outcomes into HTTP statuses
// and error codes. Tests run the real authority, ACC manager and prover so
// the status mapping is checked against real errors.

const (
	token = "operator-secret"
	code  = "HN3WD5"
)

type HandlerSuite struct {
	suite.Suite
	ctx       context.Context
	clock     *clock.FakeClock
	log       *audit.Log
	acc       *acc.Manager
	authority *service.Authority
	prover    *integrity.Prover
	session   *session.Session
	router    chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.clock = clock.NewFake(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	s.log = audit.NewLog("handler-test", audit.WithClock(s.clock), audit.WithLogger(logger))
	s.acc = acc.New(s.log, acc.WithClock(s.clock), acc.WithLogger(logger),
		acc.WithGenerator(func(kind acc.Kind) (acc.Challenge, error) {
			return acc.Challenge{Kind: kind, Prompt: "Type " + code, Response: code}, nil
		}))
	guard, err := enforcement.NewGuard(enforcement.NewHeadless(), enforcement.WithGuardLogger(logger))
	s.Require().NoError(err)
	s.authority, err = service.New(s.log, s.acc, guard, service.WithClock(s.clock), service.WithLogger(logger))
	s.Require().NoError(err)
	s.prover = integrity.New(s.log, s.authority, integrity.WithClock(s.clock), integrity.WithLogger(logger))
	s.session, err = session.New(s.ctx, s.log, s.authority, s.acc,
		session.WithScope("studio"), session.WithClock(s.clock), session.WithLogger(logger))
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	New(s.session, s.authority, s.acc, s.prover, s.log, token, logger).Register(s.router)
}

func (s *HandlerSuite) do(method, path string, body any, headers ...string) *http.Response {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	req.Header.Set(admin.HeaderToken, token)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return testutil.DoRequest(s.router, req).Result()
}

func (s *HandlerSuite) pendingChallenge() id.ACCID {
	_, err := s.authority.Grant(s.ctx, models.GrantRequest{
		Capability: models.CapabilityRenderExport, Scope: "studio", TTL: time.Hour, RequiresACC: true,
	})
	s.Require().NoError(err)
	actx, err := id.NewActionContext("export", s.clock.Now())
	s.Require().NoError(err)
	res := s.authority.Check(s.ctx, models.CheckRequest{
		Capability: models.CapabilityRenderExport, Scope: "studio", Context: actx, Output: "/exports/mix.wav",
	})
	s.Require().Equal(models.DecisionRequiresACC, res.Decision)
	return res.ACCID
}

func (s *HandlerSuite) TestOperatorTokenRequired() {
	req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/authority/grants", nil)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")

	req = testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/authority/grants", nil)
	req.Header.Set(admin.HeaderToken, "wrong")
	rr = testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
}

func (s *HandlerSuite) TestGrants() {
	s.Run("grant is created", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/authority/grants", grantRequest{
			Capability: "PARAMETER_ADJUSTMENT", Scope: "studio", TTL: "30m",
		})
		req.Header.Set(admin.HeaderToken, token)
		req.Header.Set(request.HeaderOperator, "ops-1")
		rr := testutil.DoRequest(s.router, req)
		s.Require().Equal(http.StatusCreated, rr.Code)
		body := testutil.UnmarshalResponse[grantResponse](s.T(), rr)
		s.Equal("PARAMETER_ADJUSTMENT", body.Capability)
		s.Equal("30m0s", body.TTL)
		s.Equal("operator:ops-1", body.Source)
		s.NotEmpty(rr.Header().Get(request.HeaderRequestID))
	})

	s.Run("active grants are listed", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/authority/grants", nil)
		req.Header.Set(admin.HeaderToken, token)
		rr := testutil.DoRequest(s.router, req)
		s.Require().Equal(http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[struct {
			Grants []grantResponse `json:"grants"`
		}](s.T(), rr)
		s.Len(body.Grants, 1)
	})

	cases := []struct {
		name string
		body any
		code string
	}{
		{"unknown capability", grantRequest{Capability: "ROOT", Scope: "studio", TTL: "1h"}, "invalid_input"},
		{"bad ttl", grantRequest{Capability: "FILE_READ", Scope: "studio", TTL: "soon"}, "validation_error"},
		{"missing scope", grantRequest{Capability: "FILE_READ", TTL: "1h"}, "validation_error"},
		{"unknown field", map[string]any{"capability": "FILE_READ", "forever": true}, "bad_request"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/authority/grants", tc.body)
			req.Header.Set(admin.HeaderToken, token)
			rr := testutil.DoRequest(s.router, req)
			testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, tc.code)
		})
	}
}

func (s *HandlerSuite) TestRevokeAll() {
	s.pendingChallenge()
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/authority/revoke", revokeRequest{Reason: "operator panic button"})
	req.Header.Set(admin.HeaderToken, token)
	rr := testutil.DoRequest(s.router, req)
	s.Require().Equal(http.StatusOK, rr.Code)
	body := testutil.UnmarshalResponse[map[string]int](s.T(), rr)
	s.Equal(1, (*body)["revoked"])
	s.Empty(s.authority.ActiveGrants())
	s.Empty(s.acc.Outstanding())

	s.Run("empty body uses the default reason", func() {
		resp := s.do(http.MethodPost, "/v1/authority/revoke", nil)
		s.Equal(http.StatusOK, resp.StatusCode)
	})
}

func (s *HandlerSuite) TestACCResponse() {
	accID := s.pendingChallenge()
	path := "/v1/acc/" + accID.String() + "/response"

	s.Run("wrong response is forbidden", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, path, accResponseRequest{Response: "nope"})
		req.Header.Set(admin.HeaderToken, token)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusForbidden, "forbidden")
	})

	s.Run("correct response validates", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, path, accResponseRequest{Response: code})
		req.Header.Set(admin.HeaderToken, token)
		rr := testutil.DoRequest(s.router, req)
		s.Require().Equal(http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[accResponse](s.T(), rr)
		s.Equal(string(acc.StateConsumed), body.State)
	})

	s.Run("second validation is a conflict", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, path, accResponseRequest{Response: code})
		req.Header.Set(admin.HeaderToken, token)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusConflict, "already_used")
	})

	s.Run("unknown token", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/acc/"+id.NewACCID().String()+"/response", accResponseRequest{Response: code})
		req.Header.Set(admin.HeaderToken, token)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusNotFound, "not_found")
	})

	s.Run("malformed id", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/acc/not-a-uuid/response", accResponseRequest{Response: code})
		req.Header.Set(admin.HeaderToken, token)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "invalid_input")
	})

	s.Run("expired token is gone", func() {
		s.SetupTest()
		expiring := s.pendingChallenge()
		s.clock.Advance(acc.DefaultTTL)
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/acc/"+expiring.String()+"/response", accResponseRequest{Response: code})
		req.Header.Set(admin.HeaderToken, token)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusGone, "expired")
	})
}

func (s *HandlerSuite) TestACCDismiss() {
	accID := s.pendingChallenge()
	resp := s.do(http.MethodDelete, "/v1/acc/"+accID.String(), nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)

	resp = s.do(http.MethodDelete, "/v1/acc/"+accID.String(), nil)
	s.Equal(http.StatusConflict, resp.StatusCode)
}

func (s *HandlerSuite) TestIntegrity() {
	req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/integrity", nil)
	req.Header.Set(admin.HeaderToken, token)
	testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusNotFound, "not_found")

	req = testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/integrity/certify", nil)
	req.Header.Set(admin.HeaderToken, token)
	rr := testutil.DoRequest(s.router, req)
	s.Require().Equal(http.StatusOK, rr.Code)
	cert := testutil.UnmarshalResponse[integrity.Certificate](s.T(), rr)
	s.Equal(integrity.StatusHealthy, cert.Status)

	resp := s.do(http.MethodGet, "/v1/integrity", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *HandlerSuite) TestAuditHead() {
	s.log.MustEmit(s.ctx, audit.RevokeAllAuthorities{Reason: "seed"})
	req := testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/audit/head", nil)
	req.Header.Set(admin.HeaderToken, token)
	rr := testutil.DoRequest(s.router, req)
	s.Require().Equal(http.StatusOK, rr.Code)
	body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	_, head := s.log.Head()
	s.Equal(head, (*body)["head_hash"])
	s.Equal("handler-test", (*body)["chain_id"])
	s.EqualValues(2, (*body)["sequence"], "SESSION_STARTED then the seeded record")
}

func (s *HandlerSuite) TestLockdown() {
	resp := s.do(http.MethodPost, "/v1/authority/lockdown/clear", nil, request.HeaderOperator, "ops-1")
	s.Equal(http.StatusConflict, resp.StatusCode)

	s.authority.EnterLockdown(s.ctx, "audit chain broken", 1, "abc")
	resp = s.do(http.MethodGet, "/v1/authority/lockdown", nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	resp = s.do(http.MethodPost, "/v1/authority/lockdown/clear", nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode, "operator identity is required")

	resp = s.do(http.MethodPost, "/v1/authority/lockdown/clear", nil, request.HeaderOperator, "ops-1")
	s.Equal(http.StatusNoContent, resp.StatusCode)
	locked, _ := s.authority.Lockdown()
	s.False(locked)
}

func (s *HandlerSuite) postJSON(path string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, path, body)
	req.Header.Set(admin.HeaderToken, token)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) assertDenied(rr *httptest.ResponseRecorder, reason string) {
	s.Equal(http.StatusForbidden, rr.Code)
	body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
	s.Equal(string(models.DecisionDenied), (*body)["decision"])
	s.Equal(string(dErrors.CodeCapabilityDenied), (*body)["code"])
	s.Equal(reason, (*body)["reason"])
}

func (s *HandlerSuite) TestActionFlow() {
	_, err := s.authority.Grant(s.ctx, models.GrantRequest{
		Capability: models.CapabilityRenderExport, Scope: "studio", TTL: time.Hour, RequiresACC: true,
	})
	s.Require().NoError(err)
	proposal := map[string]any{"export": "mix", "format": "wav"}
	authorize := authorizeRequest{Capability: string(models.CapabilityRenderExport), Output: "/exports/mix.wav"}
	authorize.Proposal, err = json.Marshal(proposal)
	s.Require().NoError(err)

	rr := s.postJSON("/v1/actions", map[string]any{"proposal": proposal})
	s.Require().Equal(http.StatusCreated, rr.Code)
	created := testutil.UnmarshalResponse[proposalResponse](s.T(), rr)
	s.Equal(string(confirmation.StateVisibleGhost), created.State)
	base := "/v1/actions/" + created.ContextID

	s.Run("unconfirmed proposal is denied", func() {
		s.assertDenied(s.postJSON(base+"/authorize", authorize), "action was not confirmed")
	})

	s.Run("only human gestures are forwarded", func() {
		testutil.AssertStatusAndError(s.T(), s.postJSON(base+"/gesture", gestureRequest{Event: "SHOW"}),
			http.StatusBadRequest, "validation_error")
	})

	s.Run("hold and confirm", func() {
		rr := s.postJSON(base+"/gesture", gestureRequest{Event: string(confirmation.EventHoldStart)})
		s.Require().Equal(http.StatusOK, rr.Code)
		s.clock.Advance(confirmation.DefaultHoldThreshold)
		rr = s.postJSON(base+"/gesture", gestureRequest{Event: string(confirmation.EventConfirm)})
		s.Require().Equal(http.StatusOK, rr.Code)
		s.Equal(string(confirmation.StateExecuted), testutil.UnmarshalResponse[proposalResponse](s.T(), rr).State)
	})

	s.Run("changed content is denied", func() {
		changed := authorize
		changed.Proposal = json.RawMessage(`{"export":"stems","format":"wav"}`)
		s.assertDenied(s.postJSON(base+"/authorize", changed), "proposal changed since confirmation")
	})

	var accID string
	s.Run("confirmed export halts for the challenge", func() {
		rr := s.postJSON(base+"/authorize", authorize)
		s.Require().Equal(http.StatusPreconditionRequired, rr.Code)
		body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		s.Equal(string(models.DecisionRequiresACC), (*body)["decision"])
		accID, _ = (*body)["acc_id"].(string)
		s.Require().NotEmpty(accID)
	})

	s.Run("answered challenge lets it through once", func() {
		rr := s.postJSON("/v1/acc/"+accID+"/response", accResponseRequest{Response: code})
		s.Require().Equal(http.StatusOK, rr.Code)

		rr = s.postJSON(base+"/authorize", authorize)
		s.Require().Equal(http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[map[string]any](s.T(), rr)
		s.Equal(string(models.DecisionAllowed), (*body)["decision"])

		testutil.AssertStatusAndError(s.T(), s.postJSON(base+"/authorize", authorize), http.StatusNotFound, "not_found")
	})

	s.Run("malformed context id", func() {
		testutil.AssertStatusAndError(s.T(), s.postJSON("/v1/actions/nope/authorize", authorize), http.StatusBadRequest, "invalid_input")
	})

	s.Run("empty proposal is refused", func() {
		testutil.AssertStatusAndError(s.T(), s.postJSON("/v1/actions", map[string]any{}), http.StatusBadRequest, "validation_error")
	})
}

func (s *HandlerSuite) TestSessionActivity() {
	rr := s.postJSON("/v1/session/activity", nil)
	s.Equal(http.StatusNoContent, rr.Code)
}
