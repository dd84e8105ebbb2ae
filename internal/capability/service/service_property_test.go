//go:build property

package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"actiongate/internal/acc"
	"actiongate/internal/audit"
	"actiongate/internal/capability/models"
	"actiongate/internal/enforcement"
	id "actiongate/pkg/domain"
	"actiongate/pkg/platform/clock"
)

// Property: a grant stops authorizing at issuedAt + ttl without revocation.
func TestGrantsExpireOnTheirOwn(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("check is denied once now >= issuedAt + ttl", prop.ForAll(
		func(ttlSec, overSec int, capIdx int) bool {
			c := clock.NewFake(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			log := audit.NewLog("property", audit.WithClock(c), audit.WithLogger(logger))
			guard, _ := enforcement.NewGuard(enforcement.NewHeadless(), enforcement.WithGuardLogger(logger))
			authority, _ := New(log, acc.New(log, acc.WithClock(c)), guard, WithClock(c), WithLogger(logger))
			ctx := context.Background()

			// TEXT_INPUT is never allowed by the headless adapter.
			caps := []models.Capability{
				models.CapabilityParameterAdjustment,
				models.CapabilityTransportControl,
				models.CapabilityUINavigation,
				models.CapabilityFileRead,
			}
			capability := caps[capIdx%len(caps)]
			ttl := time.Duration(ttlSec) * time.Second
			if _, err := authority.Grant(ctx, models.GrantRequest{Capability: capability, Scope: "p", TTL: ttl}); err != nil {
				return false
			}
			actx, _ := id.NewActionContext("property", c.Now())
			req := models.CheckRequest{Capability: capability, Scope: "p", Context: actx}
			if authority.Check(ctx, req).Decision != models.DecisionAllowed {
				return false
			}
			c.Advance(ttl + time.Duration(overSec)*time.Second)
			return authority.Check(ctx, req).Decision == models.DecisionDenied
		},
		gen.IntRange(1, 7200),
		gen.IntRange(0, 3600),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// Property: revokeAll twice ends in the same state as once.
func TestRevokeAllIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("revokeAll leaves no active grants however often it runs", prop.ForAll(
		func(grants, revokes int) bool {
			c := clock.NewFake(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			log := audit.NewLog("property", audit.WithClock(c), audit.WithLogger(logger))
			guard, _ := enforcement.NewGuard(enforcement.NewHeadless())
			authority, _ := New(log, acc.New(log, acc.WithClock(c)), guard, WithClock(c), WithLogger(logger))
			ctx := context.Background()
			for i := 0; i < grants; i++ {
				_, _ = authority.Grant(ctx, models.GrantRequest{Capability: models.CapabilityFileRead, Scope: "p", TTL: time.Hour})
			}
			for i := 0; i < revokes; i++ {
				authority.RevokeAll(ctx, "property")
			}
			return len(authority.ActiveGrants()) == 0
		},
		gen.IntRange(0, 10),
		gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}
