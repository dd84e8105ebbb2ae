package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"actiongate/internal/acc"
	"actiongate/internal/audit"
	"actiongate/internal/capability/models"
	"actiongate/internal/capability/service"
	"actiongate/internal/enforcement"
	dErrors "actiongate/pkg/domain-errors"
	"actiongate/pkg/platform/clock"
	"actiongate/pkg/testutil"
)

// Justification: revocation must win over a challenge the human has not
// answered yet; a late correct response cannot resurrect the export.
func TestRevokeWhileChallengePending(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	log := audit.NewLog("scenario", audit.WithClock(clk), audit.WithLogger(logger))
	challenges := acc.New(log, acc.WithClock(clk), acc.WithLogger(logger),
		acc.WithGenerator(func(kind acc.Kind) (acc.Challenge, error) {
			return acc.Challenge{Kind: kind, Prompt: "Type " + code, Response: code}, nil
		}))
	guard, err := enforcement.NewGuard(enforcement.NewHeadless(enforcement.WithSettle(0)))
	require.NoError(t, err)
	authority, err := service.New(log, challenges, guard, service.WithClock(clk), service.WithLogger(logger))
	require.NoError(t, err)

	var (
		sess   *Session
		halted models.CheckResult
		runs   int
	)
	export := ExecuteRequest{Capability: models.CapabilityRenderExport, Proposal: "bounce.wav", Output: "/exports/bounce.wav"}
	fn := func(context.Context) error { runs++; return nil }

	testutil.Given(t, "a session whose export grant requires a challenge", func(t *testing.T) {
		sess, err = New(ctx, log, authority, challenges, WithClock(clk), WithLogger(logger),
			WithPreset(Preset{Name: "export", Entries: []models.PresetEntry{
				{Capability: models.CapabilityRenderExport, TTL: time.Hour, RequiresACC: true},
			}}))
		require.NoError(t, err)
	})

	m, err := sess.Propose(ctx, "bounce.wav")
	require.NoError(t, err)
	_, err = m.Show(ctx)
	require.NoError(t, err)
	_, err = m.HoldStart(ctx)
	require.NoError(t, err)
	clk.Advance(sess.holdThreshold)
	_, err = m.Confirm(ctx)
	require.NoError(t, err)

	testutil.When(t, "the confirmed export halts for the challenge", func(t *testing.T) {
		halted, err = sess.Execute(ctx, m, export, fn)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeACCRequired))
		require.NotNil(t, halted.Challenge)
	})

	testutil.When(t, "the operator revokes every authority", func(t *testing.T) {
		assert.Equal(t, 1, authority.RevokeAll(ctx, "operator panic button"))
	})

	testutil.Then(t, "the late response and the retry both fail", func(t *testing.T) {
		_, err := challenges.Validate(ctx, halted.Challenge.ACCID, code)
		assert.Error(t, err)

		res, err := sess.Execute(ctx, m, export, fn)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeCapabilityDenied))
		assert.Equal(t, models.DecisionDenied, res.Decision)
		assert.Zero(t, runs)
	})

	testutil.Then(t, "the chain still verifies", func(t *testing.T) {
		assert.NoError(t, log.Verify(ctx))
	})
}
