package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/MJE43/plinko-fair/internal/engine"
	"github.com/MJE43/plinko-fair/internal/fairness"
	"github.com/MJE43/plinko-fair/internal/logger"
	"github.com/MJE43/plinko-fair/internal/payout"
	"github.com/MJE43/plinko-fair/internal/plinko"
	"github.com/MJE43/plinko-fair/internal/scan"
)

func setupCLI(t *testing.T) {
	t.Helper()
	keyring.MockInit()
	dir := t.TempDir()
	t.Setenv("PLINKO_STORAGE_TYPE", "sqlite")
	t.Setenv("PLINKO_STORAGE_SQLITE_PATH", filepath.Join(dir, "rounds.db"))
	t.Setenv("PLINKO_VAULT_BACKEND", "keyring")
	t.Setenv("PLINKO_VAULT_FALLBACK_PATH", filepath.Join(dir, "seeds.json"))
	t.Setenv("PLINKO_LOG_NO_COLOR", "true")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	missing := filepath.Join(t.TempDir(), "config.yaml")
	cmd.SetArgs(append([]string{"--config", missing}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := run(t, append(args, "--json")...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestPlayRotateVerifyFlow(t *testing.T) {
	setupCLI(t)

	var c engine.Commitment
	runJSON(t, &c, "session", "new", "--client-seed", "player-one")
	require.NotEmpty(t, c.SessionID)
	assert.Equal(t, "player-one", c.ClientSeed)
	assert.Equal(t, uint64(0), c.Nonce)
	assert.Len(t, c.ServerSeedHash, 64)

	var played []Round
	runJSON(t, &played, "play", c.SessionID, "--count", "3", "--rows", "12", "--risk", "high")
	require.Len(t, played, 3)
	for i, r := range played {
		assert.Equal(t, uint64(i+1), r.Nonce)
		assert.Equal(t, 12, r.Rows)
		assert.Len(t, r.Path, 12)
		assert.Equal(t, r.Path.Sum(), r.SlotIndex)
		assert.True(t, r.Multiplier.IsPositive())
	}

	var shown engine.Commitment
	runJSON(t, &shown, "session", "show", c.SessionID)
	assert.Equal(t, uint64(3), shown.Nonce)

	var reveal engine.Reveal
	runJSON(t, &reveal, "rotate", c.SessionID)
	assert.Equal(t, c.ServerSeedHash, reveal.ServerSeedHash)
	assert.Equal(t, uint64(3), reveal.FinalNonce)
	assert.Equal(t, uint64(0), reveal.Next.Nonce)
	assert.Equal(t, 1, reveal.Next.Rotation)
	assert.NotEqual(t, c.ServerSeedHash, reveal.Next.ServerSeedHash)

	var report verifyReport
	runJSON(t, &report, "verify",
		"--server-seed", reveal.ServerSeed,
		"--client-seed", "player-one",
		"--commitment", c.ServerSeedHash,
		"--nonce", "1", "--count", "3",
		"--rows", "12", "--risk", "high")
	require.NotNil(t, report.CommitmentOK)
	assert.True(t, *report.CommitmentOK)
	require.Len(t, report.Rounds, 3)
	for i := range played {
		assert.Equal(t, played[i].Nonce, report.Rounds[i].Nonce)
		assert.Equal(t, played[i].DigestHex, report.Rounds[i].DigestHex)
		assert.Equal(t, played[i].SlotIndex, report.Rounds[i].SlotIndex)
		assert.True(t, played[i].Multiplier.Equal(report.Rounds[i].Multiplier))
	}
}

func TestVerifyRejectsWrongCommitment(t *testing.T) {
	setupCLI(t)

	_, err := run(t, "verify",
		"--server-seed", "revealed",
		"--client-seed", "client",
		"--commitment", strings.Repeat("0", 64))
	assert.ErrorIs(t, err, errCommitmentMismatch)
}

func TestVerifyMatchesCompute(t *testing.T) {
	setupCLI(t)

	var report verifyReport
	runJSON(t, &report, "verify", "--server-seed", "server", "--client-seed", "client", "--nonce", "7", "--rows", "8")
	require.Len(t, report.Rounds, 1)
	assert.Nil(t, report.CommitmentOK)

	want, err := engine.Compute("server", "client", 7, 8, "latin1")
	require.NoError(t, err)
	assert.Equal(t, want.DigestHex, report.Rounds[0].DigestHex)
	assert.Equal(t, want.SlotIndex, report.Rounds[0].SlotIndex)
}

func TestPlayUnknownSession(t *testing.T) {
	setupCLI(t)

	_, err := run(t, "play", "no-such-session")
	assert.Error(t, err)
}

func TestPlayRejectsBadRows(t *testing.T) {
	setupCLI(t)

	var c engine.Commitment
	runJSON(t, &c, "session", "new")
	_, err := run(t, "play", c.SessionID, "--rows", "7")
	assert.Error(t, err)

	var shown engine.Commitment
	runJSON(t, &shown, "session", "show", c.SessionID)
	assert.Equal(t, uint64(0), shown.Nonce, "a rejected board must not consume a nonce")
}

func TestPlayRowsFlagIsParsed(t *testing.T) {
	setupCLI(t)

	var c engine.Commitment
	runJSON(t, &c, "session", "new")

	_, err := run(t, "play", c.SessionID, "--rows", "twelve")
	assert.ErrorIs(t, err, plinko.ErrInvalidRows)
	_, err = run(t, "verify", "--server-seed", "s", "--client-seed", "c", "--rows", "9x")
	assert.ErrorIs(t, err, plinko.ErrInvalidRows)

	var played []Round
	runJSON(t, &played, "play", c.SessionID, "--rows", " 10 ")
	require.Len(t, played, 1)
	assert.Equal(t, 10, played[0].Rows)
	assert.Equal(t, uint64(1), played[0].Nonce, "unparseable rows must not consume a nonce")
}

// stopAfter plays n rounds through the engine and then fails.
type stopAfter struct {
	e   *engine.Engine
	n   int
	err error
}

func (s *stopAfter) NextOutcome(ctx context.Context, id string, rows int) (engine.Outcome, error) {
	if s.n == 0 {
		return engine.Outcome{}, s.err
	}
	s.n--
	return s.e.NextOutcome(ctx, id, rows)
}

func TestPlayReportsRoundsBeforeFailure(t *testing.T) {
	setupCLI(t)

	var c engine.Commitment
	runJSON(t, &c, "session", "new", "--client-seed", "c")

	a := &app{configPath: filepath.Join(t.TempDir(), "config.yaml"), jsonOut: true}
	cmd := &cobra.Command{}
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	require.NoError(t, a.load(cmd))
	a.log = logger.Discard()

	e, st, err := a.openEngine(context.Background())
	require.NoError(t, err)
	defer st.Close()

	errStorage := errors.New("storage went away")
	table := payout.MustDefault()
	rounds, playErr := playRounds(context.Background(), &stopAfter{e: e, n: 2, err: errStorage}, table, c.SessionID, 8, payout.RiskLow, 5)
	require.ErrorIs(t, playErr, errStorage)
	require.Len(t, rounds, 2)

	err = a.finishPlay(cmd, rounds, 5, playErr)
	require.ErrorIs(t, err, errStorage)
	assert.Contains(t, err.Error(), "played 2 of 5 rounds")

	var printed []Round
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &printed), stdout.String())
	require.Len(t, printed, 2)
	assert.Equal(t, uint64(1), printed[0].Nonce)
	assert.Equal(t, uint64(2), printed[1].Nonce)

	stdout.Reset()
	err = a.finishPlay(cmd, nil, 5, errStorage)
	require.ErrorIs(t, err, errStorage)
	assert.Empty(t, stdout.String(), "nothing to print when no round completed")
}

func TestSessionShowReveals(t *testing.T) {
	setupCLI(t)

	var c engine.Commitment
	runJSON(t, &c, "session", "new", "--client-seed", "first")

	var history sessionHistory
	runJSON(t, &history, "session", "show", c.SessionID, "--reveals")
	assert.Empty(t, history.Reveals)

	_, err := run(t, "play", c.SessionID, "--count", "2")
	require.NoError(t, err)
	var first engine.Reveal
	runJSON(t, &first, "rotate", c.SessionID, "--client-seed", "second")
	_, err = run(t, "play", c.SessionID)
	require.NoError(t, err)
	var second engine.Reveal
	runJSON(t, &second, "rotate", c.SessionID)

	runJSON(t, &history, "session", "show", c.SessionID, "--reveals")
	assert.Equal(t, 2, history.Rotation)
	assert.Equal(t, uint64(0), history.Nonce)
	require.Len(t, history.Reveals, 2)

	got := history.Reveals[0]
	assert.Equal(t, 0, got.Rotation)
	assert.Equal(t, c.ServerSeedHash, got.ServerSeedHash)
	assert.Equal(t, first.ServerSeed, got.ServerSeed)
	assert.Equal(t, "first", got.ClientSeed)
	assert.Equal(t, uint64(2), got.FinalNonce)

	got = history.Reveals[1]
	assert.Equal(t, 1, got.Rotation)
	assert.Equal(t, first.Next.ServerSeedHash, got.ServerSeedHash)
	assert.Equal(t, second.ServerSeed, got.ServerSeed)
	assert.Equal(t, "second", got.ClientSeed)
	assert.Equal(t, uint64(1), got.FinalNonce)

	out, err := run(t, "session", "show", c.SessionID, "--reveals")
	require.NoError(t, err)
	assert.Contains(t, out, first.ServerSeed)
	assert.Contains(t, out, second.ServerSeed)
}

func TestSessionList(t *testing.T) {
	setupCLI(t)

	for i := 0; i < 3; i++ {
		_, err := run(t, "session", "new")
		require.NoError(t, err)
	}
	out, err := run(t, "session", "list", "--per-page", "2", "--json")
	require.NoError(t, err)
	var list struct {
		Sessions   []json.RawMessage `json:"sessions"`
		TotalCount int               `json:"totalCount"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list.Sessions, 2)
	assert.Equal(t, 3, list.TotalCount)
}

func TestValidate(t *testing.T) {
	setupCLI(t)

	var report fairness.Report
	runJSON(t, &report, "validate")
	assert.Len(t, report.Checks, 27)
	for _, c := range report.Checks {
		assert.True(t, c.Pass, "%s/%d", c.Risk, c.Rows)
	}

	_, err := run(t, "validate", "--ceiling", "98.95")
	assert.ErrorIs(t, err, errValidationFailed)
}

func TestHash(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "hash", "abc")
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad\n", out)

	_, err = run(t, "hash", "日本")
	assert.Error(t, err, "latin1 cannot encode CJK text")

	_, err = run(t, "hash", "日本", "--encoding", "utf8")
	assert.NoError(t, err)
}

func TestScan(t *testing.T) {
	setupCLI(t)

	var res scan.Result
	runJSON(t, &res, "scan",
		"--server-seed", "server", "--client-seed", "client",
		"--from", "1", "--to", "500",
		"--rows", "8", "--op", "ge", "--target", "0", "--limit", "10")
	assert.Equal(t, uint64(500), res.Summary.TotalEvaluated)
	assert.Equal(t, uint64(500), res.Summary.HitsFound)
	require.Len(t, res.Hits, 10)
	assert.Equal(t, uint64(1), res.Hits[0].Nonce)
	assert.False(t, res.Summary.TimedOut)
	assert.True(t, res.Summary.HitsTruncated)
	assert.Equal(t, uint64(500), res.Summary.Histogram.Total)
}

func TestScanRequiresSeeds(t *testing.T) {
	setupCLI(t)

	_, err := run(t, "scan", "--client-seed", "client")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}
