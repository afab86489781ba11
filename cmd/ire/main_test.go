package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = "../../config/ire.yaml"

const claimEML = "From: Max Muster <max.muster@example.com>\r\n" +
	"To: schaden@versicherung.example\r\n" +
	"Subject: Schadenmeldung CLM-2024-0042\r\n" +
	"Message-Id: <claim-42@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Guten Tag, ich moechte einen Schaden melden. Es war ein Unfall.\r\n"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

type processOutput struct {
	MessageID string         `json:"message_id"`
	RunID     string         `json:"run_id"`
	Duplicate bool           `json:"duplicate"`
	Decision  map[string]any `json:"decision"`
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version", "--config", testConfig, "--data", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "ire "+version)
	assert.Contains(t, out, "ruleset 2024.6.0")
}

func TestCheckRegistryCommand(t *testing.T) {
	out, err := runCLI(t, "check-registry", "--config", testConfig, "--data", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "registry consistent")
}

func TestProcessCommandRoutesAndRecords(t *testing.T) {
	data := t.TempDir()
	eml := filepath.Join(t.TempDir(), "claim.eml")
	require.NoError(t, os.WriteFile(eml, []byte(claimEML), 0o644))

	out, err := runCLI(t, "process", "--config", testConfig, "--data", data, "--eml", eml, "--json")
	require.NoError(t, err)

	var res processOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Duplicate)
	// No directory behind the CLI fixture, so the sender has no
	// confirmed identity and routing lands in identity review.
	assert.Equal(t, "QUEUE_IDENTITY_REVIEW", res.Decision["queue_id"])
	assert.NotEmpty(t, res.Decision["decision_hash"])

	// Redelivery reproduces, not recomputes.
	out, err = runCLI(t, "process", "--config", testConfig, "--data", data, "--eml", eml, "--json")
	require.NoError(t, err)
	var again processOutput
	require.NoError(t, json.Unmarshal([]byte(out), &again))
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.Decision["decision_hash"], again.Decision["decision_hash"])

	// The chain it left behind verifies.
	out, err = runCLI(t, "verify-audit", "--config", testConfig, "--data", data)
	require.NoError(t, err)
	assert.Contains(t, out, "0 broken")

	// And replays deterministically.
	_, err = runCLI(t, "replay", "--config", testConfig, "--data", data, "--message", res.MessageID)
	require.NoError(t, err)
}

func TestReplayUnknownMessage(t *testing.T) {
	_, err := runCLI(t, "replay", "--config", testConfig, "--data", t.TempDir(), "--message", "nope")
	require.Error(t, err)
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 20, ee.Code)
}

func TestSweepCommandEmpty(t *testing.T) {
	out, err := runCLI(t, "sweep", "--config", testConfig, "--data", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "scanned 0")
}
