package attachments

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/intake-labs/ire/pkg/canonical"
	"github.com/intake-labs/ire/pkg/fault"
)

// ExecScanner shells out to an antivirus binary that reads the file on
// stdin and reports by exit code: 0 clean, 1 infected, anything else a
// scan failure. This matches the clamscan convention.
type ExecScanner struct {
	Cmd     string
	Args    []string
	Version string
}

func (s *ExecScanner) Scan(ctx context.Context, data []byte) (ScanResult, error) {
	if s.Cmd == "" {
		return ScanResult{}, fault.New(fault.KindDependencyUnavailable, canonical.StageAttachments, "av_scanner_unconfigured")
	}
	cmd := exec.CommandContext(ctx, s.Cmd, s.Args...)
	cmd.Stdin = bytes.NewReader(data)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return ScanResult{Status: canonical.AVClean, ScannerVersion: s.Version}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return ScanResult{
			Status:         canonical.AVInfected,
			ScannerVersion: s.Version,
			Signature:      firstLine(out.String()),
		}, nil
	}
	// A scanner that cannot run yields FAILED, not an error: the stage
	// records the verdict and gates the attachment.
	return ScanResult{Status: canonical.AVFailed, ScannerVersion: s.Version}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// testMarker mirrors the EICAR convention: fixture payloads containing
// it are reported infected without a real engine.
const testMarker = "IRE-AV-TEST-SIGNATURE"

// FixtureScanner is the deterministic scanner used in tests and local
// runs. It flags payloads carrying the test marker and never fails.
type FixtureScanner struct{}

func (FixtureScanner) Scan(_ context.Context, data []byte) (ScanResult, error) {
	if bytes.Contains(data, []byte(testMarker)) {
		return ScanResult{
			Status:         canonical.AVInfected,
			ScannerVersion: "fixture/1",
			Signature:      "Test.Marker.IRE",
		}, nil
	}
	return ScanResult{Status: canonical.AVClean, ScannerVersion: "fixture/1"}, nil
}
