package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/intake-labs/ire/pkg/canonicalize"
)

var (
	// ErrEmptyChain is returned when there is nothing to export.
	ErrEmptyChain = errors.New("audit: chain has no events")
	// ErrSignerNotConfigured is returned when export is invoked without a key.
	ErrSignerNotConfigured = errors.New("audit: signer not configured (fail-closed)")
	// ErrBundleTampered is returned when a bundle fails verification.
	ErrBundleTampered = errors.New("audit: bundle failed verification")
)

// Manifest describes one exported chain. The signature in the bundle
// covers the canonical form of this struct.
type Manifest struct {
	MessageID     string `json:"message_id"`
	RunID         string `json:"run_id"`
	EventCount    int    `json:"event_count"`
	ChainHead     string `json:"chain_head"`
	EventsSHA256  string `json:"events_sha256"`
	GeneratedAt   string `json:"generated_at"`
	PublicKeyB64  string `json:"public_key_b64"`
	SignatureNote string `json:"signature_note"`
}

// Exporter packages one audit chain into a signed evidence bundle:
// a zip holding events.jsonl, manifest.json and signature.
type Exporter struct {
	log  Log
	keys KeyProvider
}

// NewExporter wires an exporter over a log and a signing key.
func NewExporter(log Log, keys KeyProvider) *Exporter {
	return &Exporter{log: log, keys: keys}
}

// Bundle exports the chain for (messageID, runID). It refuses to export
// a chain that does not verify. Returns the zip bytes and its checksum.
func (e *Exporter) Bundle(ctx context.Context, messageID, runID string) ([]byte, string, error) {
	if e.keys == nil {
		return nil, "", ErrSignerNotConfigured
	}
	events, err := e.log.Chain(ctx, messageID, runID)
	if err != nil {
		return nil, "", err
	}
	if len(events) == 0 {
		return nil, "", ErrEmptyChain
	}
	if report := VerifyEvents(events); !report.OK() {
		return nil, "", fmt.Errorf("%w: link %d: %s", ErrBundleTampered, report.BrokenIndex, report.Reason)
	}

	var lines bytes.Buffer
	for _, ev := range events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, "", err
		}
		lines.Write(raw)
		lines.WriteByte('\n')
	}

	manifest := Manifest{
		MessageID:     messageID,
		RunID:         runID,
		EventCount:    len(events),
		ChainHead:     events[len(events)-1].EventHash,
		EventsSHA256:  canonicalize.Digest(lines.Bytes()),
		GeneratedAt:   FormatTime(time.Now()),
		PublicKeyB64:  base64.StdEncoding.EncodeToString(e.keys.PublicKey()),
		SignatureNote: "ed25519 over RFC8785(manifest)",
	}
	manifestCanon, err := canonicalize.JCS(manifest)
	if err != nil {
		return nil, "", err
	}
	sig, err := e.keys.Sign(manifestCanon)
	if err != nil {
		return nil, "", err
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{"events.jsonl", lines.Bytes()},
		{"manifest.json", manifestJSON},
		{"signature", sig},
	} {
		f, err := w.Create(entry.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := f.Write(entry.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	return zipBytes, canonicalize.Digest(zipBytes), nil
}

// VerifyBundle checks a bundle end to end: signature over the manifest,
// events digest, and the hash chain inside events.jsonl.
func VerifyBundle(zipBytes []byte) (*Manifest, error) {
	r, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleTampered, err)
	}
	files := make(map[string][]byte, 3)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBundleTampered, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBundleTampered, err)
		}
		files[f.Name] = data
	}

	manifestJSON, ok := files["manifest.json"]
	if !ok {
		return nil, fmt.Errorf("%w: manifest.json missing", ErrBundleTampered)
	}
	eventsJSONL, ok := files["events.jsonl"]
	if !ok {
		return nil, fmt.Errorf("%w: events.jsonl missing", ErrBundleTampered)
	}
	sig, ok := files["signature"]
	if !ok {
		return nil, fmt.Errorf("%w: signature missing", ErrBundleTampered)
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBundleTampered, err)
	}
	pub, err := base64.StdEncoding.DecodeString(manifest.PublicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad public key", ErrBundleTampered)
	}
	manifestCanon, err := canonicalize.JCS(manifest)
	if err != nil {
		return nil, err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), manifestCanon, sig) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrBundleTampered)
	}
	if canonicalize.Digest(eventsJSONL) != manifest.EventsSHA256 {
		return nil, fmt.Errorf("%w: events digest mismatch", ErrBundleTampered)
	}

	var events []Event
	dec := json.NewDecoder(bytes.NewReader(eventsJSONL))
	for {
		var e Event
		if err := dec.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBundleTampered, err)
		}
		events = append(events, e)
	}
	if len(events) != manifest.EventCount {
		return nil, fmt.Errorf("%w: event count mismatch", ErrBundleTampered)
	}
	if report := VerifyEvents(events); !report.OK() {
		return nil, fmt.Errorf("%w: link %d: %s", ErrBundleTampered, report.BrokenIndex, report.Reason)
	}
	if events[len(events)-1].EventHash != manifest.ChainHead {
		return nil, fmt.Errorf("%w: chain head mismatch", ErrBundleTampered)
	}
	return &manifest, nil
}
