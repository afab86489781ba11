// Package ingest feeds raw MIME messages into the pipeline. Sources
// implement durable cursor semantics: a message is only marked
// consumed after the pipeline has persisted it.
package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RawMessage is one inbound message before any processing.
type RawMessage struct {
	SourceMessageID string
	Source          string
	RawMIME         []byte
}

// Source yields raw messages. Next returns nil when the source is
// drained; Commit durably advances the cursor past the message.
type Source interface {
	Next(ctx context.Context) (*RawMessage, error)
	Commit(ctx context.Context, sourceMessageID string) error
}

// MessageID derives the pipeline message id from the source identity
// so reingesting the same source message maps to the same id.
func MessageID(source, sourceMessageID string) string {
	name := fmt.Sprintf("msg:%s:%s", source, sourceMessageID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// RunID derives the run id for a message's first processing of a
// given raw payload. Identical bytes share a run key; REPROCESS runs
// use ReprocessRunID instead.
func RunID(messageID, rawSHA256 string) string {
	name := fmt.Sprintf("run:%s:%s", messageID, rawSHA256)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// ReprocessRunID derives the run id of the n-th reprocess of a
// message.
func ReprocessRunID(messageID, rawSHA256 string, n int) string {
	name := fmt.Sprintf("reprocess:%s:%s:%d", messageID, rawSHA256, n)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
