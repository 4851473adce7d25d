package ragflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TokenSink receives incremental answer text as it is extracted from the
// stream.
type TokenSink interface {
	StreamToken(ctx context.Context, delta string) error
}

// TokenSinkFunc adapts a function to the TokenSink interface.
type TokenSinkFunc func(ctx context.Context, delta string) error

func (f TokenSinkFunc) StreamToken(ctx context.Context, delta string) error {
	return f(ctx, delta)
}

// Citation is one referenced document, unique by ID.
type Citation struct {
	ID   string
	Name string
}

// Answer is the accumulated result of one streamed completion.
type Answer struct {
	Text      string
	Citations []Citation
}

// Ingestor consumes the backend's SSE-framed completion stream. Each record
// carries the answer as a cumulative prefix, not a delta: the ingestor diffs
// against what it already emitted and forwards only the new suffix.
// Citations are collected from whichever of the two reference shapes the
// backend speaks, deduplicated by document id in first-seen order.
type Ingestor struct {
	sink TokenSink

	sent      string
	citations []Citation
	seen      map[string]bool
}

// ssePrefix frames every payload line of the chunked response.
const ssePrefix = "data:"

type streamRecord struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

type streamPayload struct {
	Answer    string `json:"answer"`
	Reference *struct {
		DocAggs []struct {
			DocID   string `json:"doc_id"`
			DocName string `json:"doc_name"`
		} `json:"doc_aggs"`
		Chunks []struct {
			DocumentID   string `json:"document_id"`
			DocumentName string `json:"document_name"`
		} `json:"chunks"`
	} `json:"reference"`
}

// NewIngestor returns an ingestor emitting deltas to sink.
func NewIngestor(sink TokenSink) *Ingestor {
	return &Ingestor{sink: sink, seen: map[string]bool{}}
}

// Run reads the stream to completion. Malformed lines are skipped; the
// terminal {code:0, data:true} record ends ingestion without error, as does
// the end of the body.
func (ing *Ingestor) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		done, err := ing.ProcessLine(ctx, scanner.Bytes())
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read completion stream")
	}
	return nil
}

// ProcessLine handles one line of the stream. It reports done=true on the
// completion record. The only error it returns is a sink failure; bad input
// is dropped.
func (ing *Ingestor) ProcessLine(ctx context.Context, line []byte) (bool, error) {
	line = bytes.TrimSpace(line)
	line = bytes.TrimPrefix(line, []byte(ssePrefix))
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false, nil
	}

	var rec streamRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		log.Debug().Err(err).Msg("skipping malformed stream line")
		return false, nil
	}
	if rec.Code != 0 || len(rec.Data) == 0 {
		return false, nil
	}

	// {code:0, data:true} signals completion.
	if string(bytes.TrimSpace(rec.Data)) == "true" {
		return true, nil
	}

	var payload streamPayload
	if err := json.Unmarshal(rec.Data, &payload); err != nil {
		log.Debug().Err(err).Msg("skipping stream record with unexpected data shape")
		return false, nil
	}

	ing.collectCitations(&payload)

	if payload.Answer != "" && payload.Answer != ing.sent {
		delta := diffCumulative(ing.sent, payload.Answer)
		if delta != "" {
			if err := ing.sink.StreamToken(ctx, delta); err != nil {
				return false, errors.Wrap(err, "emit token delta")
			}
			ing.sent = payload.Answer
		}
	}
	return false, nil
}

// Answer returns the accumulated text and citations seen so far.
func (ing *Ingestor) Answer() *Answer {
	return &Answer{Text: ing.sent, Citations: ing.citations}
}

// collectCitations prefers the aggregated doc_aggs shape and falls back to
// per-chunk citations on older backends. The two shapes are mutually
// exclusive within one response generation.
func (ing *Ingestor) collectCitations(p *streamPayload) {
	if p.Reference == nil {
		return
	}
	if len(p.Reference.DocAggs) > 0 {
		for _, d := range p.Reference.DocAggs {
			ing.addCitation(d.DocID, d.DocName)
		}
		return
	}
	for _, c := range p.Reference.Chunks {
		ing.addCitation(c.DocumentID, c.DocumentName)
	}
}

func (ing *Ingestor) addCitation(id, name string) {
	if id == "" || name == "" || ing.seen[id] {
		return
	}
	ing.seen[id] = true
	ing.citations = append(ing.citations, Citation{ID: id, Name: name})
}

// diffCumulative returns the part of next that extends sent. If the
// cumulative contract is violated (next does not extend sent), the whole
// payload is treated as new text rather than dropped.
func diffCumulative(sent, next string) string {
	if strings.HasPrefix(next, sent) {
		return next[len(sent):]
	}
	if len(next) <= len(sent) {
		return ""
	}
	return next[len(sent):]
}
