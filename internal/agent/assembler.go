package agent

import (
	"errors"
	"io"

	"github.com/danshapiro/socratic/internal/llm"
	"github.com/danshapiro/socratic/internal/turnlog"
)

// ErrEmptyStream indicates a streaming call yielded zero deltas.
var ErrEmptyStream = errors.New("stream produced no deltas")

// Assembler materializes a lazy delta sequence into a store-backed turn.
type Assembler struct {
	Store *turnlog.Store
}

// Assemble pulls the first delta before creating any turn, so an empty
// stream produces nothing (no visible empty bubble). It returns the id of
// the created turn, or "" when the stream was empty. The turn streams
// (IsStreaming=true, one update per delta) until the sequence ends or
// errors, at which point content is frozen. Cancellation is caller-driven:
// stop pulling and the transport is abandoned.
func (a *Assembler) Assemble(role turnlog.Role, st llm.Stream) (string, error) {
	defer st.Close()

	first, err := st.Recv()
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	id := a.Store.Append(turnlog.Turn{
		Role:        role,
		Content:     first,
		IsStreaming: true,
	})

	for {
		delta, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			a.freeze(id)
			return id, err
		}
		if delta == "" {
			continue
		}
		a.Store.Update(id, turnlog.Update{AppendContent: &delta})
	}
	a.freeze(id)
	return id, nil
}

func (a *Assembler) freeze(id string) {
	done := false
	a.Store.Update(id, turnlog.Update{IsStreaming: &done})
}
