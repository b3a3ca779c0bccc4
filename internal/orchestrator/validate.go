package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/tutord/internal/retriever"
)

// ErrValidation marks a request that failed input validation. The wrapped
// message names the failing field.
var ErrValidation = errors.New("invalid query request")

const (
	// maxQueryChars bounds the question length in characters.
	maxQueryChars = 2000

	// minSelectionWords and maxSelectionWords bound the highlighted passage
	// in selected-text mode, both inclusive.
	minSelectionWords = 20
	maxSelectionWords = 2000

	// defaultMaxResults and maxResultsCap bound the retrieved chunk count.
	defaultMaxResults = 5
	maxResultsCap     = 20
)

// validate normalizes a request or rejects it with ErrValidation. The
// returned copy has the query trimmed, the mode defaulted, max results
// resolved, and a session ID filled in when the caller sent none.
func validate(req Request) (Request, error) {
	req.QueryText = strings.TrimSpace(req.QueryText)
	if req.QueryText == "" {
		return Request{}, fmt.Errorf("%w: query_text is required", ErrValidation)
	}
	if n := utf8.RuneCountInString(req.QueryText); n > maxQueryChars {
		return Request{}, fmt.Errorf("%w: query_text exceeds %d characters (got %d)", ErrValidation, maxQueryChars, n)
	}

	if req.Mode == "" {
		req.Mode = string(retriever.ModeFullBook)
	}
	mode := retriever.Mode(req.Mode)
	if !mode.Valid() {
		return Request{}, fmt.Errorf("%w: query_mode must be %q or %q (got %q)",
			ErrValidation, retriever.ModeFullBook, retriever.ModeSelectedText, req.Mode)
	}

	if mode == retriever.ModeSelectedText {
		words := len(strings.Fields(req.SelectedText))
		if words < minSelectionWords {
			return Request{}, fmt.Errorf("%w: selected_text must have at least %d words (got %d)",
				ErrValidation, minSelectionWords, words)
		}
		if words > maxSelectionWords {
			return Request{}, fmt.Errorf("%w: selected_text must have at most %d words (got %d)",
				ErrValidation, maxSelectionWords, words)
		}
	}

	switch {
	case req.MaxResults == 0:
		req.MaxResults = defaultMaxResults
	case req.MaxResults < 1 || req.MaxResults > maxResultsCap:
		return Request{}, fmt.Errorf("%w: max_results must be between 1 and %d (got %d)",
			ErrValidation, maxResultsCap, req.MaxResults)
	}

	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	return req, nil
}
