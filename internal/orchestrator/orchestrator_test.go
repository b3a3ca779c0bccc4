package orchestrator_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tutord/internal/composer"
	"github.com/fyrsmithlabs/tutord/internal/orchestrator"
	"github.com/fyrsmithlabs/tutord/internal/retriever"
	"github.com/fyrsmithlabs/tutord/internal/vectorstore"
)

type fakeRetriever struct {
	evidence []retriever.Evidence
	err      error

	calls        int
	gotQuery     string
	gotMode      retriever.Mode
	gotSelection string
	gotOpts      retriever.Options
}

var _ orchestrator.QueryRetriever = (*fakeRetriever)(nil)

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, mode retriever.Mode, selection string, opts retriever.Options) ([]retriever.Evidence, error) {
	f.calls++
	f.gotQuery = query
	f.gotMode = mode
	f.gotSelection = selection
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.evidence, nil
}

type fakeComposer struct {
	answer composer.Answer
	err    error

	calls       int
	gotQuestion string
	gotEvidence []retriever.Evidence
}

var _ orchestrator.AnswerComposer = (*fakeComposer)(nil)

func (f *fakeComposer) Compose(ctx context.Context, question string, evidence []retriever.Evidence) (composer.Answer, error) {
	f.calls++
	f.gotQuestion = question
	f.gotEvidence = evidence
	if f.err != nil {
		return composer.Answer{}, f.err
	}
	return f.answer, nil
}

func someEvidence(n int) []retriever.Evidence {
	evs := make([]retriever.Evidence, n)
	for i := range evs {
		evs[i] = retriever.Evidence{
			Result: vectorstore.SearchResult{
				ID:    vectorstore.PointID("module-01-ros2/chapter-1", i),
				Score: 0.9 - float32(i)*0.05,
				Payload: vectorstore.ChunkPayload{
					ChapterID:    "module-01-ros2/chapter-1",
					ChapterTitle: "Nodes and Topics",
					SectionType:  "concepts",
					Index:        i,
				},
			},
			Combined: 0.9 - float64(i)*0.05,
		}
	}
	return evs
}

func coveredAnswer() composer.Answer {
	return composer.Answer{
		Text: "Nodes exchange typed messages over named topics. [Source 1]",
		Citations: []composer.Citation{
			{ChapterTitle: "Nodes and Topics", SectionType: "concepts", FilePath: "module-01-ros2/chapter-1.md", Score: 0.9},
		},
		Confidence: 0.87,
		Covered:    true,
	}
}

// words builds a selection of exactly n words.
func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "lidar"
	}
	return strings.Join(w, " ")
}

func TestStates_Order(t *testing.T) {
	want := []orchestrator.State{
		orchestrator.StateReceived,
		orchestrator.StateValidated,
		orchestrator.StateRetrieved,
		orchestrator.StateComposed,
		orchestrator.StateReturned,
	}
	assert.Equal(t, want, orchestrator.States())
}

func TestQuery_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     orchestrator.Request
		wantErr string
	}{
		{
			name:    "empty query",
			req:     orchestrator.Request{QueryText: ""},
			wantErr: "query_text is required",
		},
		{
			name:    "whitespace query",
			req:     orchestrator.Request{QueryText: "   \n\t  "},
			wantErr: "query_text is required",
		},
		{
			name:    "query too long",
			req:     orchestrator.Request{QueryText: strings.Repeat("a", 2001)},
			wantErr: "exceeds 2000 characters",
		},
		{
			name: "query at limit",
			req:  orchestrator.Request{QueryText: strings.Repeat("a", 2000)},
		},
		{
			name:    "unknown mode",
			req:     orchestrator.Request{QueryText: "what is a node?", Mode: "chapter"},
			wantErr: "query_mode",
		},
		{
			name:    "selection missing",
			req:     orchestrator.Request{QueryText: "explain this", Mode: "selected-text"},
			wantErr: "at least 20 words",
		},
		{
			name:    "selection five words",
			req:     orchestrator.Request{QueryText: "explain this", Mode: "selected-text", SelectedText: words(5)},
			wantErr: "at least 20 words",
		},
		{
			name: "selection twenty words",
			req:  orchestrator.Request{QueryText: "explain this", Mode: "selected-text", SelectedText: words(20)},
		},
		{
			name: "selection two thousand words",
			req:  orchestrator.Request{QueryText: "explain this", Mode: "selected-text", SelectedText: words(2000)},
		},
		{
			name:    "selection over limit",
			req:     orchestrator.Request{QueryText: "explain this", Mode: "selected-text", SelectedText: words(2001)},
			wantErr: "at most 2000 words",
		},
		{
			name:    "max results negative",
			req:     orchestrator.Request{QueryText: "what is a node?", MaxResults: -1},
			wantErr: "max_results",
		},
		{
			name:    "max results over cap",
			req:     orchestrator.Request{QueryText: "what is a node?", MaxResults: 21},
			wantErr: "max_results",
		},
		{
			name: "max results at cap",
			req:  orchestrator.Request{QueryText: "what is a node?", MaxResults: 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret := &fakeRetriever{evidence: someEvidence(1)}
			comp := &fakeComposer{answer: coveredAnswer()}
			o := orchestrator.New(ret, comp, zap.NewNop())

			_, err := o.Query(context.Background(), tt.req)

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, 1, ret.calls)
				return
			}
			require.ErrorIs(t, err, orchestrator.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Zero(t, ret.calls, "invalid requests must not reach the retriever")
			assert.Zero(t, comp.calls, "invalid requests must not reach the composer")
		})
	}
}

func TestQuery_FullBookDefaults(t *testing.T) {
	ret := &fakeRetriever{evidence: someEvidence(2)}
	comp := &fakeComposer{answer: coveredAnswer()}
	o := orchestrator.New(ret, comp, zap.NewNop())

	resp, err := o.Query(context.Background(), orchestrator.Request{
		QueryText: "  How do ROS 2 nodes communicate?  ",
	})
	require.NoError(t, err)

	assert.Equal(t, "How do ROS 2 nodes communicate?", ret.gotQuery, "query is trimmed before retrieval")
	assert.Equal(t, retriever.ModeFullBook, ret.gotMode, "mode defaults to full-book")
	assert.Empty(t, ret.gotSelection)
	assert.Equal(t, 5, ret.gotOpts.K, "max results defaults to 5")

	assert.Equal(t, "How do ROS 2 nodes communicate?", comp.gotQuestion)
	assert.Equal(t, ret.evidence, comp.gotEvidence, "composer sees exactly the retrieved evidence")

	assert.Equal(t, coveredAnswer(), resp.Answer)
	assert.Equal(t, 2, resp.Retrieved)
}

func TestQuery_SelectedTextMode(t *testing.T) {
	ret := &fakeRetriever{evidence: someEvidence(1)}
	comp := &fakeComposer{answer: coveredAnswer()}
	o := orchestrator.New(ret, comp, zap.NewNop())

	selection := words(25)
	resp, err := o.Query(context.Background(), orchestrator.Request{
		QueryText:    "What does this passage describe?",
		Mode:         "selected-text",
		SelectedText: selection,
		MaxResults:   3,
		SessionID:    "sess-42",
	})
	require.NoError(t, err)

	assert.Equal(t, retriever.ModeSelectedText, ret.gotMode)
	assert.Equal(t, selection, ret.gotSelection)
	assert.Equal(t, 3, ret.gotOpts.K)
	assert.Equal(t, "sess-42", resp.SessionID, "provided session IDs are echoed back")
}

func TestQuery_GeneratesSessionID(t *testing.T) {
	ret := &fakeRetriever{evidence: someEvidence(1)}
	comp := &fakeComposer{answer: coveredAnswer()}
	o := orchestrator.New(ret, comp, zap.NewNop())

	resp, err := o.Query(context.Background(), orchestrator.Request{QueryText: "what is a node?"})
	require.NoError(t, err)

	require.NotEmpty(t, resp.SessionID)
	_, err = uuid.Parse(resp.SessionID)
	assert.NoError(t, err, "generated session IDs are UUIDs")
}

func TestQuery_RetrievalUnavailable(t *testing.T) {
	ret := &fakeRetriever{err: fmt.Errorf("qdrant down: %w", retriever.ErrRetrievalUnavailable)}
	comp := &fakeComposer{answer: coveredAnswer()}
	o := orchestrator.New(ret, comp, zap.NewNop())

	_, err := o.Query(context.Background(), orchestrator.Request{QueryText: "what is a node?"})

	require.ErrorIs(t, err, retriever.ErrRetrievalUnavailable)
	assert.Zero(t, comp.calls, "chat model must not be consulted when retrieval fails")
}

func TestQuery_CompositionError(t *testing.T) {
	ret := &fakeRetriever{evidence: someEvidence(1)}
	comp := &fakeComposer{err: fmt.Errorf("%w: model unavailable", composer.ErrComposition)}
	o := orchestrator.New(ret, comp, zap.NewNop())

	_, err := o.Query(context.Background(), orchestrator.Request{QueryText: "what is a node?"})

	require.ErrorIs(t, err, composer.ErrComposition)
}

func TestQuery_RefusalPassesThrough(t *testing.T) {
	refusal := composer.Answer{
		Text:    "I don't have enough information in the textbook to answer this question.",
		Covered: false,
	}
	ret := &fakeRetriever{}
	comp := &fakeComposer{answer: refusal}
	o := orchestrator.New(ret, comp, zap.NewNop())

	resp, err := o.Query(context.Background(), orchestrator.Request{QueryText: "What is the capital of France?"})
	require.NoError(t, err)

	assert.False(t, resp.Answer.Covered)
	assert.Zero(t, resp.Retrieved)
	assert.Empty(t, resp.Answer.Citations)
}
