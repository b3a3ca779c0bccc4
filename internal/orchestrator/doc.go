// Package orchestrator runs the query pipeline end to end: validate the
// request, retrieve evidence, compose the answer, shape the response.
//
// Each query walks a fixed state machine (received, validated, retrieved,
// composed, returned) recorded on its trace span, so a failed query shows
// exactly which phase it died in. Validation failures carry ErrValidation;
// downstream sentinels (retriever.ErrRetrievalUnavailable,
// composer.ErrComposition) pass through wrapped so transport layers can map
// them to status codes.
package orchestrator
