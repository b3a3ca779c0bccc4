// Package retriever finds textbook chunks relevant to a student question.
//
// Two modes are supported. Full-book mode embeds the question and searches
// the whole collection, keeping hits above a relevance threshold.
// Selected-text mode grounds the search in a highlighted passage: the
// question and selection are embedded separately and averaged, a lower
// vector threshold applies, and surviving hits are re-ranked by keyword
// overlap with the question so that a passage about the right topic beats a
// passage that is merely nearby in embedding space.
//
// Returned evidence is ordered by combined score descending with ties
// broken by ascending chunk index, so identical inputs always produce
// identical orderings.
package retriever
