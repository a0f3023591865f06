// Package keypager provides keyset (cursor) pagination primitives for
// MongoDB and GORM.
//
// Overview
//
// keypager never runs a query on its own. Given an ordering, an optional
// cursor token, a limit and a direction it computes:
//   - the normalized ordering, always closed by a unique tie-breaker column
//     ("_id" by default);
//   - the filter selecting the rows strictly past the cursor, as a DNF
//     Predicate rendered to BSON, SQL or a GORM clause;
//   - the effective ordering and the dataset limit (limit+1) to execute;
//   - the page built from the fetched window, with next/previous tokens.
//
// Key concepts
//   - CursorPager: orchestrates one page read and applies it to GORM
//     queries, Mongo find options or aggregation pipelines.
//   - Orderings: multi-column ordering with ASC, DESC or SCORE (text search
//     relevance) directions.
//   - Value and Encode/Decode: typed boundary values and the opaque token
//     carrying them.
//   - Extractor: reads boundary values from result rows (Getters,
//     DocumentExtractor, RawExtractor).
//   - FindPaged, AggregatePaged: read a page from a Mongo collection.
package keypager
