// Package pagination walks the ranked catalog listing page by page.
//
// The listing shows a fixed number of entries per page (100). To collect the
// top n identifiers the fetcher requests pages 1..ceil(n/100) in order, parses
// every row of every page and truncates the concatenation to n.
//
// Example usage:
//
//	fetcher := pagination.NewListingFetcher(bggClient, pagination.DefaultConfig())
//	ids, err := fetcher.Fetch(ctx, 250) // requests pages 1, 2 and 3
//
// The listing fetcher:
//   - Fetches pages sequentially, never in parallel
//   - Retries a page as a unit: transient errors and malformed rows both re-fetch the page
//   - Fails the whole fetch when a page exhausts its retries (no partial listing)
//   - Performs no duplicate suppression
package pagination
