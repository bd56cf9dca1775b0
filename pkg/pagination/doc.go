// Package pagination walks cursor-paginated CRM list endpoints.
//
// The API returns at most "limit" records per response together with an
// opaque continuation token in paging.next.after. The token is passed back
// verbatim as the "after" query parameter until a response carries none.
//
// Example usage:
//
//	p := pagination.New(crmClient, pagination.DefaultConfig())
//	for rec, err := range p.Records(ctx, "crm/v3/objects/contacts", url.Values{"archived": {"false"}}) {
//		if err != nil {
//			return err
//		}
//		...
//	}
//
// The paginator:
//   - Requests pages one at a time, only as the sequence is consumed
//   - Yields records in server order
//   - Stops with PageLimitError after MaxPages requests that still report a next page
//   - Stops with CursorLoopError when a cursor repeats
package pagination
