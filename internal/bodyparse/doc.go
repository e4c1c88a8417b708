// Package bodyparse provides the pipeline stages that decode JSON and
// URL-encoded request bodies.
//
// A stage only acts on requests whose Content-Type it owns and that carry a
// body nobody parsed yet; everything else continues untouched. Client errors
// end the chain: malformed input is 400, an oversized body 413, and an
// unsupported charset or content encoding 415. The decoded value is stored
// with Exchange.SetBody and read back with pipeline.BodyFromContext.
package bodyparse
