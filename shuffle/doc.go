// Package shuffle defines the verifiable-shuffle collaborator a bulk round
// is built against. The shuffle's own design — anonymization technique,
// proof system, number of shuffle servers — is out of scope; this package
// only fixes the interface bulk.Round consumes and ships a deterministic
// in-memory implementation for tests and local demos.
package shuffle
