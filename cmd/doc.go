// Package cmd provides the CLI binaries for running a bulk-round network.
//
// # Commands
//
// keygen: mints a fresh member identity (signing key, long-term DH key,
// group id) and prints the roster entry to share plus the private material
// to pass to node.
//
//	go run ./cmd/keygen --address=http://10.0.0.2:8090 --leader
//
// node: runs a single bulk-round participant as an HTTP service, serving
// the wire transport and status endpoints in package service and starting
// rounds on request.
//
//	go run ./cmd/node --addr=:8090 --roster=roster.json --self=<id> \
//	  --signing-key=<hex> --dh-key=<hex> --data="hello, group"
package cmd
