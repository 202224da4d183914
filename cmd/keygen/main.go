// Command keygen mints a fresh member identity: an Ed25519 signing key, an
// X25519 long-term DH key, and a random group id, and prints the roster
// entry an operator adds to every node's roster file plus the private
// material the node itself needs to start.
//
// # Usage
//
//	go run ./cmd/keygen --address=http://10.0.0.2:8090 --leader
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/nblp/dcnet/cmd/common"
	"github.com/nblp/dcnet/group"
)

func main() {
	var (
		address = flag.String("address", "", "HTTP base URL other nodes will reach this member at")
		leader  = flag.Bool("leader", false, "mark this member as the round leader in the roster entry")
	)
	flag.Parse()

	if *address == "" {
		fmt.Println("Error: --address is required")
		os.Exit(1)
	}

	signingKey, err := common.LoadOrGenerateSigningKey("")
	if err != nil {
		fmt.Printf("signing key error: %v\n", err)
		os.Exit(1)
	}
	pubKey, err := signingKey.PublicKey()
	if err != nil {
		fmt.Printf("deriving signing public key error: %v\n", err)
		os.Exit(1)
	}

	dhPub, dhPriv, err := common.LoadOrGenerateDHKey("")
	if err != nil {
		fmt.Printf("dh key error: %v\n", err)
		os.Exit(1)
	}

	id := group.NewID()

	entry := common.RosterEntry{
		ID:      id,
		Key:     pubKey.String(),
		DH:      hex.EncodeToString(dhPub.Bytes()),
		Address: *address,
		Leader:  *leader,
	}
	entryJSON, _ := json.MarshalIndent(entry, "", "  ")

	fmt.Println("# Roster entry (share with every node, append to roster.json):")
	fmt.Println(string(entryJSON))
	fmt.Println()
	fmt.Println("# Private material (keep secret, pass to this node's cmd/node invocation):")
	fmt.Printf("  --signing-key=%s\n", hex.EncodeToString(signingKey.Bytes()))
	fmt.Printf("  --dh-key=%s\n", hex.EncodeToString(dhPriv[:]))
}
