// Generates a throwaway deployer key for local networks and prints it in
// the environment form the deployer reads:
//
//	go run ./scripts > .env.local
package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	fmt.Printf("DEPLOYER_PRIVATE_KEY=0x%x\n", crypto.FromECDSA(key))
	fmt.Printf("# address %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
}
