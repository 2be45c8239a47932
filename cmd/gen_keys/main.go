// Command gen_keys generates a server identity key pair and writes it in
// PKCS#1 DER form, for use with the server's RIC_HOME_KEY and RIC_CHAT_KEY
// settings.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"ric/crypto/rsakeys"
)

func main() {
	out := flag.String("out", "server.key", "output file for the private key")
	flag.Parse()

	keys, err := rsakeys.Generate(rsakeys.DefaultSuite)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		os.Exit(1)
	}
	der, err := keys.PrivateKeyDER()
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, der, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%s)\n", *out, keys.FormatName())
	fmt.Printf("public key: %s\n", base64.StdEncoding.EncodeToString(keys.PublicKeyDER()))
}
