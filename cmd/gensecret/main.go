// Command gensecret prints random secret to sign mycontacts tokens with.
//
//	gensecret --env >> .env
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// HS256 key should be at least as long as the hash output
const minSecretBytes = 32

func main() {
	if err := run(os.Stdout, rand.Reader, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

func run(out io.Writer, random io.Reader, args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	size := fs.IntP("bytes", "n", minSecretBytes, "Secret length in bytes")
	asEnv := fs.Bool("env", false, "Print as SECRET_KEY=<secret> line for .env file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *size < minSecretBytes {
		return fmt.Errorf("secret must be at least %d bytes", minSecretBytes)
	}

	b := make([]byte, *size)
	if _, err := io.ReadFull(random, b); err != nil {
		return err
	}

	secret := hex.EncodeToString(b)
	if *asEnv {
		secret = "SECRET_KEY=" + secret
	}

	_, err := fmt.Fprintln(out, secret)
	return err
}
