// Command vaultctl manages the encrypted secrets file read by the file
// secrets backend.
//
// Usage:
//
//	vaultctl [-file secrets.enc] set <name> <value>
//	vaultctl [-file secrets.enc] get <name>
//	vaultctl [-file secrets.enc] delete <name>
//	vaultctl [-file secrets.enc] list
//
// The password is read from ARBBOT_SECRETS_PASSWORD.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/arbbot/internal/crypto"
)

func main() {
	path := flag.String("file", "secrets.enc", "path to the encrypted secrets file")
	flag.Parse()

	_ = godotenv.Load()
	password := os.Getenv("ARBBOT_SECRETS_PASSWORD")
	if password == "" {
		fatal(errors.New("ARBBOT_SECRETS_PASSWORD is not set"))
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	secrets, err := load(*path, password)
	if err != nil {
		fatal(err)
	}

	switch args[0] {
	case "set":
		if len(args) != 3 {
			usage()
		}
		secrets[args[1]] = args[2]
		if err := save(*path, password, secrets); err != nil {
			fatal(err)
		}
	case "get":
		if len(args) != 2 {
			usage()
		}
		v, ok := secrets[args[1]]
		if !ok {
			fatal(fmt.Errorf("%s: not found", args[1]))
		}
		fmt.Println(v)
	case "delete":
		if len(args) != 2 {
			usage()
		}
		delete(secrets, args[1])
		if err := save(*path, password, secrets); err != nil {
			fatal(err)
		}
	case "list":
		names := make([]string, 0, len(secrets))
		for k := range secrets {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Println(n)
		}
	default:
		usage()
	}
}

// load returns an empty map when the file does not exist yet.
func load(path, password string) (map[string]string, error) {
	secrets, err := crypto.LoadSecretsFile(path, password)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	return secrets, err
}

func save(path, password string, secrets map[string]string) error {
	blob, err := crypto.EncryptSecrets(secrets, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vaultctl [-file path] set <name> <value> | get <name> | delete <name> | list")
	os.Exit(2)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "vaultctl: %v\n", err)
	os.Exit(1)
}
