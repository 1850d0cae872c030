// genkey generates shared-secret credentials for dash's API-key and JWT
// auth paths.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go -id tenant-a -scope ingest,retrieve
//
// Prints a DASH_AUTH_KEYS entry (an "id:secret:scope1|scope2" triple) and a
// DASH_AUTH_JWT_SECRETS entry (a "kid:secret" pair) to stdout, and appends
// both to data/auth_keys.env at mode 0600 so they aren't pasted into shell
// history by accident.
//
// Run once per key you need to provision; each invocation mints fresh random
// secrets and appends a new line. Existing entries in the file are left
// untouched — delete a line by hand to rotate that key.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	id := flag.String("id", "", "key id (required)")
	scopes := flag.String("scope", "ingest,retrieve", "comma-separated scopes")
	dir := flag.String("dir", "data", "output directory")
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "error: -id is required")
		os.Exit(1)
	}
	if strings.ContainsAny(*id, ":,|") {
		fmt.Fprintln(os.Stderr, "error: -id must not contain ':', ',', or '|'")
		os.Exit(1)
	}

	scopeList := strings.Split(*scopes, ",")
	for i := range scopeList {
		scopeList[i] = strings.TrimSpace(scopeList[i])
	}

	apiSecret, err := randomSecret()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate api key secret: %v\n", err)
		os.Exit(1)
	}
	jwtSecret, err := randomSecret()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate jwt secret: %v\n", err)
		os.Exit(1)
	}

	authKeysLine := fmt.Sprintf("%s:%s:%s", *id, apiSecret, strings.Join(scopeList, "|"))
	jwtSecretsLine := fmt.Sprintf("%s:%s", *id, jwtSecret)

	if err := os.MkdirAll(*dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot create %s: %v\n", *dir, err)
		os.Exit(1)
	}

	path := filepath.Join(*dir, "auth_keys.env")
	if err := appendKeyFile(path, *id, authKeysLine, jwtSecretsLine); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("DASH_AUTH_KEYS entry:        %s\n", authKeysLine)
	fmt.Printf("DASH_AUTH_JWT_SECRETS entry: %s\n", jwtSecretsLine)
	fmt.Printf("appended to %s\n", path)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// appendKeyFile appends the new key's entries to path, refusing to append
// a duplicate id so rotating a key requires deliberately editing the file
// rather than silently accumulating stale secrets alongside fresh ones.
func appendKeyFile(path, id, authKeysLine, jwtSecretsLine string) error {
	existing, err := os.ReadFile(path) //nolint:gosec // path is dir+fixed filename, not user input
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}
	prefix := id + ":"
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.HasPrefix(strings.TrimPrefix(line, "DASH_AUTH_KEYS="), prefix) {
			return fmt.Errorf("%s already has an entry for id %q — remove it first if you want to rotate", path, id)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "DASH_AUTH_KEYS=%s\nDASH_AUTH_JWT_SECRETS=%s\n", authKeysLine, jwtSecretsLine); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
