// Command gen-token mints HS256 bearer tokens for LOCAL_AUTH_MODE=hs256.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		count  = flag.Int("count", 1, "number of tokens to generate")
		prefix = flag.String("prefix", "focus-user", "prefix for generated user IDs when count > 1")
		start  = flag.Int("start", 1, "starting index for generated user IDs when count > 1")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
		output = flag.String("output", "", "file to write generated tokens as a JSON array")
	)
	flag.Parse()

	if *count < 1 {
		log.Fatal("count must be at least 1")
	}
	if *start < 1 {
		log.Fatal("start index must be at least 1")
	}
	args := flag.Args()
	if len(args) > 0 && *count > 1 {
		log.Fatal("explicit user ID cannot be provided when generating multiple tokens")
	}

	secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
	if secret == "" {
		log.Fatal("LOCAL_AUTH_SHARED_SECRET must be set")
	}
	m := minter{secret: []byte(secret), audience: os.Getenv("AUTH0_AUDIENCE"), ttl: *ttl, now: time.Now}

	tokens, err := m.generate(userIDs(*count, *prefix, *start, args))
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

type minter struct {
	secret   []byte
	audience string
	ttl      time.Duration
	now      func() time.Time
}

func (m minter) token(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("empty user id")
	}
	now := m.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}
	if m.audience != "" {
		claims["aud"] = m.audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m minter) generate(ids []string) ([]string, error) {
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tok, err := m.token(id)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func userIDs(count int, prefix string, start int, args []string) []string {
	if len(args) > 0 {
		return []string{args[0]}
	}
	if count == 1 {
		return []string{prefix}
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, start+i)
	}
	return ids
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
