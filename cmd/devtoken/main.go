// Command devtoken mints access tokens for local testing and load runs.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iliyamo/concert-ticketing/internal/utils"
)

func main() {
	_ = godotenv.Load()

	var (
		userID = pflag.Uint64P("user", "u", 1, "first user id")
		count  = pflag.IntP("count", "n", 1, "number of consecutive user ids to mint tokens for")
		role   = pflag.StringP("role", "r", "CUSTOMER", "role claim (CUSTOMER or ADMIN)")
		ttl    = pflag.Duration("ttl", time.Hour, "token lifetime")
		secret = pflag.String("secret", os.Getenv("JWT_SECRET"), "HS256 signing secret (defaults to $JWT_SECRET)")
	)
	pflag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "devtoken: no secret, set --secret or JWT_SECRET")
		os.Exit(2)
	}
	if *count < 1 || *userID == 0 {
		fmt.Fprintln(os.Stderr, "devtoken: --user must be positive and --count at least 1")
		os.Exit(2)
	}
	for i := 0; i < *count; i++ {
		uid := *userID + uint64(i)
		tok, err := utils.NewAccessToken(*secret, uid, *role, *ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "devtoken: user %d: %v\n", uid, err)
			os.Exit(1)
		}
		fmt.Printf("%d\t%s\n", uid, tok.Token)
	}
}
