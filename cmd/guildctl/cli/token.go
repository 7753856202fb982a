package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/guildhall/guildhall/internal/auth"
)

// TokenOptions defines available flags for the token issue command.
type TokenOptions struct {
	UserID     int64
	TTL        time.Duration
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// TokenCLI mints bearer tokens for operators and local testing.
type TokenCLI struct {
	issuer *auth.Issuer
}

// NewTokenCLI constructs the helper from the signing secret.
func NewTokenCLI(secret, issuer string) (*TokenCLI, error) {
	iss, err := auth.NewIssuer(secret, issuer)
	if err != nil {
		return nil, err
	}
	return &TokenCLI{issuer: iss}, nil
}

// IssueCommand prints a signed token for opts.UserID.
func (c *TokenCLI) IssueCommand(opts TokenOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.UserID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "token issue: --user is required and must be positive")
		return 1
	}
	if opts.TTL <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "token issue: --ttl must be positive")
		return 1
	}
	token, err := c.issuer.Issue(opts.UserID, opts.TTL)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token issue: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		expires := time.Now().UTC().Add(opts.TTL).Truncate(time.Second)
		_ = json.NewEncoder(opts.Stdout).Encode(map[string]string{"token": token, "expires_at": expires.Format(time.RFC3339)})
		return 0
	}
	_, _ = fmt.Fprintln(opts.Stdout, token)
	return 0
}
