package admin

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	gsheet "dosmangos/internal/sheets/google"
)

const authTimeout = 5 * time.Minute

type sheetsAuthCmd struct {
	env  *Env
	port string
}

func (*sheetsAuthCmd) Name() string     { return "sheets-auth" }
func (*sheetsAuthCmd) Synopsis() string { return "authorize Google Sheets export with a user account" }
func (*sheetsAuthCmd) Usage() string {
	return `dosmangos-admin sheets-auth [-port 8085]

  Runs the OAuth consent flow for the client in GOOGLE_OAUTH_CLIENT_JSON or
  GOOGLE_OAUTH_CLIENT_FILE and saves the token to GOOGLE_OAUTH_TOKEN_FILE
  (token.json by default). http://localhost:<port>/callback must be an
  authorized redirect URI of the client.
`
}

func (c *sheetsAuthCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.port, "port", "8085", "local port for the OAuth redirect")
}

func (c *sheetsAuthCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg, err := gsheet.OAuthConfigFromEnv()
	if err != nil {
		return c.env.fail("sheets-auth: %v (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)", err)
	}
	cfg.RedirectURL = "http://localhost:" + c.port + "/callback"

	ln, err := net.Listen("tcp", "localhost:"+c.port)
	if err != nil {
		return c.env.fail("sheets-auth: %v", err)
	}
	state := uuid.NewString()
	codes := make(chan string, 1)
	srv := &http.Server{Handler: callbackHandler(state, codes), ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	fmt.Fprintf(c.env.Out, "Open this URL to authorize:\n%s\n", cfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	tok, err := awaitToken(ctx, cfg, codes)
	if err != nil {
		return c.env.fail("sheets-auth: %v", err)
	}

	path := gsheet.TokenFile()
	if err := gsheet.SaveToken(path, tok); err != nil {
		return c.env.fail("sheets-auth: %v", err)
	}
	fmt.Fprintf(c.env.Out, "Saved token to %s\n", path)
	return subcommands.ExitSuccess
}

// callbackHandler forwards the authorization code of a redirect carrying
// the expected state.
func callbackHandler(state string, codes chan<- string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			http.Error(w, "OAuth error: "+e, http.StatusBadRequest)
			return
		}
		if q.Get("state") != state || q.Get("code") == "" {
			http.Error(w, "invalid callback", http.StatusBadRequest)
			return
		}
		select {
		case codes <- q.Get("code"):
			fmt.Fprintln(w, "You may close this window and return to the terminal.")
		default:
			http.Error(w, "already authorized", http.StatusConflict)
		}
	})
	return mux
}

func awaitToken(ctx context.Context, cfg *oauth2.Config, codes <-chan string) (*oauth2.Token, error) {
	select {
	case code := <-codes:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("token exchange: %w", err)
		}
		return tok, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.New("authorization timed out")
		}
		return nil, ctx.Err()
	}
}
