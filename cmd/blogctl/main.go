package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/blackmichael/blogapp/internal/domain"
	"github.com/blackmichael/blogapp/internal/remote"
)

const usage = `usage: blogctl <command> [flags]

commands:
  signup    create an account
  login     sign in and keep the session for later commands
  logout    end the saved session
  whoami    show the signed-in account
  feed      list posts, optionally watching for changes
  show      print a single post
  create    publish a new post
  edit      edit one of your posts

Run "blogctl <command> -h" for the flags of a command.
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the flags every command accepts.
type globals struct {
	server   string
	email    string
	password string
	session  string
	verbose  bool
}

func (g *globals) register(fs *flag.FlagSet) {
	fs.StringVar(&g.server, "server", envOrDefault("BLOG_API_URL", "http://localhost:3000"), "blog server URL")
	fs.StringVar(&g.email, "email", envOrDefault("BLOG_EMAIL", ""), "account e-mail address")
	fs.StringVar(&g.password, "password", envOrDefault("BLOG_PASSWORD", ""), "account password")
	fs.StringVar(&g.session, "session", envOrDefault("BLOG_SESSION_FILE", defaultSessionPath()), "file the session is kept in between commands")
	fs.BoolVar(&g.verbose, "v", false, "log client activity to stderr")
}

func (g *globals) client() (*remote.Client, error) {
	var handler slog.Handler = slog.NewTextHandler(io.Discard, nil)
	if g.verbose {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return remote.NewClient(g.server, slog.New(handler))
}

func (g *globals) requireCredentials() error {
	if g.email == "" || g.password == "" {
		return errors.New("--email and --password are required (or set BLOG_EMAIL and BLOG_PASSWORD)")
	}
	return nil
}

// signedIn returns a client on the saved session when it is still valid,
// otherwise one logged in with the configured credentials.
func (g *globals) signedIn(ctx context.Context) (*remote.Client, error) {
	c, err := g.client()
	if err != nil {
		return nil, err
	}
	resumed, err := loadSession(g.session, g.server, c)
	if err != nil {
		return nil, err
	}
	if resumed {
		_, err := c.Me(ctx)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, domain.ErrSignedOut) {
			return nil, err
		}
	}
	if err := g.requireCredentials(); err != nil {
		return nil, fmt.Errorf("not signed in: %w", err)
	}
	if _, err := c.Login(ctx, g.email, g.password); err != nil {
		return nil, err
	}
	return c, g.saveSession(c)
}

func (g *globals) saveSession(c *remote.Client) error {
	return saveSession(g.session, g.server, c)
}

type command func(ctx context.Context, g *globals, args []string) error

var commands = map[string]command{
	"signup": runSignUp,
	"login":  runLogin,
	"logout": runLogout,
	"whoami": runWhoAmI,
	"feed":   runFeed,
	"show":   runShow,
	"create": runCreate,
	"edit":   runEdit,
}

func run(args []string) error {
	_ = godotenv.Load()

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(os.Stderr, usage)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cmd(ctx, &globals{}, args[1:])
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
